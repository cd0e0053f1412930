package app

import (
	"fmt"
	"os"
	"strings"
)

const (
	defaultBaseBranch     = "main"
	defaultForkRemote     = "origin"
	defaultUpstreamRemote = "upstream"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// Config captures runtime options sourced from CLI flags and environment
// variables.
type Config struct {
	BaseBranch     string
	ForkRemote     string
	UpstreamRemote string
	Prefix         string

	Draft     bool
	NoMerge   bool
	AutoMerge bool
	DryRun    bool

	Verbose   bool
	Quiet     bool
	LogFormat string

	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string
}

// LoadConfig applies defaults and environment-sourced values to flag-parsed
// options, then validates the result.
func LoadConfig(cfg Config) (Config, error) {
	cfg.BaseBranch = strings.TrimSpace(cfg.BaseBranch)
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = defaultBaseBranch
	}

	cfg.ForkRemote = strings.TrimSpace(cfg.ForkRemote)
	if cfg.ForkRemote == "" {
		cfg.ForkRemote = defaultForkRemote
	}

	cfg.UpstreamRemote = strings.TrimSpace(cfg.UpstreamRemote)
	if cfg.UpstreamRemote == "" {
		cfg.UpstreamRemote = defaultUpstreamRemote
	}

	// An explicit prefix always ends with a separator so generated branch
	// names read as namespaced refs. An empty prefix is resolved later from
	// the authenticated user's login.
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}

	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}

	if cfg.GitHubToken == "" {
		cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}
	if cfg.GitHubBaseURL == "" {
		cfg.GitHubBaseURL = strings.TrimSpace(os.Getenv("GITHUB_BASE_URL"))
	}
	if cfg.GitHubUploadURL == "" {
		cfg.GitHubUploadURL = strings.TrimSpace(os.Getenv("GITHUB_UPLOAD_URL"))
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Verbose && c.Quiet {
		return fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}

	if c.GitHubToken == "" && !c.DryRun {
		return fmt.Errorf("github token is required (set GITHUB_TOKEN)")
	}

	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return fmt.Errorf("GITHUB_BASE_URL and GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	return nil
}

// LogLevel maps the verbosity flags onto a slog level name.
func (c Config) LogLevel() string {
	switch {
	case c.Verbose:
		return "debug"
	case c.Quiet:
		return "warn"
	default:
		return defaultLogLevel
	}
}
