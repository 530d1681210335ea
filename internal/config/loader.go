package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Load reads configuration from a YAML file, applies defaults, and validates it.
// A directory argument is resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes on top of Defaults() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	// Services decode separately so a partial entry keeps its built-in defaults.
	cfg.Services = nil

	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.Services = mergeServiceDefaults(cfg.Services)
	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds a config file by checking standard locations.
// Priority order: $MEDIAFLOW_CONFIG, ./config.yaml, ~/.config/mediaflow/config.yaml, /etc/mediaflow/config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("MEDIAFLOW_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{"./config.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "mediaflow", "config.yaml"))
	}
	candidates = append(candidates, "/etc/mediaflow/config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $MEDIAFLOW_CONFIG, %s)", strings.Join(candidates, ", "))
}

// mergeServiceDefaults overlays configured services onto the built-in table.
// Unknown services must be fully specified; validate rejects them otherwise.
func mergeServiceDefaults(configured map[string]PipelineConfig) map[string]PipelineConfig {
	out := DefaultServices()
	for name, svc := range configured {
		base, known := out[name]
		if !known {
			out[name] = svc
			continue
		}
		if svc.Enabled != nil {
			base.Enabled = svc.Enabled
		}
		if svc.Dispatch != "" {
			base.Dispatch = svc.Dispatch
		}
		if len(svc.Extensions) > 0 {
			base.Extensions = svc.Extensions
		}
		if svc.TerminalPolicy != "" {
			base.TerminalPolicy = svc.TerminalPolicy
		}
		if svc.GraceWindow != 0 {
			base.GraceWindow = svc.GraceWindow
		}
		if svc.StageTimeout != 0 {
			base.StageTimeout = svc.StageTimeout
		}
		if len(svc.StageTimeouts) > 0 {
			base.StageTimeouts = svc.StageTimeouts
		}
		out[name] = base
	}
	return out
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Storage.HistoryPath == "" && cfg.Storage.Root != "" {
		cfg.Storage.HistoryPath = filepath.Join(cfg.Storage.Root, "history.db")
	}
	for name, svc := range cfg.Services {
		svc.Extensions = normalizeExtensions(svc.Extensions)
		if svc.TerminalPolicy == TerminalGrace && svc.GraceWindow == 0 {
			svc.GraceWindow = defaults.Services[ServicePDFReader].GraceWindow
		}
		cfg.Services[name] = svc
	}
	if cfg.Summarizer.APIKey == "" {
		cfg.Summarizer.APIKey = cfg.Vision.APIKey
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.ShutdownGrace <= 0 {
		return fmt.Errorf("service.shutdown_grace must be positive")
	}

	if strings.TrimSpace(cfg.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if cfg.Storage.StagingMaxAge <= 0 {
		return fmt.Errorf("storage.staging_max_age must be positive")
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.MaxUploadBytes <= 0 {
		return fmt.Errorf("api.max_upload_bytes must be positive")
	}

	if cfg.Sessions.Capacity <= 0 {
		return fmt.Errorf("sessions.capacity must be positive")
	}
	if cfg.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	if cfg.Janitor.Interval <= 0 {
		return fmt.Errorf("janitor.interval must be positive")
	}

	enabled := 0
	for name, svc := range cfg.Services {
		if !svc.IsEnabled() {
			continue
		}
		enabled++
		if !serviceNamePattern.MatchString(name) {
			return fmt.Errorf("service %q: name must match %s", name, serviceNamePattern)
		}
		if name != ServicePDFParse && name != ServicePDFReader && name != ServiceVideo {
			return fmt.Errorf("service %q: no pipeline is registered under this name", name)
		}
		if svc.Dispatch != DispatchParallel && svc.Dispatch != DispatchSequential {
			return fmt.Errorf("service %q: dispatch must be %q or %q (got %q)", name, DispatchParallel, DispatchSequential, svc.Dispatch)
		}
		if len(svc.Extensions) == 0 {
			return fmt.Errorf("service %q: extensions must be non-empty", name)
		}
		switch svc.TerminalPolicy {
		case TerminalResetOnRead:
		case TerminalGrace:
			if svc.GraceWindow <= 0 {
				return fmt.Errorf("service %q: grace_window must be positive", name)
			}
		default:
			return fmt.Errorf("service %q: terminal_policy must be %q or %q (got %q)", name, TerminalResetOnRead, TerminalGrace, svc.TerminalPolicy)
		}
		if svc.StageTimeout <= 0 {
			return fmt.Errorf("service %q: stage_timeout must be positive", name)
		}
		for stage, d := range svc.StageTimeouts {
			if d <= 0 {
				return fmt.Errorf("service %q: stage_timeouts.%s must be positive", name, stage)
			}
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one service must be enabled")
	}

	if cfg.PDF.DPI <= 0 {
		return fmt.Errorf("pdf.dpi must be positive")
	}
	if cfg.PDF.JPEGQuality < 1 || cfg.PDF.JPEGQuality > 100 {
		return fmt.Errorf("pdf.jpeg_quality must be between 1 and 100")
	}
	if cfg.PDF.PageConcurrency <= 0 {
		return fmt.Errorf("pdf.page_concurrency must be positive")
	}
	if cfg.Summarizer.MaxInputChars <= 0 {
		return fmt.Errorf("summarizer.max_input_chars must be positive")
	}
	if cfg.Media.SampleRate <= 0 {
		return fmt.Errorf("media.sample_rate must be positive")
	}
	if cfg.Media.MaxSegment <= 0 {
		return fmt.Errorf("media.max_segment must be positive")
	}
	if cfg.Transcriber.SegmentLength <= 0 {
		return fmt.Errorf("transcriber.segment_length must be positive")
	}

	for field, v := range map[string]string{
		"vision.api_key":     cfg.Vision.APIKey,
		"summarizer.api_key": cfg.Summarizer.APIKey,
	} {
		if m := envVarPattern.FindStringSubmatch(v); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}

	return nil
}
