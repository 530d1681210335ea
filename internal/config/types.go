package config

import "time"

// Config represents the complete mediaflow configuration.
type Config struct {
	Service     ServiceConfig             `yaml:"service"`
	Storage     StorageConfig             `yaml:"storage"`
	API         APIConfig                 `yaml:"api"`
	Sessions    SessionsConfig            `yaml:"sessions"`
	Janitor     JanitorConfig             `yaml:"janitor"`
	Services    map[string]PipelineConfig `yaml:"services"`
	PDF         PDFConfig                 `yaml:"pdf"`
	Vision      LLMConfig                 `yaml:"vision"`
	Summarizer  SummarizerConfig          `yaml:"summarizer"`
	Media       MediaConfig               `yaml:"media"`
	Transcriber TranscriberConfig         `yaml:"transcriber"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name          string        `yaml:"name"`
	LogLevel      string        `yaml:"log_level"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// StorageConfig locates the staging and persistent trees.
type StorageConfig struct {
	Root             string        `yaml:"root"`
	HistoryPath      string        `yaml:"history_path"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	StagingMaxAge    time.Duration `yaml:"staging_max_age"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen            string   `yaml:"listen"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	CORSOrigins       []string `yaml:"cors_origins"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
	ExposeAllEvents   bool     `yaml:"expose_all_events"`
	EventBuffer       int      `yaml:"event_buffer"`
}

// SessionsConfig bounds the in-memory client session registry.
type SessionsConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// JanitorConfig controls the background sweep.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PipelineConfig configures one ingestion service.
type PipelineConfig struct {
	Enabled        *bool                    `yaml:"enabled,omitempty"`
	Dispatch       string                   `yaml:"dispatch"` // parallel | sequential
	Extensions     []string                 `yaml:"extensions"`
	TerminalPolicy string                   `yaml:"terminal_policy"` // reset_on_read | grace
	GraceWindow    time.Duration            `yaml:"grace_window,omitempty"`
	StageTimeout   time.Duration            `yaml:"stage_timeout"`
	StageTimeouts  map[string]time.Duration `yaml:"stage_timeouts,omitempty"`
}

// PDFConfig controls page rendering.
type PDFConfig struct {
	DPI             float64 `yaml:"dpi"`
	JPEGQuality     int     `yaml:"jpeg_quality"`
	PageConcurrency int     `yaml:"page_concurrency"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Prompt     string        `yaml:"prompt,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SummarizerConfig adds summarization limits to the LLM settings.
type SummarizerConfig struct {
	LLMConfig     `yaml:",inline"`
	MaxInputChars int `yaml:"max_input_chars"`
}

// MediaConfig configures ffmpeg audio preparation.
type MediaConfig struct {
	FFmpegBin   string        `yaml:"ffmpeg_bin"`
	FFprobeBin  string        `yaml:"ffprobe_bin"`
	SampleRate  int           `yaml:"sample_rate"`
	MaxSegment  time.Duration `yaml:"max_segment"`
	AudioFilter string        `yaml:"audio_filter"`
}

// TranscriberConfig configures whisper.cpp.
type TranscriberConfig struct {
	WhisperBin    string        `yaml:"whisper_bin"`
	ModelPath     string        `yaml:"model_path"`
	Language      string        `yaml:"language"`
	Threads       int           `yaml:"threads"`
	SegmentLength time.Duration `yaml:"segment_length"`
}

const (
	DispatchParallel   = "parallel"
	DispatchSequential = "sequential"

	TerminalResetOnRead = "reset_on_read"
	TerminalGrace       = "grace"
)

// Service names known to the built-in pipelines.
const (
	ServicePDFParse  = "pdf_parse"
	ServicePDFReader = "pdf_reader"
	ServiceVideo     = "video"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "mediaflow",
			LogLevel:      "info",
			ShutdownGrace: 10 * time.Second,
		},
		Storage: StorageConfig{
			Root:             "./data",
			HistoryRetention: 30 * 24 * time.Hour,
			StagingMaxAge:    24 * time.Hour,
		},
		API: APIConfig{
			Listen:            "127.0.0.1:5000",
			TrustProxyHeaders: true,
			MaxUploadBytes:    2 << 30,
			EventBuffer:       256,
		},
		Sessions: SessionsConfig{
			Capacity: 1024,
			TTL:      24 * time.Hour,
		},
		Janitor: JanitorConfig{
			Interval: 5 * time.Minute,
		},
		Services: DefaultServices(),
		PDF: PDFConfig{
			DPI:             150,
			JPEGQuality:     85,
			PageConcurrency: 2,
		},
		Vision: LLMConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "qwen/qwen2.5-vl-72b-instruct",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
		Summarizer: SummarizerConfig{
			LLMConfig: LLMConfig{
				BaseURL:    "https://openrouter.ai/api/v1",
				Model:      "deepseek/deepseek-chat",
				Timeout:    5 * time.Minute,
				MaxRetries: 3,
			},
			MaxInputChars: 100000,
		},
		Media: MediaConfig{
			FFmpegBin:   "ffmpeg",
			FFprobeBin:  "ffprobe",
			SampleRate:  16000,
			MaxSegment:  300 * time.Second,
			AudioFilter: "afftdn=nf=-25,loudnorm=I=-16:TP=-1.5:LRA=11",
		},
		Transcriber: TranscriberConfig{
			WhisperBin:    "whisper-cli",
			ModelPath:     "./models/ggml-base.bin",
			Language:      "auto",
			Threads:       4,
			SegmentLength: 30 * time.Second,
		},
	}
}

// DefaultServices returns the built-in service table.
func DefaultServices() map[string]PipelineConfig {
	return map[string]PipelineConfig{
		ServicePDFParse: {
			Enabled:        boolPtr(true),
			Dispatch:       DispatchParallel,
			Extensions:     []string{"pdf"},
			TerminalPolicy: TerminalResetOnRead,
			StageTimeout:   30 * time.Minute,
		},
		ServicePDFReader: {
			Enabled:        boolPtr(true),
			Dispatch:       DispatchParallel,
			Extensions:     []string{"pdf", "docx", "xlsx", "pptx", "txt", "md", "csv", "srt"},
			TerminalPolicy: TerminalGrace,
			GraceWindow:    2 * time.Second,
			StageTimeout:   10 * time.Minute,
		},
		ServiceVideo: {
			Enabled:        boolPtr(true),
			Dispatch:       DispatchSequential,
			Extensions:     []string{"mp4", "avi", "mov", "mkv", "wmv", "flv"},
			TerminalPolicy: TerminalGrace,
			GraceWindow:    2 * time.Second,
			StageTimeout:   2 * time.Hour,
		},
	}
}

// IsEnabled reports whether the service is mounted; unset means enabled.
func (p PipelineConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func boolPtr(v bool) *bool { return &v }

// Timeout returns the deadline for a named stage, falling back to StageTimeout.
func (p PipelineConfig) Timeout(stage string) time.Duration {
	if d, ok := p.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return p.StageTimeout
}
