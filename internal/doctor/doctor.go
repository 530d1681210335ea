// Package doctor checks a loaded configuration against the host it will run
// on: external binaries, model files, credentials and settings that are
// valid on their own but work against each other.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	// Path and Blake3 identify the checked file when the caller sets them.
	Path   string `json:"path,omitempty"`
	Blake3 string `json:"blake3,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	checkFS  func(string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, stat: os.Stat, checkFS: storage.CheckStorageRoot}
}

// Invalid wraps a configuration load error as a failed Result.
func Invalid(err error) *Result {
	return &Result{
		Valid:  false,
		Errors: []Issue{{Category: "config", Message: err.Error()}},
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStorage(r)
	d.validatePrompts(r)
	d.checkMediaTools(r)
	d.warnMissingCredentials(r)
	d.warnStagingAge(r)
	d.warnExposure(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) enabled(service string) bool {
	svc, ok := d.cfg.Services[service]
	return ok && svc.IsEnabled()
}

// validateStorage checks the storage root is a directory on local disk.
func (d *Doctor) validateStorage(r *Result) {
	info, err := d.stat(d.cfg.Storage.Root)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "storage", "storage.root", fmt.Sprintf("%s does not exist yet; it will be created on start", d.cfg.Storage.Root))
	case err != nil:
		d.addError(r, "storage", "storage.root", err.Error())
		return
	case !info.IsDir():
		d.addError(r, "storage", "storage.root", fmt.Sprintf("%s is not a directory", d.cfg.Storage.Root))
		return
	}
	if err := d.checkFS(d.cfg.Storage.Root); err != nil {
		d.addError(r, "storage", "storage.root", err.Error())
	}
}

// validatePrompts rejects prompt overrides with more than one file name verb.
func (d *Doctor) validatePrompts(r *Result) {
	for field, prompt := range map[string]string{
		"vision.prompt":     d.cfg.Vision.Prompt,
		"summarizer.prompt": d.cfg.Summarizer.Prompt,
	} {
		if n := strings.Count(prompt, "%s"); n > 1 {
			d.addError(r, "prompt", field, fmt.Sprintf("prompt may contain at most one %%s (found %d)", n))
		}
	}
}

// checkMediaTools looks for the video pipeline's external programs.
func (d *Doctor) checkMediaTools(r *Result) {
	if !d.enabled(config.ServiceVideo) {
		return
	}
	bins := map[string]string{
		"media.ffmpeg_bin":        d.cfg.Media.FFmpegBin,
		"media.ffprobe_bin":       d.cfg.Media.FFprobeBin,
		"transcriber.whisper_bin": d.cfg.Transcriber.WhisperBin,
	}
	fields := make([]string, 0, len(bins))
	for f := range bins {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if _, err := d.lookPath(bins[field]); err != nil {
			d.addWarning(r, "media", field, fmt.Sprintf("%q not found on PATH; video jobs will fail", bins[field]))
		}
	}
	if _, err := d.stat(d.cfg.Transcriber.ModelPath); err != nil {
		d.addWarning(r, "media", "transcriber.model_path", fmt.Sprintf("model %s is not readable; video jobs will fail", d.cfg.Transcriber.ModelPath))
	}
}

// warnMissingCredentials flags enabled LLM-backed services without a key.
func (d *Doctor) warnMissingCredentials(r *Result) {
	if d.enabled(config.ServicePDFParse) && d.cfg.Vision.APIKey == "" {
		d.addWarning(r, "credentials", "vision.api_key", "pdf_parse is enabled but no API key is set")
	}
	if d.enabled(config.ServicePDFReader) && d.cfg.Summarizer.APIKey == "" {
		d.addWarning(r, "credentials", "summarizer.api_key", "pdf_reader is enabled but no API key is set")
	}
}

// warnStagingAge flags a staging max age the janitor could apply to
// directories of jobs that are still running.
func (d *Doctor) warnStagingAge(r *Result) {
	var longest time.Duration
	var owner string
	for name, svc := range d.cfg.Services {
		if !svc.IsEnabled() {
			continue
		}
		limits := []time.Duration{svc.StageTimeout}
		for _, t := range svc.StageTimeouts {
			limits = append(limits, t)
		}
		for _, t := range limits {
			if t > longest || (t == longest && name < owner) {
				longest, owner = t, name
			}
		}
	}
	if longest > 0 && d.cfg.Storage.StagingMaxAge <= longest {
		d.addWarning(r, "storage", "storage.staging_max_age",
			fmt.Sprintf("%s is not longer than the %s stage timeout of %s; the janitor may purge running jobs", d.cfg.Storage.StagingMaxAge, longest, owner))
	}
}

// warnExposure flags settings that widen what a remote client can see.
func (d *Doctor) warnExposure(r *Result) {
	loopback := isLoopback(d.cfg.API.Listen)
	if d.cfg.API.TrustProxyHeaders && !loopback {
		d.addWarning(r, "api", "api.trust_proxy_headers",
			"client identity is read from X-Forwarded-For on a non-loopback listener; clients can impersonate each other")
	}
	if d.cfg.API.ExposeAllEvents {
		d.addWarning(r, "api", "api.expose_all_events", "any client may request every client's events")
	}
	if len(d.cfg.API.CORSOrigins) == 1 && d.cfg.API.CORSOrigins[0] == "*" && !loopback {
		d.addWarning(r, "api", "api.cors_origins", "wildcard CORS origin on a non-loopback listener")
	}
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		writeSource(&b, r)
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}
	writeSource(&b, r)

	return b.String()
}

func writeSource(b *strings.Builder, r *Result) {
	if r.Path != "" {
		fmt.Fprintf(b, "  path:   %s\n", r.Path)
	}
	if r.Blake3 != "" {
		fmt.Fprintf(b, "  blake3: %s\n", r.Blake3)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
