package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/mediaflow/internal/api"
	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/dispatch"
	"github.com/mattjoyce/mediaflow/internal/doctor"
	"github.com/mattjoyce/mediaflow/internal/events"
	"github.com/mattjoyce/mediaflow/internal/extract"
	"github.com/mattjoyce/mediaflow/internal/guard"
	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/inspect"
	"github.com/mattjoyce/mediaflow/internal/janitor"
	"github.com/mattjoyce/mediaflow/internal/llm"
	"github.com/mattjoyce/mediaflow/internal/lock"
	"github.com/mattjoyce/mediaflow/internal/log"
	"github.com/mattjoyce/mediaflow/internal/media"
	"github.com/mattjoyce/mediaflow/internal/pipeline"
	"github.com/mattjoyce/mediaflow/internal/progress"
	"github.com/mattjoyce/mediaflow/internal/session"
	"github.com/mattjoyce/mediaflow/internal/storage"
	"github.com/mattjoyce/mediaflow/internal/tui/watch"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	noun := os.Args[1]
	args := os.Args[2:]

	switch noun {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "job":
		os.Exit(runJobNoun(args))
	case "version":
		fmt.Printf("mediaflow version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown noun: %s\n", noun)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: mediaflow <noun> <action> [flags]

Nouns:
  system    Service lifecycle and monitoring
  config    Configuration inspection
  job       Finished job reports
  version   Show version information
  help      Show this help message

System Actions:
  system start      Start the ingestion service in foreground
  system watch      Live batch and event monitor (TUI)

Config Actions:
  config check      Validate configuration against this host and print its fingerprint
  config show       Print the effective configuration summary
  config get        Read one value by dot path (e.g. services.video.dispatch)

Job Actions:
  job inspect       Show a finished job's outcome and artifacts

Examples:
  mediaflow system start --config ./config.yaml
  mediaflow system watch --url http://127.0.0.1:5000
  mediaflow config check
  mediaflow job inspect 3f6c2a1e-... --json`)
}

func runSystemNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printJobInspectHelp()
			return 0
		}
		return runJobInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		printJobNounHelp(os.Stderr)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: mediaflow system <start|watch> [flags]")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: mediaflow config <check|show|get> [flags]")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: mediaflow job inspect [flags] <job_id>")
}

func printSystemStartHelp() {
	fmt.Println("Usage: mediaflow system start [--config PATH]")
	fmt.Println()
	fmt.Println("Runs the HTTP API, batch workers and janitor until SIGINT or SIGTERM.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: mediaflow system watch [flags]")
	fmt.Println()
	fmt.Println("Live view of batches and lifecycle events.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL    Service URL (default: http://127.0.0.1:5000)")
	fmt.Println("  --all        Request every client's events (server must allow it)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C    Quit")
	fmt.Println("  ↑/↓, k/j     Navigate batches")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: mediaflow config check [--config PATH] [--format human|json]")
}

func printConfigShowHelp() {
	fmt.Println("Usage: mediaflow config show [--config PATH]")
}

func printConfigGetHelp() {
	fmt.Println("Usage: mediaflow config get [--config PATH] <path>")
	fmt.Println()
	fmt.Println("Paths use dot notation (api.listen) or type:name addressing (service:video, service:*).")
	fmt.Println("Secrets are redacted.")
}

// resolveConfigPath returns path, or the discovered default when empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	discovered, err := config.DiscoverConfigPath()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("mediaflow starting", "version", version, "config", path)

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		logger.Error("failed to create storage root", "root", cfg.Storage.Root, "error", err)
		return 1
	}

	if err := storage.CheckStorageRoot(cfg.Storage.Root); err != nil {
		logger.Error("unusable storage root", "error", err)
		return 1
	}

	rootLock, err := lock.AcquireRootLock(cfg.Storage.Root)
	if err != nil {
		logger.Error("failed to acquire storage lock (another instance may be running)", "root", cfg.Storage.Root, "error", err)
		return 1
	}
	defer rootLock.Release()
	logger.Info("acquired storage lock", "path", rootLock.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Storage.HistoryPath)
	if err != nil {
		logger.Error("failed to open history database", "path", cfg.Storage.HistoryPath, "error", err)
		return 1
	}
	defer db.Close()
	hist := history.New(db)

	ws, err := workspace.NewFSManager(cfg.Storage.Root, log.WithComponent("workspace"))
	if err != nil {
		logger.Error("failed to initialize workspace manager", "root", cfg.Storage.Root, "error", err)
		return 1
	}

	hub := events.NewHub(cfg.API.EventBuffer)
	sessions := session.NewRegistry(cfg.Sessions.Capacity, cfg.Sessions.TTL,
		session.WithLogger(log.WithComponent("session")),
		session.WithEvictHook(func(k session.Key) {
			hub.Publish(events.SessionEvicted, k.ClientID, k.Service, nil)
		}),
	)

	policies := make(map[string]progress.Policy, len(cfg.Services))
	for name, svc := range cfg.Services {
		p, err := progress.PolicyFor(svc)
		if err != nil {
			logger.Error("invalid terminal policy", "service", name, "error", err)
			return 1
		}
		policies[name] = p
	}
	reporter := progress.NewReporter(sessions, policies)

	transcriber := guard.New("transcriber", log.WithComponent("guard"))
	pipelines := buildPipelines(cfg, transcriber)
	for _, name := range sortedKeys(pipelines) {
		svc := cfg.Services[name]
		logger.Info("service registered", "service", name, "dispatch", svc.Dispatch,
			"policy", svc.TerminalPolicy, "extensions", strings.Join(svc.Extensions, ","))
	}

	disp := dispatch.New(cfg, sessions, ws, pipelines,
		dispatch.WithEvents(hub),
		dispatch.WithHistory(hist),
		dispatch.WithBaseContext(context.WithoutCancel(ctx)),
	)

	jan := janitor.New(cfg, sessions, ws, hist, log.Get())
	jan.Start(ctx)
	defer jan.Stop()

	server := api.New(api.Config{
		Listen:            cfg.API.Listen,
		TrustProxyHeaders: cfg.API.TrustProxyHeaders,
		CORSOrigins:       cfg.API.CORSOrigins,
		MaxUploadBytes:    cfg.API.MaxUploadBytes,
		ExposeAllEvents:   cfg.API.ExposeAllEvents,
	}, disp, reporter, ws, hist, hub, transcriber, log.WithComponent("api"))

	logger.Info("mediaflow running (press Ctrl+C to stop)",
		"listen", cfg.API.Listen,
		"max_upload", humanize.IBytes(uint64(cfg.API.MaxUploadBytes)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	runErr := g.Wait()
	if runErr != nil {
		logger.Error("component failed", "error", runErr)
	} else {
		logger.Info("received shutdown signal")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Service.ShutdownGrace)
	defer stop()
	if err := disp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("batch workers did not stop within grace period", "grace", cfg.Service.ShutdownGrace, "error", err)
	}

	logger.Info("mediaflow stopped")
	if runErr != nil {
		return 1
	}
	return 0
}

// buildPipelines wires the enabled services to their stage implementations.
func buildPipelines(cfg *config.Config, transcriber *guard.Guard) map[string]pipeline.Pipeline {
	out := make(map[string]pipeline.Pipeline, len(cfg.Services))
	for name, svc := range cfg.Services {
		if !svc.IsEnabled() {
			continue
		}
		switch name {
		case config.ServicePDFParse:
			out[name] = &pipeline.PDFParse{
				Renderer:    extract.FitzRenderer{DPI: cfg.PDF.DPI, Quality: cfg.PDF.JPEGQuality},
				Analyzer:    llm.NewVisionAnalyzer(llm.NewClient(cfg.Vision), cfg.Vision.Prompt),
				Concurrency: cfg.PDF.PageConcurrency,
			}
		case config.ServicePDFReader:
			out[name] = &pipeline.DocReader{
				Extractor:     extract.New(),
				Summarizer:    llm.NewSummarizer(llm.NewClient(cfg.Summarizer.LLMConfig), cfg.Summarizer.Prompt),
				MaxInputChars: cfg.Summarizer.MaxInputChars,
			}
		case config.ServiceVideo:
			out[name] = &pipeline.Video{
				Audio: &media.FFmpeg{
					Bin:        cfg.Media.FFmpegBin,
					ProbeBin:   cfg.Media.FFprobeBin,
					SampleRate: cfg.Media.SampleRate,
					MaxSegment: cfg.Media.MaxSegment,
					Filter:     cfg.Media.AudioFilter,
					Runner:     media.ExecRunner{},
				},
				Transcriber: &media.Whisper{
					Bin:       cfg.Transcriber.WhisperBin,
					ModelPath: cfg.Transcriber.ModelPath,
					Language:  cfg.Transcriber.Language,
					Threads:   cfg.Transcriber.Threads,
					Runner:    media.ExecRunner{},
				},
				Guard:         transcriber,
				SegmentLength: cfg.Transcriber.SegmentLength,
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("url", envOr("MEDIAFLOW_URL", "http://127.0.0.1:5000"), "Service URL")
	all := fs.Bool("all", false, "Request every client's events")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *all), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	format := fs.String("format", "human", "Output format: human or json")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *format != "human" && *format != "json" {
		fmt.Fprintf(os.Stderr, "Invalid format %q (want human or json)\n", *format)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	file := configFile(path)

	var result *doctor.Result
	cfg, err := config.Load(path)
	if err != nil {
		result = doctor.Invalid(err)
	} else {
		result = doctor.New(cfg).Validate()
	}
	hash, hashErr := config.ComputeBlake3Hash(file)
	if hashErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to fingerprint config: %v\n", hashErr)
		return 1
	}

	result.Path = file
	result.Blake3 = hash

	if *format == "json" {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	fmt.Printf("storage.root:     %s\n", cfg.Storage.Root)
	fmt.Printf("storage.history:  %s\n", cfg.Storage.HistoryPath)
	fmt.Printf("api.listen:       %s\n", cfg.API.Listen)
	fmt.Printf("api.max_upload:   %s\n", humanize.IBytes(uint64(cfg.API.MaxUploadBytes)))
	fmt.Printf("sessions:         capacity=%d ttl=%s\n", cfg.Sessions.Capacity, cfg.Sessions.TTL)
	fmt.Println("services:")
	for _, name := range sortedKeys(cfg.Services) {
		svc := cfg.Services[name]
		state := "enabled"
		if !svc.IsEnabled() {
			state = "disabled"
		}
		fmt.Printf("  %-12s %-8s dispatch=%s policy=%s extensions=%s\n",
			name, state, svc.Dispatch, svc.TerminalPolicy, strings.Join(svc.Extensions, ","))
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Expected exactly one path argument")
		printConfigGetHelp()
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	out, err := yaml.Marshal(val)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render value: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func printJobInspectHelp() {
	fmt.Println("Usage: mediaflow job inspect [--config PATH] [--json] <job_id>")
	fmt.Println()
	fmt.Println("Reads the job history database and the client's persistent area.")
}

func runJobInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	asJSON := fs.Bool("json", false, "Emit JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Expected exactly one job id")
		printJobInspectHelp()
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Storage.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history database: %v\n", err)
		return 1
	}
	defer db.Close()

	ws, err := workspace.NewFSManager(cfg.Storage.Root, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage root: %v\n", err)
		return 1
	}

	build := inspect.BuildReport
	if *asJSON {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, history.New(db), ws, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// configFile maps a config directory to the config.yaml inside it.
func configFile(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, "config.yaml")
	}
	return path
}
