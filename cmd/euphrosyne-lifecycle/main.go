package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/betagouv/euphrosyne-tools-api/internal/api"
	"github.com/betagouv/euphrosyne-tools-api/internal/azcopy"
	"github.com/betagouv/euphrosyne-tools-api/internal/callback"
	"github.com/betagouv/euphrosyne-tools-api/internal/config"
	"github.com/betagouv/euphrosyne-tools-api/internal/doctor"
	"github.com/betagouv/euphrosyne-tools-api/internal/lifecycle"
	"github.com/betagouv/euphrosyne-tools-api/internal/log"
	"github.com/betagouv/euphrosyne-tools-api/internal/sas"
	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// shutdownTimeout bounds the wait for in-flight operations on exit.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(args)
	case "location":
		return runLocationNoun(args)
	case "job":
		return runJobNoun(args)

	// --- ROOT ALIASES ---
	case "serve", "start":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: euphrosyne-lifecycle version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("euphrosyne-lifecycle %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`euphrosyne-lifecycle - Moves project data between hot and cool storage with azcopy

Usage:
  euphrosyne-lifecycle <noun> <action> [flags]

Commands:
  serve                   Start the HTTP service in foreground
  config check            Validate configuration and environment
  config show             Print the effective configuration (secrets masked)
  location resolve <id>   Show where a project lives in each tier
  job show <job-id>       Query an azcopy job
  version                 Show version information
  help                    Show this help message

Configuration is read from --config, $EUPHROSYNE_LIFECYCLE_CONFIG_DIR,
~/.config/euphrosyne-lifecycle, /etc/euphrosyne-lifecycle or ./config.yaml,
falling back to environment variables. A .env file in the working
directory is loaded first.
`)
}

// --- NOUN DISPATCHERS ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
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
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runLocationNoun(args []string) int {
	if len(args) < 1 {
		printLocationNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printLocationNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "resolve":
		if hasHelpFlag(args[1:]) {
			printLocationResolveHelp()
			return 0
		}
		return runLocationResolve(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown location action: %s\n", args[0])
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "show":
		if hasHelpFlag(args[1:]) {
			printJobShowHelp()
			return 0
		}
		return runJobShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printServeHelp() {
	fmt.Println("Usage: euphrosyne-lifecycle serve [--config PATH]")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: euphrosyne-lifecycle config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: euphrosyne-lifecycle config check [--config PATH] [--json]")
}

func printConfigShowHelp() {
	fmt.Println("Usage: euphrosyne-lifecycle config show [--config PATH]")
}

func printLocationNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: euphrosyne-lifecycle location <action>")
	fmt.Fprintln(w, "Actions: resolve")
}

func printLocationResolveHelp() {
	fmt.Println("Usage: euphrosyne-lifecycle location resolve <project-id> [--config PATH] [--json]")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: euphrosyne-lifecycle job <action>")
	fmt.Fprintln(w, "Actions: show")
}

func printJobShowHelp() {
	fmt.Println("Usage: euphrosyne-lifecycle job show <job-id> [--config PATH]")
}

// loadConfig loads .env then the configuration, discovering it when path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, err
	}
	return config.Resolve(path)
}

// parseWithPositional parses flags that may appear before or after a single
// positional argument.
func parseWithPositional(fs *flag.FlagSet, args []string) (string, error) {
	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return "", err
		}
		args = fs.Args()
		if len(args) > 0 {
			positional = append(positional, args[0])
			args = args[1:]
		}
	}
	if len(positional) != 1 {
		return "", fmt.Errorf("expected exactly one argument, got %d", len(positional))
	}
	return positional[0], nil
}

// --- ACTIONS ---

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
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

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	masked := *cfg
	masked.Storage.AccountKey = mask(cfg.Storage.AccountKey)
	masked.API.Auth.APIKey = mask(cfg.API.Auth.APIKey)
	masked.API.Auth.JWTSecret = mask(cfg.API.Auth.JWTSecret)
	masked.Callback.JWTSecret = mask(cfg.Callback.JWTSecret)
	masked.Callback.SigningSecret = mask(cfg.Callback.SigningSecret)
	masked.API.Auth.Tokens = make([]config.APIToken, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		masked.API.Auth.Tokens[i] = config.APIToken{Token: mask(t.Token), Scopes: t.Scopes}
	}

	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		fingerprint = "unavailable"
	}
	data, err := json.MarshalIndent(map[string]any{
		"source":      cfg.SourceFile,
		"fingerprint": fingerprint,
		"config":      masked,
	}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

type locationView struct {
	Role      storage.Role    `json:"role"`
	Backend   storage.Backend `json:"backend,omitempty"`
	Container string          `json:"container,omitempty"`
	URI       string          `json:"uri,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func runLocationResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	projectID, err := parseWithPositional(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: euphrosyne-lifecycle location resolve <project-id> (%v)\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if err := storage.ValidateProjectID(projectID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	resolver := storage.NewResolver(cfg.StorageConfig())
	views := make([]locationView, 0, 2)
	code := 0
	for _, role := range []storage.Role{storage.RoleHot, storage.RoleCool} {
		loc, err := resolver.Resolve(role, projectID)
		if err != nil {
			views = append(views, locationView{Role: role, Error: err.Error()})
			code = 1
			continue
		}
		views = append(views, locationView{Role: role, Backend: loc.Backend, Container: loc.Container, URI: loc.URI})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(views, "", "  ")
		fmt.Println(string(data))
		return code
	}
	for _, v := range views {
		if v.Error != "" {
			fmt.Printf("%-5s error: %s\n", v.Role, v.Error)
			continue
		}
		fmt.Printf("%-5s %s %s\n", v.Role, v.Backend, v.URI)
	}
	return code
}

type jobView struct {
	JobID   string          `json:"job_id"`
	State   azcopy.State    `json:"state"`
	Raw     string          `json:"raw_status,omitempty"`
	Percent *float64        `json:"percent_complete,omitempty"`
	Summary *azcopy.Summary `json:"summary,omitempty"`
}

func runJobShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jobID, err := parseWithPositional(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: euphrosyne-lifecycle job show <job-id> (%v)\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	runner := azcopy.New(cfg.AzCopyConfig())
	progress, err := runner.Poll(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, azcopy.ErrJobNotFound) {
			return 2
		}
		return 1
	}

	view := jobView{JobID: jobID, State: progress.State, Raw: progress.RawStatus}
	if progress.HasPercent {
		view.Percent = &progress.PercentComplete
	}
	if progress.State.Terminal() {
		summary, err := runner.Summary(ctx, jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		summary.RawSummary = ""
		view.Summary = &summary
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render job: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		logger.Warn("config fingerprint unavailable", "error", err)
	}
	info := currentVersionInfo()
	logger.Info("euphrosyne-lifecycle starting",
		"version", info.Version,
		"commit", info.Commit,
		"config", cfg.SourceFile,
		"config_fingerprint", fingerprint,
	)

	runner := azcopy.New(cfg.AzCopyConfig())
	notifier := callback.New(cfg.CallbackConfig(), log.WithComponent("callback"))
	if notifier.URL() == "" {
		logger.Warn("no backend url configured, operation outcomes will only be logged")
	}
	supervisor := lifecycle.NewSupervisor(cfg.Lifecycle.MaxConcurrent, log.WithComponent("supervisor"))
	orchestrator := lifecycle.New(lifecycle.Deps{
		Registry:   lifecycle.NewRegistry(),
		Supervisor: supervisor,
		Resolver:   storage.NewResolver(cfg.StorageConfig()),
		Signer:     sas.New(cfg.Storage.Account, cfg.Storage.AccountKey, cfg.Storage.SASTTL),
		Runner:     runner,
		Notifier:   notifier,
		Logger:     log.WithComponent("lifecycle"),
	}, cfg.LifecycleConfig())
	logger.Info("azcopy runner ready", "path", cfg.AzCopy.Path, "work_dir", runner.WorkDir(), "log_dir", runner.LogDir())

	apiServer := api.New(api.Config{
		Listen:  cfg.API.Listen,
		Auth:    cfg.AuthConfig(),
		Version: info.Version,
	}, orchestrator, log.WithComponent("api"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("euphrosyne-lifecycle running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := supervisor.Stop(shutdownCtx); err != nil {
		logger.Warn("operations still running at shutdown", "active", supervisor.Active(), "error", err)
	}

	logger.Info("euphrosyne-lifecycle stopped")
	return code
}
