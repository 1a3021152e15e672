package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/zika/internal/api"
	"github.com/mattjoyce/zika/internal/config"
	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/doctor"
	"github.com/mattjoyce/zika/internal/executor"
	"github.com/mattjoyce/zika/internal/lock"
	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/queue"
	"github.com/mattjoyce/zika/internal/registry"
	"github.com/mattjoyce/zika/internal/tui/watch"
)

const redacted = "********"

// resolveConfigPath returns configPath, or the first discovered config.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigPath()
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "v", false, "Print each file hash")
	fs.BoolVar(&verbose, "verbose", false, "Print each file hash")
	fs.BoolVar(&dryRun, "dry-run", false, "Compute hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	files, err := config.SourceFiles(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	report, err := config.Lock(files, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	if verbose {
		for _, f := range report.Files {
			fmt.Printf("  %s  %s\n", f.Hash, f.Path)
		}
	}
	if !report.Written {
		fmt.Printf("Dry-run: %d file(s) hashed, nothing written\n", len(report.Files))
		return 0
	}
	for _, p := range report.ChecksumPaths {
		fmt.Printf("Wrote %s\n", p)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	cfg = redactSecrets(cfg)

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	var path string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if path == "" && fs.NArg() == 1 {
		path = fs.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: zika config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	val, err := redactSecrets(cfg).GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	switch v := val.(type) {
	case string, bool, int, float64:
		fmt.Println(v)
	default:
		data, _ := yaml.Marshal(v)
		fmt.Print(string(data))
	}
	return 0
}

// redactSecrets returns a copy of cfg with credentials masked.
func redactSecrets(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Broker.Password != "" {
		out.Broker.Password = redacted
	}
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = redacted
	}
	out.API.Auth.Tokens = make([]config.APIToken, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		t.Token = redacted
		out.API.Auth.Tokens[i] = t
	}
	return &out
}

func runActionList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	reg := registry.New(cfg.Commands)

	if *jsonOut {
		infos := make([]api.CommandInfo, 0, reg.Len())
		for _, a := range reg.All() {
			info := api.CommandInfo{Alias: a.Alias, Command: a.Command}
			if a.Button != nil {
				info.Name, info.Icon = a.Button.Name, a.Button.Icon
			}
			infos = append(infos, info)
		}
		data, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	for _, a := range reg.All() {
		name := ""
		if a.Button != nil {
			name = fmt.Sprintf(" (%s)", a.Button.Name)
		}
		fmt.Printf("%s%s\n    %s\n", a.Alias, name, a.Command)
	}
	return 0
}

// lastResult keeps the most recent completion.
type lastResult struct {
	dispatch.NopObserver
	res dispatch.Result
}

func (l *lastResult) ActionCompleted(_ queue.Request, res dispatch.Result) { l.res = res }

func runActionRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")

	// Allow the alias before or after flags.
	var alias string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		alias, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if alias == "" && fs.NArg() == 1 {
		alias = fs.Arg(0)
	}
	if alias == "" {
		fmt.Fprintln(os.Stderr, "Usage: zika action run <alias> [--config PATH]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	action, ok := registry.New(cfg.Commands).Lookup(alias)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown alias: %s\n", alias)
		return 1
	}

	logger := log.New(os.Stderr, "warn", "text")
	exec, err := executor.New(cfg.Executor, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Executor error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	last := &lastResult{}
	d := dispatch.New(exec, dispatch.WithLogger(logger), dispatch.WithObserver(last))
	d.Enqueue(action.Alias, action.Command)
	if err := d.Wait(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(shutdownCtx)
	}

	res := last.res
	fmt.Printf("alias:    %s\n", action.Alias)
	fmt.Printf("executor: %s\n", exec.Name())
	fmt.Printf("outcome:  %s\n", res.Outcome)
	fmt.Printf("exit:     %d\n", res.ExitCode)
	fmt.Printf("duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.TimedOut {
		fmt.Println("timed out")
	}
	if e := res.ErrString(); e != "" {
		fmt.Printf("error:    %s\n", e)
	}
	if res.Stdout != "" {
		fmt.Printf("--- stdout ---\n%s", res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Printf("--- stderr ---\n%s", res.Stderr)
	}

	if res.Outcome != dispatch.OutcomeSucceeded {
		return 1
	}
	return 0
}

type systemStatus struct {
	Running bool                 `json:"running"`
	PID     int                  `json:"pid,omitempty"`
	PIDFile string               `json:"pid_file"`
	APIURL  string               `json:"api_url,omitempty"`
	Health  *api.HealthzResponse `json:"health,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	st := collectStatus(cfg)
	if *jsonOut {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
	} else {
		printStatus(st)
	}

	if !st.Running || st.Error != "" {
		return 1
	}
	return 0
}

func collectStatus(cfg *config.Config) systemStatus {
	st := systemStatus{PIDFile: cfg.Service.PIDFile}

	held, err := lock.Held(cfg.Service.PIDFile)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Running = held
	if pid, err := lock.ReadPID(cfg.Service.PIDFile); err == nil && held {
		st.PID = pid
	}
	if !held || !cfg.API.Enabled {
		return st
	}

	st.APIURL = apiBaseURL(cfg)
	health, err := fetchHealthz(st.APIURL)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Health = health
	return st
}

func printStatus(st systemStatus) {
	if !st.Running {
		fmt.Printf("zika is not running (no lock held on %s)\n", st.PIDFile)
		return
	}
	fmt.Printf("zika is running (pid %d)\n", st.PID)
	if st.Error != "" {
		fmt.Printf("  health check failed: %s\n", st.Error)
		return
	}
	if h := st.Health; h != nil {
		fmt.Printf("  uptime:    %s\n", time.Duration(h.UptimeSeconds)*time.Second)
		fmt.Printf("  executor:  %s\n", h.Executor)
		fmt.Printf("  broker:    %s\n", connectedWord(h.BrokerConnected))
		fmt.Printf("  queue:     %d pending\n", h.QueueDepth)
		if h.Current != nil {
			fmt.Printf("  running:   %s\n", h.Current.Alias)
		}
		fmt.Printf("  commands:  %d\n", h.CommandsLoaded)
	}
}

func connectedWord(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

// apiBaseURL is the URL a local client uses to reach the daemon's API.
func apiBaseURL(cfg *config.Config) string {
	host := cfg.API.Address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if cfg.API.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(cfg.API.ListenPort())))
}

func fetchHealthz(baseURL string) (*api.HealthzResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("healthz: %s", resp.Status)
	}
	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode healthz: %w", err)
	}
	return &h, nil
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (to derive the API URL)")
	apiURL := fs.String("api-url", "", "zika API URL")
	apiKey := fs.String("api-key", os.Getenv("ZIKA_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiURL == "" || *apiKey == "" {
		cfg, err := loadConfigForTool(*configPath)
		switch {
		case err == nil:
			if *apiURL == "" {
				*apiURL = apiBaseURL(cfg)
			}
			if *apiKey == "" {
				*apiKey = cfg.API.Auth.APIKey
			}
		case *apiURL == "" && !errors.Is(err, config.ErrNoConfig):
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return 1
		}
	}
	if *apiURL == "" {
		*apiURL = "http://127.0.0.1:8080"
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or ZIKA_API_KEY env var.")
		return 1
	}

	if err := watch.Run(*apiURL, *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
