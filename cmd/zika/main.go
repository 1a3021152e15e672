package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "action":
		return runActionNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
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
		fmt.Fprintln(os.Stderr, "Usage: zika version [--json]")
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

	fmt.Printf("zika %s\n", info.Version)
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

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
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

func printUsage(w io.Writer) {
	fmt.Fprint(w, `zika - bridge pub/sub command messages to host actions

Usage:
  zika <noun> <action> [flags]

Resources (Nouns):
  system    Daemon lifecycle and health
  config    Configuration validation and integrity
  action    Configured command aliases

System Commands:
  system start      Run the daemon in the foreground
  system status     Show PID lock state and live health
  system watch      Live terminal dashboard

Config Commands:
  config check      Validate configuration and host prerequisites
  config lock       Write .checksums for the loaded config files
  config show       Print the resolved configuration
  config get <path>   Print one value (broker.url) or entity (command:reboot)

Action Commands:
  action list       List configured aliases
  action run <alias>  Execute one action locally and report the result

General:
  version           Show version information
  help              Show this help message

Use 'zika <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
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
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

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
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
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
		return 1
	}
}

func runActionNoun(args []string) int {
	if len(args) < 1 {
		printActionNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printActionNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printActionListHelp()
			return 0
		}
		return runActionList(actionArgs)
	case "run":
		if hasHelpFlag(actionArgs) {
			printActionRunHelp()
			return 0
		}
		return runActionRun(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action command: %s\n", action)
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

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: zika system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: zika config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show, get")
}

func printActionNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: zika action <action> [flags]")
	fmt.Fprintln(w, "Actions: list, run")
}

func printConfigGetHelp() {
	fmt.Println("Usage: zika config get <path> [--config PATH] [--json]")
	fmt.Println("Print one value by dot path (service.name) or an entity by type:name (command:reboot, command:*).")
	fmt.Println("Secrets are redacted.")
}

func printSystemStartHelp() {
	fmt.Println("Usage: zika system start [--config PATH]")
	fmt.Println("Run the daemon in the foreground until SIGINT or SIGTERM.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: zika system status [--config PATH] [--json]")
	fmt.Println("Show whether a daemon holds the PID lock and, if the API is enabled, its /healthz.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Daemon running and healthy")
	fmt.Println("  1  Daemon not running or unhealthy")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: zika system watch [flags]")
	fmt.Println()
	fmt.Println("Live dashboard: health, per-alias results, recent history and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    zika API URL (default: http://127.0.0.1:8080)")
	fmt.Println("  --api-key KEY    API bearer token (or ZIKA_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll history")
	fmt.Println("  r                Refresh history")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: zika config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration, then check the executor, API exposure and token scopes against this host.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: zika config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Hash every loaded config file with BLAKE3 and write .checksums beside it.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: zika config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration with secrets redacted.")
}

func printActionListHelp() {
	fmt.Println("Usage: zika action list [--config PATH] [--json]")
	fmt.Println("List configured command aliases.")
}

func printActionRunHelp() {
	fmt.Println("Usage: zika action run <alias> [--config PATH]")
	fmt.Println("Execute one configured action through the configured executor and print the result.")
	fmt.Println("Exits 1 unless the action succeeds.")
}
