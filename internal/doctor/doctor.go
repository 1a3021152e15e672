// Package doctor checks a loaded zika configuration against the host it is
// about to run on: executor paths, API exposure, token scopes and config
// integrity.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/mattjoyce/zika/internal/auth"
	"github.com/mattjoyce/zika/internal/config"
	"github.com/mattjoyce/zika/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor runs host and policy checks that config.Validate cannot do.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateExecutor(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateHistory(r)
	d.warnUnannouncedCommands(r)
	d.warnMissingCredentials(r)
	d.warnIntegrity(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateExecutor(r *Result) {
	ex := d.cfg.Executor
	switch ex.Mode {
	case config.ModePipe:
		info, err := os.Stat(ex.FIFOPath)
		switch {
		case os.IsNotExist(err):
			d.addWarning(r, "executor", "executor.fifo_path",
				fmt.Sprintf("%s does not exist yet; every action fails until the host runner creates it", ex.FIFOPath))
		case err != nil:
			d.addError(r, "executor", "executor.fifo_path", err.Error())
		case info.Mode()&os.ModeNamedPipe == 0:
			d.addError(r, "executor", "executor.fifo_path",
				fmt.Sprintf("%s exists but is not a named pipe", ex.FIFOPath))
		}
		if ex.Timeout == 0 {
			d.addWarning(r, "executor", "executor.timeout",
				"no write timeout; a stalled host runner blocks the queue")
		}

	case config.ModeProcess:
		info, err := os.Stat(ex.Shell)
		switch {
		case err != nil:
			d.addError(r, "executor", "executor.shell", fmt.Sprintf("shell %s: %v", ex.Shell, err))
		case info.IsDir() || info.Mode().Perm()&0o111 == 0:
			d.addError(r, "executor", "executor.shell", fmt.Sprintf("shell %s is not executable", ex.Shell))
		}
		if ex.HostToolsPath != "" {
			if info, err := os.Stat(ex.HostToolsPath); err != nil || !info.IsDir() {
				d.addWarning(r, "executor", "executor.host_tools_path",
					fmt.Sprintf("%s is not a directory; host tools will not be found on PATH", ex.HostToolsPath))
			}
		}
		if ex.Timeout == 0 {
			d.addWarning(r, "executor", "executor.timeout",
				"no timeout; a hung action blocks the queue forever")
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth",
			"API enabled but no authentication configured; every protected route answers 401")
	}
	if !d.cfg.API.TLS.Enabled && !isLoopback(d.cfg.API.Address) {
		d.addWarning(r, "api", "api.address",
			fmt.Sprintf("API listens on %q without TLS; bearer tokens travel in clear text", d.cfg.API.Address))
	}
}

// validateTokenScopes checks every scope against the known set.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := map[string]bool{}
	for _, s := range auth.KnownScopes() {
		known[s] = true
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		if len(token.Scopes) == 0 {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes", i),
				"token has no scopes and can only reach unauthenticated routes")
		}
		for j, scope := range token.Scopes {
			if !known[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (known: %s)", scope, strings.Join(auth.KnownScopes(), ", ")))
			}
		}
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if !d.cfg.History.Enabled {
		return
	}
	if err := storage.CheckFilesystem(d.cfg.History.Path); err != nil {
		d.addError(r, "history", "history.path", err.Error())
	}
	if d.cfg.History.Retention == 0 {
		d.addWarning(r, "history", "history.retention", "retention is 0; the action log is never pruned")
	}
}

// warnUnannouncedCommands flags commands Home Assistant will never see.
func (d *Doctor) warnUnannouncedCommands(r *Result) {
	if d.cfg.HA == nil {
		return
	}
	for _, alias := range sortedAliases(d.cfg.Commands) {
		if d.cfg.Commands[alias].HA == nil {
			d.addWarning(r, "discovery", fmt.Sprintf("commands.%s.ha", alias),
				fmt.Sprintf("command %q has no ha section and is not announced", alias))
		}
	}
}

// warnMissingCredentials warns about values that are empty, usually because
// a ${VAR} reference was not set.
func (d *Doctor) warnMissingCredentials(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
	}
	if d.cfg.Broker.User != "" && d.cfg.Broker.Password == "" {
		d.addWarning(r, "env_vars", "broker.password",
			"broker.user is set but password is empty (possibly unresolved environment variable)")
	}
}

func (d *Doctor) warnIntegrity(r *Result) {
	for _, w := range config.IntegrityWarnings(d.cfg.SourceFiles) {
		d.addWarning(r, "integrity", "", w)
	}
}

func isLoopback(address string) bool {
	if address == "localhost" {
		return true
	}
	ip := net.ParseIP(address)
	return ip != nil && ip.IsLoopback()
}

func sortedAliases(commands map[string]config.CommandConfig) []string {
	out := make([]string, 0, len(commands))
	for alias := range commands {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
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

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
