package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by DiscoverConfigPath when no candidate exists.
var ErrNoConfig = errors.New("no config found")

// Load reads, merges, verifies and validates configuration from configPath.
// A directory is accepted and resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	cfg, err := assemble(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SourceFiles returns the root config file and every file it includes,
// without verifying checksums. `zika config lock` hashes this list.
func SourceFiles(configPath string) ([]string, error) {
	cfg, err := assemble(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

// assemble decodes the root file over Defaults and merges its includes.
func assemble(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := decodeFile(absPath, cfg); err != nil {
		return nil, err
	}
	cfg.SourceFiles = []string{absPath}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}
	sort.Strings(cfg.SourceFiles[1:])
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $ZIKA_CONFIG, ~/.config/zika/config.yaml, /etc/zika/config.yaml, ./zika.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("ZIKA_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "zika", "config.yaml"))
	}
	candidates = append(candidates, "/etc/zika/config.yaml", "./zika.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w (checked: $ZIKA_CONFIG, ~/.config/zika/config.yaml, /etc/zika/config.yaml, ./zika.yaml)", ErrNoConfig)
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// decodeFile interpolates ${VAR} references and decodes YAML into dst.
// Fields absent from the file keep whatever dst already holds.
func decodeFile(path string, dst *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), dst); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, absPath, baseDir)
		}
		visited[absPath] = true

		var included Config
		if err := decodeFile(absPath, &included); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeInclude(cfg, &included)
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeInclude merges an included file into dst. Commands are additive
// (later files override an alias); broker credentials and ha override when set.
func mergeInclude(dst, src *Config) {
	if len(src.Commands) > 0 {
		if dst.Commands == nil {
			dst.Commands = make(map[string]CommandConfig)
		}
		for alias, cmd := range src.Commands {
			dst.Commands[alias] = cmd
		}
	}
	if src.HA != nil {
		dst.HA = src.HA
	}
	if src.Broker.User != "" {
		dst.Broker.User = src.Broker.User
	}
	if src.Broker.Password != "" {
		dst.Broker.Password = src.Broker.Password
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	if len(src.API.Auth.Tokens) > 0 {
		dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	}
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No manifest in this directory: verification is opt-in.
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: zika config lock --config %s", basename, dir, path)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: zika config lock --config %s", path, err, path)
			}
		}
	}
	return nil
}

// Validate checks a merged configuration for errors.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required"))
	} else if u, err := url.Parse(cfg.Broker.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("broker.url %q is not a valid URL", cfg.Broker.URL))
	}
	if cfg.Broker.CommandTopic == "" {
		errs = append(errs, errors.New("broker.command_topic is required"))
	}
	if cfg.Broker.AvailabilityInterval < 0 {
		errs = append(errs, errors.New("broker.availability_interval must not be negative"))
	}

	if cfg.API.TLS.Enabled && (cfg.API.TLS.KeyFile == "" || cfg.API.TLS.CertFile == "") {
		errs = append(errs, errors.New("api.tls: key_file and cert_file are required when tls is enabled"))
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", cfg.API.Port))
	}

	if cfg.HA != nil && (cfg.HA.DeviceIdentifier == "" || cfg.HA.DiscoveryTopic == "") {
		errs = append(errs, errors.New("ha: device_identifier and discovery_topic are required"))
	}

	switch cfg.Executor.Mode {
	case ModePipe:
		if cfg.Executor.FIFOPath == "" {
			errs = append(errs, errors.New("executor.fifo_path is required in pipe mode"))
		}
	case ModeProcess:
		if cfg.Executor.Shell == "" {
			errs = append(errs, errors.New("executor.shell is required in process mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("executor.mode %q must be %q or %q", cfg.Executor.Mode, ModePipe, ModeProcess))
	}
	if cfg.Executor.Timeout < 0 {
		errs = append(errs, errors.New("executor.timeout must not be negative"))
	}

	if cfg.Queue.MaxDepth < 0 {
		errs = append(errs, errors.New("queue.max_depth must not be negative"))
	}
	if cfg.Queue.Overflow != OverflowDropNewest && cfg.Queue.Overflow != OverflowDropOldest {
		errs = append(errs, fmt.Errorf("queue.overflow %q must be %q or %q", cfg.Queue.Overflow, OverflowDropNewest, OverflowDropOldest))
	}

	if cfg.History.Enabled && cfg.History.Path == "" {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}

	if len(cfg.Commands) == 0 {
		errs = append(errs, errors.New("at least one command must be configured"))
	}
	aliases := make([]string, 0, len(cfg.Commands))
	for alias := range cfg.Commands {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		cmd := cfg.Commands[alias]
		if alias == "" {
			errs = append(errs, errors.New("commands: empty alias"))
		}
		if cmd.Command == "" {
			errs = append(errs, fmt.Errorf("commands.%s: command is empty", alias))
		}
		if cmd.HA != nil && cmd.HA.Name == "" {
			errs = append(errs, fmt.Errorf("commands.%s.ha: name is required", alias))
		}
	}

	return errors.Join(errs...)
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
