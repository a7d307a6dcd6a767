// Package setup registers the cervicel MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultServerName is the key used under mcpServers.
const DefaultServerName = "cervicel"

// ServerEntry is a single stdio server as desktop clients describe it.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls how the server entry is written.
type Options struct {
	Name       string
	BinaryPath string
	ConfigFile string
	// DataDir holds the SQLite archive when set.
	DataDir string
}

// Status describes the registration found in a client config.
type Status struct {
	ConfigPath string
	Registered bool
	Entry      *ServerEntry
	Issues     []string
}

// ClientConfigPath returns the default desktop client config location for this OS.
func ClientConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "Claude", "claude_desktop_config.json"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// clientConfig keeps every top-level key so unrelated client settings survive a rewrite.
type clientConfig struct {
	raw     map[string]json.RawMessage
	servers map[string]ServerEntry
}

func loadClientConfig(path string) (*clientConfig, error) {
	cfg := &clientConfig{
		raw:     make(map[string]json.RawMessage),
		servers: make(map[string]ServerEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg.raw); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if servers, ok := cfg.raw["mcpServers"]; ok {
		if err := json.Unmarshal(servers, &cfg.servers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
	}
	return cfg, nil
}

func (c *clientConfig) save(path string) error {
	servers, err := json.Marshal(c.servers)
	if err != nil {
		return fmt.Errorf("failed to marshal mcpServers: %w", err)
	}
	c.raw["mcpServers"] = servers

	data, err := json.MarshalIndent(c.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write client config: %w", err)
	}
	return nil
}

// Register adds or replaces the cervicel entry in the client config at path.
func Register(path string, opts Options) (*ServerEntry, error) {
	name := opts.Name
	if name == "" {
		name = DefaultServerName
	}

	binary := opts.BinaryPath
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("could not determine cervicel binary: %w", err)
		}
		binary = exe
	}
	binary, err := filepath.Abs(binary)
	if err != nil {
		return nil, fmt.Errorf("resolving binary path: %w", err)
	}

	entry := ServerEntry{
		Command: binary,
		Args:    []string{"mcp", "--transport", "stdio"},
	}
	if opts.ConfigFile != "" {
		configFile, err := filepath.Abs(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("resolving config file: %w", err)
		}
		entry.Args = append(entry.Args, "--config", configFile)
	}
	if opts.DataDir != "" {
		dataDir, err := filepath.Abs(opts.DataDir)
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		entry.Env = map[string]string{
			"CERVICEL_DATABASE_SQLITE_PATH": filepath.Join(dataDir, "reports.db"),
		}
	}

	cfg, err := loadClientConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.servers[name] = entry
	if err := cfg.save(path); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Unregister removes the named entry. It reports whether anything was removed.
func Unregister(path, name string) (bool, error) {
	if name == "" {
		name = DefaultServerName
	}
	cfg, err := loadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.servers[name]; !ok {
		return false, nil
	}
	delete(cfg.servers, name)
	return true, cfg.save(path)
}

// Inspect reports whether the named entry exists and whether its binary is runnable.
func Inspect(path, name string) (*Status, error) {
	if name == "" {
		name = DefaultServerName
	}
	status := &Status{ConfigPath: path, Issues: []string{}}

	cfg, err := loadClientConfig(path)
	if err != nil {
		return nil, err
	}
	entry, ok := cfg.servers[name]
	if !ok {
		status.Issues = append(status.Issues, fmt.Sprintf("%s is not registered", name))
		return status, nil
	}
	status.Registered = true
	status.Entry = &entry

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case runtime.GOOS != "windows" && info.Mode()&0o111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	return status, nil
}
