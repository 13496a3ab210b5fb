// Package adapters provides debug adapter configurations for native C and
// C++ debugging.
package adapters

import (
	"context"
	"fmt"
	"maps"
	"net"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/debugmate/internal/debug/dap"
)

// AdapterType identifies a debug adapter.
type AdapterType string

const (
	// AdapterGDB is cppdbg (OpenDebugAD7) driving GDB.
	AdapterGDB AdapterType = "gdb"
	// AdapterLLDB is lldb-dap, shipped with LLVM.
	AdapterLLDB AdapterType = "lldb"
	// AdapterCodeLLDB is the CodeLLDB adapter, which speaks DAP over a socket.
	AdapterCodeLLDB AdapterType = "codelldb"
	// AdapterVSDBG is the Microsoft C++ debugger (cppvsdbg).
	AdapterVSDBG AdapterType = "vsdbg"
)

// Config is the base configuration for a debug adapter.
type Config struct {
	// Type is the adapter type.
	Type AdapterType `json:"type"`

	// Name is a human-readable name for this configuration.
	Name string `json:"name"`

	// Request is the request type: "launch" or "attach".
	Request string `json:"request"`

	// Program is the program to debug.
	Program string `json:"program,omitempty"`

	// Args are the program arguments.
	Args []string `json:"args,omitempty"`

	// Cwd is the working directory.
	Cwd string `json:"cwd,omitempty"`

	// Env are additional environment variables.
	Env map[string]string `json:"env,omitempty"`

	// StopOnEntry stops at the program entry point.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// Port is the port a socket adapter listens on.
	Port int `json:"port,omitempty"`

	// Host is the host to connect to.
	Host string `json:"host,omitempty"`

	// ProcessID is the process ID to attach to.
	ProcessID int `json:"processId,omitempty"`

	// AdapterPath is the path to the debug adapter executable.
	AdapterPath string `json:"adapterPath,omitempty"`

	// AdapterArgs are extra arguments for the adapter executable.
	AdapterArgs []string `json:"adapterArgs,omitempty"`

	// DebuggerPath is the debugger driven by the adapter (cppdbg miDebuggerPath).
	DebuggerPath string `json:"debuggerPath,omitempty"`
}

// Adapter provides configuration and launch capabilities for a debug adapter.
type Adapter interface {
	// Type returns the adapter type.
	Type() AdapterType

	// Name returns a human-readable adapter name.
	Name() string

	// DAPType returns the adapter type string a launch.json uses for it.
	// Backend detection keys off this value.
	DAPType() string

	// Validate validates the configuration.
	Validate() error

	// GetCommand returns the command to start the adapter.
	GetCommand() (*exec.Cmd, error)

	// GetLaunchArgs returns the arguments for the launch request.
	GetLaunchArgs() (map[string]interface{}, error)

	// GetAttachArgs returns the arguments for the attach request.
	GetAttachArgs() (map[string]interface{}, error)

	// GetConnectionType returns whether to use "stdio" or "socket".
	GetConnectionType() string

	// GetAddress returns the socket address (for socket connection).
	GetAddress() string
}

// Registry manages available debug adapters.
type Registry struct {
	adapters map[AdapterType]func(Config) (Adapter, error)
}

// NewRegistry creates a new adapter registry with default adapters.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[AdapterType]func(Config) (Adapter, error)),
	}

	r.Register(AdapterGDB, NewGDBAdapter)
	r.Register(AdapterLLDB, NewLLDBAdapter)
	r.Register(AdapterCodeLLDB, NewCodeLLDBAdapter)
	r.Register(AdapterVSDBG, NewVSDBGAdapter)

	return r
}

// Register registers an adapter factory.
func (r *Registry) Register(adapterType AdapterType, factory func(Config) (Adapter, error)) {
	r.adapters[adapterType] = factory
}

// Create creates an adapter from configuration.
func (r *Registry) Create(config Config) (Adapter, error) {
	factory, ok := r.adapters[config.Type]
	if !ok {
		return nil, fmt.Errorf("unknown adapter type: %s", config.Type)
	}
	return factory(config)
}

// AvailableAdapters returns the list of registered adapter types.
func (r *Registry) AvailableAdapters() []AdapterType {
	result := make([]AdapterType, 0, len(r.adapters))
	for t := range r.adapters {
		result = append(result, t)
	}
	return result
}

// ParseAdapterType maps a command line name or a launch.json type to an
// adapter type.
func ParseAdapterType(name string) (AdapterType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gdb", "cppdbg":
		return AdapterGDB, nil
	case "lldb", "lldb-dap", "lldb-vscode":
		return AdapterLLDB, nil
	case "codelldb":
		return AdapterCodeLLDB, nil
	case "vsdbg", "cppvsdbg":
		return AdapterVSDBG, nil
	default:
		return "", fmt.Errorf("unknown adapter %q", name)
	}
}

// FindExecutable searches for an executable in PATH.
func FindExecutable(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// WaitForPort waits for a port to become available by polling with connection attempts.
// It returns nil when the port is accepting connections, or an error if the context
// is cancelled or times out.
func WaitForPort(ctx context.Context, host string, port int) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for port %d: %w", port, ctx.Err())
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", address, 50*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
			// Port not ready yet, continue polling
		}
	}
}

// Connect starts the adapter and returns a transport to it. For socket
// adapters the started process is returned as well and the caller owns it;
// stdio adapters are owned by their transport.
func Connect(ctx context.Context, a Adapter) (dap.Transport, *exec.Cmd, error) {
	if err := a.Validate(); err != nil {
		return nil, nil, err
	}
	cmd, err := a.GetCommand()
	if err != nil {
		return nil, nil, err
	}

	if a.GetConnectionType() == "stdio" {
		t, err := dap.NewStdioTransport(cmd)
		if err != nil {
			return nil, nil, fmt.Errorf("start %s: %w", a.Name(), err)
		}
		return t, nil, nil
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", a.Name(), err)
	}
	host, portStr, _ := net.SplitHostPort(a.GetAddress())
	port, _ := strconv.Atoi(portStr)
	if err := WaitForPort(ctx, host, port); err != nil {
		cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, err
	}
	t, err := dap.DialSocketTransport(ctx, a.GetAddress())
	if err != nil {
		cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, err
	}
	return t, cmd, nil
}

func validateRequest(config Config) error {
	switch config.Request {
	case "launch":
		if config.Program == "" {
			return fmt.Errorf("program is required for launch request")
		}
	case "attach":
		if config.ProcessID == 0 {
			return fmt.Errorf("processId is required for attach request")
		}
	case "":
	default:
		return fmt.Errorf("invalid request type: %s", config.Request)
	}
	return nil
}

// commandFor builds the adapter command, inheriting the parent environment
// and adding config values.
func commandFor(config Config, path string, args ...string) *exec.Cmd {
	cmd := exec.Command(path, append(args, config.AdapterArgs...)...)
	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	return cmd
}

// resolvePath returns the configured adapter path or looks up the first
// of names in PATH.
func resolvePath(config Config, hint string, names ...string) (string, error) {
	if config.AdapterPath != "" {
		return config.AdapterPath, nil
	}
	var lastErr error
	for _, name := range names {
		path, err := FindExecutable(name)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%s: %w", hint, lastErr)
}

// environmentList renders env in the [{name, value}] form used by cppdbg
// and cppvsdbg.
func environmentList(env map[string]string) []map[string]string {
	out := make([]map[string]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, map[string]string{"name": k, "value": env[k]})
	}
	return out
}

func hostOrDefault(host string) string {
	if host != "" {
		return host
	}
	return "127.0.0.1"
}
