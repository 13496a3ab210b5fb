package adapters

import (
	"fmt"
	"os/exec"
)

// GDBConfig extends Config with cppdbg-specific options.
type GDBConfig struct {
	Config

	// MIMode is the debugger cppdbg drives: "gdb" or "lldb".
	MIMode string `json:"MIMode,omitempty"`

	// SetupCommands are debugger commands run before the program starts.
	SetupCommands []string `json:"setupCommands,omitempty"`

	// PrettyPrinting enables GDB pretty printers, which the classifier's
	// summary probes rely on.
	PrettyPrinting bool `json:"prettyPrinting,omitempty"`
}

// GDBAdapter implements the Adapter interface for cppdbg, the
// OpenDebugAD7 adapter driving GDB through its MI interpreter.
type GDBAdapter struct {
	config GDBConfig
}

// NewGDBAdapter creates a new GDB adapter.
func NewGDBAdapter(baseConfig Config) (Adapter, error) {
	return NewGDBAdapterWithConfig(GDBConfig{Config: baseConfig, PrettyPrinting: true})
}

// NewGDBAdapterWithConfig creates a GDB adapter with full configuration.
func NewGDBAdapterWithConfig(config GDBConfig) (*GDBAdapter, error) {
	if config.MIMode == "" {
		config.MIMode = "gdb"
	}
	return &GDBAdapter{config: config}, nil
}

// Type returns the adapter type.
func (a *GDBAdapter) Type() AdapterType {
	return AdapterGDB
}

// Name returns a human-readable adapter name.
func (a *GDBAdapter) Name() string {
	return "cppdbg (GDB)"
}

// DAPType returns "cppdbg".
func (a *GDBAdapter) DAPType() string {
	return "cppdbg"
}

// Validate validates the configuration.
func (a *GDBAdapter) Validate() error {
	if err := validateRequest(a.config.Config); err != nil {
		return err
	}
	if a.config.MIMode != "gdb" && a.config.MIMode != "lldb" {
		return fmt.Errorf("invalid MIMode: %s", a.config.MIMode)
	}
	return nil
}

// GetCommand returns the command to start OpenDebugAD7.
func (a *GDBAdapter) GetCommand() (*exec.Cmd, error) {
	path, err := resolvePath(a.config.Config,
		"cppdbg adapter not found (install the ms-vscode.cpptools extension and set adapterPath to OpenDebugAD7)",
		"OpenDebugAD7")
	if err != nil {
		return nil, err
	}
	return commandFor(a.config.Config, path), nil
}

// GetLaunchArgs returns the arguments for the launch request.
func (a *GDBAdapter) GetLaunchArgs() (map[string]interface{}, error) {
	args := map[string]interface{}{
		"type":        a.DAPType(),
		"request":     "launch",
		"program":     a.config.Program,
		"args":        nonNil(a.config.Args),
		"stopAtEntry": a.config.StopOnEntry,
		"MIMode":      a.config.MIMode,
		"cwd":         a.config.Cwd,
		"environment": environmentList(a.config.Env),
	}
	a.addDebugger(args)
	return args, nil
}

// GetAttachArgs returns the arguments for the attach request.
func (a *GDBAdapter) GetAttachArgs() (map[string]interface{}, error) {
	args := map[string]interface{}{
		"type":      a.DAPType(),
		"request":   "attach",
		"processId": fmt.Sprint(a.config.ProcessID),
		"MIMode":    a.config.MIMode,
	}
	if a.config.Program != "" {
		args["program"] = a.config.Program
	}
	a.addDebugger(args)
	return args, nil
}

func (a *GDBAdapter) addDebugger(args map[string]interface{}) {
	if a.config.DebuggerPath != "" {
		args["miDebuggerPath"] = a.config.DebuggerPath
	}

	var setup []map[string]interface{}
	if a.config.PrettyPrinting && a.config.MIMode == "gdb" {
		setup = append(setup, map[string]interface{}{
			"description":    "Enable pretty-printing for gdb",
			"text":           "-enable-pretty-printing",
			"ignoreFailures": true,
		})
	}
	for _, c := range a.config.SetupCommands {
		setup = append(setup, map[string]interface{}{"text": c, "ignoreFailures": false})
	}
	if len(setup) > 0 {
		args["setupCommands"] = setup
	}
}

// GetConnectionType returns "stdio".
func (a *GDBAdapter) GetConnectionType() string {
	return "stdio"
}

// GetAddress returns "".
func (a *GDBAdapter) GetAddress() string {
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
