package adapters

import (
	"fmt"
	"os/exec"
	"strconv"
)

// DefaultCodeLLDBPort is the port CodeLLDB is started on when none is set.
const DefaultCodeLLDBPort = 13000

// LLDBAdapter implements the Adapter interface for lldb-dap.
type LLDBAdapter struct {
	config Config
}

// NewLLDBAdapter creates a new lldb-dap adapter.
func NewLLDBAdapter(config Config) (Adapter, error) {
	return &LLDBAdapter{config: config}, nil
}

// Type returns the adapter type.
func (a *LLDBAdapter) Type() AdapterType {
	return AdapterLLDB
}

// Name returns a human-readable adapter name.
func (a *LLDBAdapter) Name() string {
	return "lldb-dap (LLDB)"
}

// DAPType returns "lldb-dap".
func (a *LLDBAdapter) DAPType() string {
	return "lldb-dap"
}

// Validate validates the configuration.
func (a *LLDBAdapter) Validate() error {
	return validateRequest(a.config)
}

// GetCommand returns the command to start lldb-dap. Older LLVM releases
// ship the same adapter as lldb-vscode.
func (a *LLDBAdapter) GetCommand() (*exec.Cmd, error) {
	path, err := resolvePath(a.config, "lldb-dap not found (install LLVM)", "lldb-dap", "lldb-vscode")
	if err != nil {
		return nil, err
	}
	return commandFor(a.config, path), nil
}

// GetLaunchArgs returns the arguments for the launch request.
func (a *LLDBAdapter) GetLaunchArgs() (map[string]interface{}, error) {
	return lldbLaunchArgs(a.DAPType(), a.config), nil
}

// GetAttachArgs returns the arguments for the attach request.
func (a *LLDBAdapter) GetAttachArgs() (map[string]interface{}, error) {
	return lldbAttachArgs(a.DAPType(), a.config), nil
}

// GetConnectionType returns "stdio".
func (a *LLDBAdapter) GetConnectionType() string {
	return "stdio"
}

// GetAddress returns "".
func (a *LLDBAdapter) GetAddress() string {
	return ""
}

// CodeLLDBAdapter implements the Adapter interface for CodeLLDB. CodeLLDB
// listens on a TCP port instead of speaking DAP on stdio.
type CodeLLDBAdapter struct {
	config Config
}

// NewCodeLLDBAdapter creates a new CodeLLDB adapter.
func NewCodeLLDBAdapter(config Config) (Adapter, error) {
	if config.Port == 0 {
		config.Port = DefaultCodeLLDBPort
	}
	return &CodeLLDBAdapter{config: config}, nil
}

// Type returns the adapter type.
func (a *CodeLLDBAdapter) Type() AdapterType {
	return AdapterCodeLLDB
}

// Name returns a human-readable adapter name.
func (a *CodeLLDBAdapter) Name() string {
	return "CodeLLDB"
}

// DAPType returns "lldb", the type CodeLLDB registers in launch.json.
func (a *CodeLLDBAdapter) DAPType() string {
	return "lldb"
}

// Validate validates the configuration.
func (a *CodeLLDBAdapter) Validate() error {
	if err := validateRequest(a.config); err != nil {
		return err
	}
	if a.config.Port <= 0 || a.config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", a.config.Port)
	}
	return nil
}

// GetCommand returns the command to start CodeLLDB in server mode.
func (a *CodeLLDBAdapter) GetCommand() (*exec.Cmd, error) {
	path, err := resolvePath(a.config, "codelldb not found (set adapterPath to the extension's adapter/codelldb)", "codelldb")
	if err != nil {
		return nil, err
	}
	return commandFor(a.config, path, "--port", strconv.Itoa(a.config.Port)), nil
}

// GetLaunchArgs returns the arguments for the launch request.
func (a *CodeLLDBAdapter) GetLaunchArgs() (map[string]interface{}, error) {
	return lldbLaunchArgs(a.DAPType(), a.config), nil
}

// GetAttachArgs returns the arguments for the attach request.
func (a *CodeLLDBAdapter) GetAttachArgs() (map[string]interface{}, error) {
	return lldbAttachArgs(a.DAPType(), a.config), nil
}

// GetConnectionType returns "socket".
func (a *CodeLLDBAdapter) GetConnectionType() string {
	return "socket"
}

// GetAddress returns the address CodeLLDB listens on.
func (a *CodeLLDBAdapter) GetAddress() string {
	return hostOrDefault(a.config.Host) + ":" + strconv.Itoa(a.config.Port)
}

func lldbLaunchArgs(dapType string, config Config) map[string]interface{} {
	args := map[string]interface{}{
		"type":        dapType,
		"request":     "launch",
		"program":     config.Program,
		"args":        nonNil(config.Args),
		"stopOnEntry": config.StopOnEntry,
	}
	if config.Cwd != "" {
		args["cwd"] = config.Cwd
	}
	if len(config.Env) > 0 {
		// lldb-dap takes "KEY=VALUE" strings; CodeLLDB accepts a map.
		if dapType == "lldb-dap" {
			env := make([]string, 0, len(config.Env))
			for _, e := range environmentList(config.Env) {
				env = append(env, e["name"]+"="+e["value"])
			}
			args["env"] = env
		} else {
			args["env"] = config.Env
		}
	}
	return args
}

func lldbAttachArgs(dapType string, config Config) map[string]interface{} {
	args := map[string]interface{}{
		"type":    dapType,
		"request": "attach",
		"pid":     config.ProcessID,
	}
	if config.Program != "" {
		args["program"] = config.Program
	}
	return args
}
