package adapters

import (
	"fmt"
	"os/exec"
)

// VSDBGAdapter implements the Adapter interface for vsdbg, the Microsoft
// C++ debugger behind the cppvsdbg launch type.
type VSDBGAdapter struct {
	config Config
}

// NewVSDBGAdapter creates a new vsdbg adapter.
func NewVSDBGAdapter(config Config) (Adapter, error) {
	return &VSDBGAdapter{config: config}, nil
}

// Type returns the adapter type.
func (a *VSDBGAdapter) Type() AdapterType {
	return AdapterVSDBG
}

// Name returns a human-readable adapter name.
func (a *VSDBGAdapter) Name() string {
	return "vsdbg (Visual Studio Debugger)"
}

// DAPType returns "cppvsdbg".
func (a *VSDBGAdapter) DAPType() string {
	return "cppvsdbg"
}

// Validate validates the configuration.
func (a *VSDBGAdapter) Validate() error {
	return validateRequest(a.config)
}

// GetCommand returns the command to start vsdbg in DAP mode.
func (a *VSDBGAdapter) GetCommand() (*exec.Cmd, error) {
	path, err := resolvePath(a.config, "vsdbg not found (set adapterPath to vsdbg.exe)", "vsdbg", "vsdbg.exe")
	if err != nil {
		return nil, err
	}
	return commandFor(a.config, path, "--interpreter=vscode"), nil
}

// GetLaunchArgs returns the arguments for the launch request.
func (a *VSDBGAdapter) GetLaunchArgs() (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":        a.DAPType(),
		"request":     "launch",
		"program":     a.config.Program,
		"args":        nonNil(a.config.Args),
		"stopAtEntry": a.config.StopOnEntry,
		"cwd":         a.config.Cwd,
		"environment": environmentList(a.config.Env),
		"console":     "internalConsole",
	}, nil
}

// GetAttachArgs returns the arguments for the attach request.
func (a *VSDBGAdapter) GetAttachArgs() (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":      a.DAPType(),
		"request":   "attach",
		"processId": fmt.Sprint(a.config.ProcessID),
	}, nil
}

// GetConnectionType returns "stdio".
func (a *VSDBGAdapter) GetConnectionType() string {
	return "stdio"
}

// GetAddress returns "".
func (a *VSDBGAdapter) GetAddress() string {
	return ""
}
