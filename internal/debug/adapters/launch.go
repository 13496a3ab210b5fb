package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

// ErrConfigurationNotFound is returned when a launch file has no
// configuration with the requested name.
var ErrConfigurationNotFound = errors.New("launch configuration not found")

// LaunchFile is a parsed .vscode/launch.json. Configurations are kept as
// raw JSON so adapter-specific keys pass through to the launch request
// untouched.
type LaunchFile struct {
	Version        string            `json:"version"`
	Configurations []json.RawMessage `json:"configurations"`

	// Dir is the workspace folder the file belongs to.
	Dir string `json:"-"`
}

// ParseLaunchFile parses launch.json content. Comments and trailing commas
// are accepted.
func ParseLaunchFile(data []byte) (*LaunchFile, error) {
	stripped := jsonc.ToJSON(data)

	var f LaunchFile
	if err := json.Unmarshal(stripped, &f); err != nil {
		return nil, fmt.Errorf("parsing launch file: %w", err)
	}
	return &f, nil
}

// LoadLaunchFile reads and parses a launch.json from disk. The workspace
// folder is the parent of the .vscode directory holding the file.
func LoadLaunchFile(path string) (*LaunchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	f, err := ParseLaunchFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if filepath.Base(dir) == ".vscode" {
		dir = filepath.Dir(dir)
	}
	f.Dir, _ = filepath.Abs(dir)
	return f, nil
}

// Names returns the configuration names in file order.
func (f *LaunchFile) Names() []string {
	names := make([]string, 0, len(f.Configurations))
	for _, c := range f.Configurations {
		names = append(names, gjson.GetBytes(c, "name").String())
	}
	return names
}

// Configuration returns the raw configuration called name with
// ${workspaceFolder} expanded. An empty name selects the first
// configuration.
func (f *LaunchFile) Configuration(name string) (json.RawMessage, error) {
	for _, c := range f.Configurations {
		if name == "" || gjson.GetBytes(c, "name").String() == name {
			return f.expand(c), nil
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: file is empty", ErrConfigurationNotFound)
	}
	return nil, fmt.Errorf("%w: %q", ErrConfigurationNotFound, name)
}

func (f *LaunchFile) expand(c json.RawMessage) json.RawMessage {
	if f.Dir == "" {
		return c
	}
	s := strings.ReplaceAll(string(c), "${workspaceFolder}", filepath.ToSlash(f.Dir))
	s = strings.ReplaceAll(s, "${workspaceRoot}", filepath.ToSlash(f.Dir))
	return json.RawMessage(s)
}

// LaunchPatch overrides fields of a raw launch configuration. Nil fields
// are left alone.
type LaunchPatch struct {
	Program     *string
	Args        []string
	StopOnEntry *bool
}

// PatchLaunchArgs applies patch to a raw launch configuration. The entry
// stop flag is written under the key the configuration's adapter reads:
// stopAtEntry for cppdbg and cppvsdbg, stopOnEntry otherwise.
func PatchLaunchArgs(raw []byte, patch LaunchPatch) ([]byte, error) {
	out := raw
	var err error

	if patch.Program != nil {
		if out, err = sjson.SetBytes(out, "program", *patch.Program); err != nil {
			return nil, fmt.Errorf("patch program: %w", err)
		}
	}
	if patch.Args != nil {
		if out, err = sjson.SetBytes(out, "args", patch.Args); err != nil {
			return nil, fmt.Errorf("patch args: %w", err)
		}
	}
	if patch.StopOnEntry != nil {
		key := "stopOnEntry"
		switch gjson.GetBytes(out, "type").String() {
		case "cppdbg", "cppvsdbg":
			key = "stopAtEntry"
		}
		if out, err = sjson.SetBytes(out, key, *patch.StopOnEntry); err != nil {
			return nil, fmt.Errorf("patch %s: %w", key, err)
		}
	}
	return out, nil
}

// ConfigFromLaunch extracts the adapter selection and common fields of a
// raw launch configuration.
func ConfigFromLaunch(raw []byte) (Config, error) {
	r := gjson.ParseBytes(raw)
	t, err := ParseAdapterType(r.Get("type").String())
	if err != nil {
		return Config{}, err
	}

	config := Config{
		Type:         t,
		Name:         r.Get("name").String(),
		Request:      r.Get("request").String(),
		Program:      r.Get("program").String(),
		Cwd:          r.Get("cwd").String(),
		StopOnEntry:  r.Get("stopAtEntry").Bool() || r.Get("stopOnEntry").Bool(),
		ProcessID:    int(r.Get("processId").Int()),
		DebuggerPath: r.Get("miDebuggerPath").String(),
	}
	if config.ProcessID == 0 {
		config.ProcessID = int(r.Get("pid").Int())
	}
	for _, a := range r.Get("args").Array() {
		config.Args = append(config.Args, a.String())
	}
	return config, nil
}
