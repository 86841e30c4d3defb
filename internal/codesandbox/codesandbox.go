// Package codesandbox implements the Code Sandbox (4.5): capability-
// restricted script execution in two dialects — an in-process scripting
// dialect (Lua, via gopher-lua) and a subprocess dialect that spawns a real
// interpreter binary. The scripting dialect routes every filesystem access
// through the Path Guard (internal/guard); the subprocess dialect runs the
// interpreter with the workspace as its working directory and does not
// confine the interpreter's own file access.
package codesandbox

import (
	"context"
	"time"
)

// DefaultScriptTimeout is the scripting dialect's default wall-clock
// timeout (4.5).
const DefaultScriptTimeout = 5 * time.Second

// DefaultSubprocessTimeout is the subprocess dialect's default wall-clock
// timeout (4.5).
const DefaultSubprocessTimeout = 30 * time.Second

// Result is the uniform outcome of either dialect.
type Result struct {
	Success bool
	Output  string   // last-expression value (scripting) or captured stdout (subprocess)
	Logs    []string // console output (scripting) or stderr lines (subprocess)
	Error   string
}

// Sandbox runs one dialect of script execution confined to a workspace.
type Sandbox interface {
	Run(ctx context.Context, code string) (*Result, error)
}
