package codesandbox

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/nextlevelbuilder/goclaw/internal/guard"
)

// ScriptingSandbox executes Lua snippets inside a fresh VM populated with
// only: console, fs, path, and a handful of safe value helpers. No base
// library (print/require/dofile/loadstring/os/io) is opened, so there is
// no timer, network, module-loader, process, or reflection capability
// reachable from guest code — capabilities are exactly the ones this type
// registers.
type ScriptingSandbox struct {
	Workspace string
	Timeout   time.Duration
}

func NewScriptingSandbox(workspace string) *ScriptingSandbox {
	return &ScriptingSandbox{Workspace: workspace, Timeout: DefaultScriptTimeout}
}

func (s *ScriptingSandbox) Run(ctx context.Context, code string) (*Result, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	var logs []string
	registerConsole(L, &logs)
	registerFS(L, s.Workspace)
	registerPath(L)
	registerValueHelpers(L)

	doneCh := make(chan *Result, 1)
	go func() {
		// Try compiling the whole snippet as a single expression first so
		// "output = last expression value" works for the common case of a
		// one-line script; fall back to running it as a statement list
		// with no captured output otherwise.
		fn, err := L.LoadString("return (" + code + ")")
		if err != nil {
			fn, err = L.LoadString(code)
		}
		if err != nil {
			doneCh <- &Result{Success: false, Logs: logs, Error: err.Error()}
			return
		}
		L.Push(fn)
		if err := L.PCall(0, lua.MultRet, nil); err != nil {
			doneCh <- &Result{Success: false, Logs: logs, Error: err.Error()}
			return
		}
		top := L.GetTop()
		var output string
		if top > 0 {
			output = L.Get(-1).String()
		}
		doneCh <- &Result{Success: true, Output: output, Logs: logs}
	}()

	select {
	case res := <-doneCh:
		res.Logs = logs
		return res, nil
	case <-ctx.Done():
		return &Result{Success: false, Logs: logs, Error: "script timed out"}, nil
	}
}

func registerConsole(L *lua.LState, logs *[]string) {
	console := L.NewTable()
	logFn := func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.Get(i).String())
		}
		*logs = append(*logs, strings.Join(parts, " "))
		return 0
	}
	L.SetField(console, "log", L.NewFunction(logFn))
	L.SetField(console, "error", L.NewFunction(logFn))
	L.SetField(console, "warn", L.NewFunction(logFn))
	L.SetGlobal("console", console)
}

func registerFS(L *lua.LState, workspace string) {
	fs := L.NewTable()
	L.SetField(fs, "readFile", L.NewFunction(func(L *lua.LState) int {
		p := L.CheckString(1)
		resolved, err := guard.ResolvePath(p, workspace)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))
	L.SetField(fs, "writeFile", L.NewFunction(func(L *lua.LState) int {
		p := L.CheckString(1)
		content := L.CheckString(2)
		resolved, err := guard.ResolvePath(p, workspace)
		if err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))
	L.SetField(fs, "exists", L.NewFunction(func(L *lua.LState) int {
		p := L.CheckString(1)
		resolved, err := guard.ResolvePath(p, workspace)
		if err != nil {
			L.Push(lua.LFalse)
			return 1
		}
		_, statErr := os.Stat(resolved)
		L.Push(lua.LBool(statErr == nil))
		return 1
	}))
	L.SetGlobal("fs", fs)
}

func registerPath(L *lua.LState) {
	pathTbl := L.NewTable()
	L.SetField(pathTbl, "join", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.CheckString(i))
		}
		L.Push(lua.LString(filepath.Join(parts...)))
		return 1
	}))
	L.SetField(pathTbl, "basename", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(filepath.Base(L.CheckString(1))))
		return 1
	}))
	L.SetField(pathTbl, "dirname", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(filepath.Dir(L.CheckString(1))))
		return 1
	}))
	L.SetField(pathTbl, "ext", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(filepath.Ext(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("path", pathTbl)
}

// registerValueHelpers adds safe, pure value constructors — no timers, no
// network primitives, no process handle, no reflection.
func registerValueHelpers(L *lua.LState) {
	L.SetGlobal("tonumber", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		n, ok := parseNumber(s)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(n))
		return 1
	}))
	L.SetGlobal("urlencode", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(url.QueryEscape(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("urldecode", L.NewFunction(func(L *lua.LState) int {
		decoded, err := url.QueryUnescape(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(decoded))
		return 1
	}))
}

func parseNumber(s string) (float64, bool) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0, false
	}
	return f, true
}
