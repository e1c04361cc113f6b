package sim

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for agent behaviors.
// Single-goroutine access only (tick loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. A behavior named "wander" is expected to define a global
// function steer_wander.
func NewEngine(scriptDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load behavior scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) Close() {
	e.vm.Close()
}

// SteerContext holds pre-packed data for one behavior decision.
type SteerContext struct {
	X, Y   float32
	HP     uint16
	MaxHP  uint16
	Bounds float32
	Tick   uint64
}

// SteerResult is the direction returned by a behavior function, unit-scale.
type SteerResult struct {
	DX, DY float32
}

// Steer calls the Lua steer_<behavior> function. A missing function or a
// script error steers to a stop.
func (e *Engine) Steer(behavior string, ctx SteerContext) SteerResult {
	fn := e.vm.GetGlobal("steer_" + behavior)
	if fn == lua.LNil {
		e.log.Error("lua behavior function not found", zap.String("behavior", behavior))
		return SteerResult{}
	}

	t := e.vm.NewTable()
	t.RawSetString("x", lua.LNumber(ctx.X))
	t.RawSetString("y", lua.LNumber(ctx.Y))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("max_hp", lua.LNumber(ctx.MaxHP))
	t.RawSetString("bounds", lua.LNumber(ctx.Bounds))
	t.RawSetString("tick", lua.LNumber(ctx.Tick))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua behavior error", zap.String("behavior", behavior), zap.Error(err))
		return SteerResult{}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua behavior returned non-table", zap.String("behavior", behavior))
		return SteerResult{}
	}
	return SteerResult{
		DX: float32(lua.LVAsNumber(rt.RawGetString("dx"))),
		DY: float32(lua.LVAsNumber(rt.RawGetString("dy"))),
	}
}
