//go:build js && wasm

package main

import (
	"encoding/json"
	"syscall/js"

	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
)

var eng *engine.Engine

func main() {
	boxmarkEngine := js.Global().Get("Object").New()

	// --- Commands (frontend → backend) ---
	boxmarkEngine.Set("loadSession", js.FuncOf(loadSession))
	boxmarkEngine.Set("loadSampleSession", js.FuncOf(loadSampleSession))
	boxmarkEngine.Set("dispatch", js.FuncOf(dispatch))
	boxmarkEngine.Set("commit", js.FuncOf(commit))

	// --- Queries (frontend ← backend) ---
	boxmarkEngine.Set("getState", js.FuncOf(getState))
	boxmarkEngine.Set("render", js.FuncOf(render))
	boxmarkEngine.Set("hitTest", js.FuncOf(hitTest))
	boxmarkEngine.Set("getFrameHeight", js.FuncOf(getFrameHeight))

	js.Global().Set("boxmarkEngine", boxmarkEngine)

	// Signal that WASM is ready
	js.Global().Set("boxmarkWasmReady", js.ValueOf(true))

	// Keep Go runtime alive
	select {}
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{"error": msg})
}

// --- Command Handlers ---

func loadSession(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("missing session config JSON")
	}

	var cfg document.SessionConfig
	if err := json.Unmarshal([]byte(args[0].String()), &cfg); err != nil {
		return errorResult("invalid session config: " + err.Error())
	}

	e, err := engine.New(&cfg)
	if err != nil {
		return errorResult(err.Error())
	}
	eng = e
	return js.ValueOf(map[string]interface{}{"ok": true})
}

func loadSampleSession(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return errorResult("usage: loadSampleSession(imageUrl, width, height)")
	}

	cfg := document.NewSampleConfig(args[0].String(), args[1].Int(), args[2].Int())
	e, err := engine.New(cfg)
	if err != nil {
		return errorResult(err.Error())
	}
	eng = e
	return js.ValueOf(map[string]interface{}{"ok": true})
}

// dispatch applies one editor event. When the event asks for a commit the
// host value is returned alongside so the frame can hand it on.
func dispatch(this js.Value, args []js.Value) interface{} {
	if eng == nil {
		return errorResult("no session loaded")
	}
	if len(args) < 1 {
		return errorResult("missing event JSON")
	}

	var ev engine.Event
	if err := json.Unmarshal([]byte(args[0].String()), &ev); err != nil {
		return errorResult("invalid event: " + err.Error())
	}

	commitRequested, err := eng.Dispatch(ev)
	if err != nil {
		return errorResult(err.Error())
	}

	result := map[string]interface{}{"ok": true}
	if commitRequested {
		result["commit"] = eng.CommitJSON()
	}
	return js.ValueOf(result)
}

func commit(this js.Value, args []js.Value) interface{} {
	if eng == nil {
		return js.ValueOf("[]")
	}
	return js.ValueOf(eng.CommitJSON())
}

// --- Query Handlers ---

func getState(this js.Value, args []js.Value) interface{} {
	if eng == nil {
		return js.ValueOf("{}")
	}
	return js.ValueOf(eng.StateJSON())
}

func render(this js.Value, args []js.Value) interface{} {
	if eng == nil {
		return js.ValueOf("[]")
	}
	return js.ValueOf(eng.Render())
}

func hitTest(this js.Value, args []js.Value) interface{} {
	if eng == nil || len(args) < 2 {
		return js.ValueOf("")
	}
	return js.ValueOf(eng.HitTest(args[0].Float(), args[1].Float()))
}

func getFrameHeight(this js.Value, args []js.Value) interface{} {
	if eng == nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(eng.State().FrameHeight)
}
