package middleware

import (
	"maps"
	"sync"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/wasm"
)

// CallSites counts the calls a function makes, by kind.
type CallSites struct {
	Direct   int
	Indirect int
}

// CallCounter counts call sites per function while modules compile. The
// report is shared by every fork and accumulates across compilations until
// Reset.
type CallCounter struct {
	report      *callReport
	numImported uint32
}

type callReport struct {
	mu    sync.Mutex
	sites map[uint32]CallSites
}

func NewCallCounter() *CallCounter {
	return &CallCounter{report: &callReport{sites: make(map[uint32]CallSites)}}
}

func (*CallCounter) Name() string { return "call-counter" }

// Fork returns a counter for one compilation writing to the same report.
func (c *CallCounter) Fork() compiler.ModuleMiddleware {
	return &CallCounter{report: c.report}
}

func (c *CallCounter) TransformModuleInfo(m *wasm.Module) error {
	c.numImported = uint32(m.NumImportedFuncs())
	return nil
}

func (c *CallCounter) GenerateFunctionMiddleware(localFuncIndex uint32) compiler.FunctionMiddleware {
	return &functionCalls{report: c.report, index: c.numImported + localFuncIndex}
}

// Report returns a snapshot of call sites keyed by function index.
func (c *CallCounter) Report() map[uint32]CallSites {
	c.report.mu.Lock()
	defer c.report.mu.Unlock()
	return maps.Clone(c.report.sites)
}

func (c *CallCounter) Reset() {
	c.report.mu.Lock()
	defer c.report.mu.Unlock()
	clear(c.report.sites)
}

type functionCalls struct {
	report *callReport
	sites  CallSites
	index  uint32
	depth  int
}

func (f *functionCalls) Feed(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
	switch ev.Opcode {
	case wasm.OpCall:
		f.sites.Direct++
	case wasm.OpCallIndirect:
		f.sites.Indirect++
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		f.depth++
	case wasm.OpEnd:
		if f.depth == 0 {
			f.report.mu.Lock()
			f.report.sites[f.index] = f.sites
			f.report.mu.Unlock()
		}
		f.depth--
	}
	s.Push(ev)
	return nil
}
