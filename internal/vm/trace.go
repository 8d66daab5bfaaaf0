package vm

import (
	"strings"

	"github.com/tliron/commonlog"

	"github.com/funvibe/runevm/internal/ast"
)

// TraceEvent describes one instruction about to execute.
type TraceEvent struct {
	Function string
	Offset   int
	Op       Opcode
	Span     ast.Span
	Locals   []string // names of the locals in scope
	Depth    int      // call depth of the running task
	Task     int
}

// Tracer receives every executed instruction.
type Tracer interface {
	Trace(ev TraceEvent)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(ev TraceEvent)

func (f TracerFunc) Trace(ev TraceEvent) { f(ev) }

type logTracer struct {
	log commonlog.Logger
}

// NewLogTracer logs every instruction at debug level.
func NewLogTracer(log commonlog.Logger) Tracer {
	return logTracer{log: log}
}

func (t logTracer) Trace(ev TraceEvent) {
	t.log.Debugf("task #%d %s%s %04d %-14s %s [%s]", ev.Task, strings.Repeat("  ", ev.Depth-1),
		ev.Function, ev.Offset, ev.Op, ev.Span, strings.Join(ev.Locals, ", "))
}

func (vm *VM) traceInstruction(op Opcode) {
	ev := TraceEvent{
		Function: vm.frame.info.Name,
		Offset:   vm.opStart,
		Op:       op,
		Span:     vm.unit.SpanAt(vm.opStart),
		Locals:   vm.frame.info.LocalsAt(vm.opStart),
		Depth:    vm.frameCount,
	}
	if vm.task != nil {
		ev.Task = vm.task.id
	}
	vm.tracer.Trace(ev)
}
