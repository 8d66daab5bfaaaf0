package vm

import "fmt"

type GeneratorStatus uint8

const (
	GeneratorFresh GeneratorStatus = iota
	GeneratorSuspended
	GeneratorRunning
	GeneratorDone
)

func (s GeneratorStatus) String() string {
	switch s {
	case GeneratorFresh:
		return "fresh"
	case GeneratorSuspended:
		return "suspended"
	case GeneratorRunning:
		return "running"
	case GeneratorDone:
		return "done"
	}
	return "unknown"
}

// Generator is the suspended call stack of a function whose body yields.
// A sync generator is advanced in place by Resume. A stream (an async
// generator) runs as a scheduler task, one step per StreamNext future.
type Generator struct {
	id     int
	fn     *Function
	task   *Task
	status GeneratorStatus
	stream bool
}

func (g *Generator) Inspect() string {
	kind := "generator"
	if g.stream {
		kind = "stream"
	}
	return fmt.Sprintf("<%s %s #%d %s>", kind, g.fn.Name, g.id, g.status)
}

// Status reports where the generator is in its life cycle.
func (g *Generator) Status() GeneratorStatus { return g.status }

// IsStream reports whether g was created by an async generator function.
func (g *Generator) IsStream() bool { return g.stream }

func (g *Generator) finish() {
	g.status = GeneratorDone
	if t := g.task; t != nil {
		t.stack, t.frames, t.resume = nil, nil, nil
	}
}

// newGenerator captures the call of a generator function without running
// any of its body.
func (vm *VM) newGenerator(f *Function, args []Value) Value {
	t := vm.sched.newTask(f, args)
	g := &Generator{id: t.id, fn: f, task: t}
	if f.Info().Async {
		g.stream = true
		t.stream = g
		t.state = taskIdle
	}
	vm.log.Debugf("created %s", g.Inspect())
	return GeneratorVal(g)
}

// Resume runs a sync generator until its next yield or its end. For a
// yield it returns the yielded value and true; once the body returns it
// returns the return value and false. sent becomes the value of the yield
// expression the generator is suspended on; it is dropped on the first
// resume.
func (vm *VM) Resume(g *Generator, sent Value) (Value, bool, error) {
	if g.stream {
		return UnitVal(), false, newPanic(ErrTypeMismatch, "%s is advanced with next().await", g.Inspect())
	}
	switch g.status {
	case GeneratorDone:
		return UnitVal(), false, newPanic(ErrGeneratorDone, "%s cannot be resumed", g.Inspect())
	case GeneratorRunning:
		return UnitVal(), false, newPanic(ErrGeneratorRunning, "%s resumed from its own body", g.Inspect())
	}
	if vm.unit == nil || g.fn.Unit != vm.unit {
		return UnitVal(), false, newPanic(ErrInvalidUnit, "%s belongs to another unit", g.Inspect())
	}

	t := g.task
	stack, sp, frames, frameCount, opStart := vm.stack, vm.sp, vm.frames, vm.frameCount, vm.opStart
	vm.stack, vm.sp, vm.frames, vm.frameCount = t.stack, t.sp, t.frames, t.frameCount
	vm.refreshFrame()
	if g.status == GeneratorSuspended {
		vm.push(sent)
	}
	g.status = GeneratorRunning

	vm.nested++
	res, done, err := vm.execute(0)
	vm.nested--
	yielded, v := vm.yielded, vm.yieldValue
	vm.yielded, vm.yieldValue = false, Value{}

	t.stack, t.sp, t.frames, t.frameCount = vm.stack, vm.sp, vm.frames, vm.frameCount
	vm.stack, vm.sp, vm.frames, vm.frameCount, vm.opStart = stack, sp, frames, frameCount, opStart
	vm.refreshFrame()

	switch {
	case err != nil:
		g.finish()
		return UnitVal(), false, err
	case done:
		g.finish()
		return res, false, nil
	case yielded:
		g.status = GeneratorSuspended
		return v, true, nil
	}
	g.finish()
	return UnitVal(), false, newPanic(ErrSuspend, "%s stopped without yielding", g.Inspect())
}

// StreamNext schedules the next step of a stream and returns its future:
// Some(value) for a yield, None once the body has returned. Like an async
// call the step starts when the future is first awaited.
func (vm *VM) StreamNext(g *Generator) (Value, error) {
	if !g.stream {
		return UnitVal(), newPanic(ErrTypeMismatch, "%s is advanced with resume or next", g.Inspect())
	}
	s := vm.sched
	switch g.status {
	case GeneratorDone:
		return vm.Ready(NoneVal()), nil
	case GeneratorRunning:
		return UnitVal(), newPanic(ErrGeneratorRunning, "%s already has a pending next()", g.Inspect())
	}

	t := g.task
	f := s.newFuture()
	f.task = t
	t.future = f
	if g.status == GeneratorSuspended {
		t.resume = func(vm *VM) error {
			vm.push(UnitVal())
			return nil
		}
	}
	g.status = GeneratorRunning
	t.state = taskPending
	return FutureVal(f), nil
}

// CancelStream stops a stream. A pending next() future is cancelled and
// later calls to next() resolve to None.
func (vm *VM) CancelStream(g *Generator) {
	if g.status == GeneratorDone {
		return
	}
	if f := g.task.future; g.status == GeneratorRunning && f != nil && f.status == FuturePending {
		vm.sched.cancel(f)
	}
	g.task.state = taskCancelled
	g.finish()
}
