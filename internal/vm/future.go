package vm

import (
	"fmt"
	"sync"
	"time"
)

type FutureStatus int

const (
	FuturePending FutureStatus = iota
	FutureResolved
	FutureCancelled
	FutureFailed
)

func (s FutureStatus) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureResolved:
		return "resolved"
	case FutureCancelled:
		return "cancelled"
	case FutureFailed:
		return "failed"
	}
	return "unknown"
}

// awaiter is a completion callback. Awaiters registered by a parked task
// carry the task, join awaiters carry the join future, so either can be
// unregistered when its owner stops waiting.
type awaiter struct {
	task  *Task
	owner *Future
	fn    func(f *Future)
}

// Future is an awaitable handle: the result of an async function call, a
// timer, a host promise or a join. All fields are owned by the scheduler's
// driving loop.
type Future struct {
	id       int
	status   FutureStatus
	result   Value
	err      error
	consumed bool

	task     *Task       // lazy body of an async call
	timer    *timerEntry // pending deadline of a sleep
	promise  bool        // completed by the host through a Promise
	gen      int         // scheduler run a promise belongs to
	onCancel func()

	awaiters []awaiter
}

func (f *Future) Inspect() string {
	return fmt.Sprintf("<future #%d %s>", f.id, f.status)
}

// Status reports the completion state.
func (f *Future) Status() FutureStatus { return f.status }

func (f *Future) done() bool {
	return f.status == FutureResolved || f.status == FutureFailed
}

func (f *Future) addAwaiter(a awaiter) {
	f.awaiters = append(f.awaiters, a)
}

// removeAwaiter drops the awaiters registered by task or owner.
func (f *Future) removeAwaiter(task *Task, owner *Future) {
	kept := f.awaiters[:0]
	for _, a := range f.awaiters {
		if (task != nil && a.task == task) || (owner != nil && a.owner == owner) {
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(f.awaiters); i++ {
		f.awaiters[i] = awaiter{}
	}
	f.awaiters = kept
}

// Promise is a future completed by the host, possibly from another
// goroutine. The completion is applied by the driving loop.
type Promise struct {
	sched  *scheduler
	future *Future
	once   sync.Once
}

// NewPromise creates a pending future for the host to complete. The run
// does not deadlock while a promise is outstanding.
func (vm *VM) NewPromise() *Promise {
	s := vm.sched
	f := s.newFuture()
	f.promise = true
	f.gen = s.gen
	s.outstanding++
	return &Promise{sched: s, future: f}
}

// Future returns the script-visible future value.
func (p *Promise) Future() Value {
	return FutureVal(p.future)
}

// Resolve completes the future with v. Only the first completion counts.
func (p *Promise) Resolve(v Value) {
	p.once.Do(func() { p.sched.post(completion{future: p.future, value: v}) })
}

// Reject fails the future. A *Panic keeps its kind; any other error
// becomes an ErrNative panic.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		if _, ok := err.(*Panic); !ok {
			p2 := newPanic(ErrNative, "promise rejected: %v", err)
			p2.Cause = err
			err = p2
		}
		p.sched.post(completion{future: p.future, err: err})
	})
}

// After returns a future that resolves to unit once d has elapsed on the
// VM's clock.
func (vm *VM) After(d time.Duration) Value {
	return FutureVal(vm.sched.after(d))
}

// Ready returns an already-resolved future.
func (vm *VM) Ready(v Value) Value {
	s := vm.sched
	f := s.newFuture()
	s.resolve(f, v)
	return FutureVal(f)
}

// Join returns a future of all member results in input order: a Tuple when
// tuple is set, a Vec otherwise. The first member failure fails the join
// and cancels the members nobody else waits on.
func (vm *VM) Join(members []Value, tuple bool) (Value, error) {
	s := vm.sched
	futs := make([]*Future, len(members))
	for i, m := range members {
		if m.Type != ValFuture {
			return UnitVal(), newPanic(ErrTypeMismatch, "join expects futures, element %d is %s", i, m.TypeName())
		}
		f := m.Obj.(*Future)
		if f.consumed || f.status == FutureCancelled {
			return UnitVal(), newPanic(ErrFutureCompleted, "%s was already consumed", f.Inspect())
		}
		futs[i] = f
	}

	jf := s.newFuture()
	results := make([]Value, len(futs))
	remaining := len(futs)
	finish := func() {
		if tuple {
			s.resolve(jf, TupleVal(results))
		} else {
			s.resolve(jf, VecVal(results))
		}
	}
	if remaining == 0 {
		finish()
		return FutureVal(jf), nil
	}

	release := func() {
		for _, f := range futs {
			f.removeAwaiter(nil, jf)
			s.cancelUnwaited(f)
		}
	}
	jf.onCancel = release

	for i, f := range futs {
		i := i
		on := func(g *Future) {
			if jf.status != FuturePending {
				return
			}
			g.consumed = true
			if g.status == FutureFailed {
				s.fail(jf, g.err)
				release()
				return
			}
			results[i] = g.result
			remaining--
			if remaining == 0 {
				finish()
			}
		}
		if f.done() {
			on(f)
			if jf.status != FuturePending {
				break
			}
			continue
		}
		f.addAwaiter(awaiter{owner: jf, fn: on})
		s.start(f)
	}
	return FutureVal(jf), nil
}

// consume takes the result of a completed future for the running task.
func (vm *VM) consume(f *Future) error {
	if f.consumed || f.status == FutureCancelled {
		return newPanic(ErrFutureCompleted, "%s was already consumed", f.Inspect())
	}
	f.consumed = true
	if f.status == FutureFailed {
		return f.err
	}
	vm.push(f.result)
	return nil
}

// await implements OP_AWAIT: take the result now or park until f completes.
func (vm *VM) await(f *Future) error {
	if f.consumed || f.status == FutureCancelled {
		return newPanic(ErrFutureCompleted, "%s was already consumed", f.Inspect())
	}
	if f.done() {
		return vm.consume(f)
	}
	if vm.nested > 0 || vm.task == nil {
		return newPanic(ErrSuspend, "cannot await inside a native callback")
	}

	s := vm.sched
	t := vm.task
	f.addAwaiter(awaiter{task: t, fn: func(*Future) { s.wake(t) }})
	t.waitingOn = []*Future{f}
	t.resume = func(vm *VM) error { return vm.consume(f) }
	s.park(t)
	s.start(f)
	return nil
}

// selectFutures implements OP_SELECT. It pushes the winning result and the
// index of the winning arm; with a default arm and nothing complete it
// cancels every future and pushes (unit, n).
func (vm *VM) selectFutures(vals []Value, hasDefault bool) error {
	s := vm.sched
	futs := make([]*Future, len(vals))
	for i, v := range vals {
		if v.Type != ValFuture {
			return newPanic(ErrTypeMismatch, "select arm %d expects a Future, got %s", i, v.TypeName())
		}
		f := v.Obj.(*Future)
		if f.consumed || f.status == FutureCancelled {
			return newPanic(ErrFutureCompleted, "%s was already consumed", f.Inspect())
		}
		futs[i] = f
	}

	if i, ok := firstDone(futs); ok {
		return vm.selectWinner(futs, i)
	}
	if hasDefault {
		for _, f := range futs {
			s.cancelUnwaited(f)
		}
		vm.push(UnitVal())
		vm.push(IntVal(int64(len(futs))))
		return nil
	}
	if vm.nested > 0 || vm.task == nil {
		return newPanic(ErrSuspend, "cannot select inside a native callback")
	}

	t := vm.task
	for _, f := range futs {
		f.addAwaiter(awaiter{task: t, fn: func(*Future) { s.wake(t) }})
	}
	t.waitingOn = futs
	t.resume = func(vm *VM) error {
		// Arm order breaks ties between futures completed in the same step.
		i, ok := firstDone(futs)
		if !ok {
			return newPanic(ErrFutureCompleted, "select resumed without a completed future")
		}
		return vm.selectWinner(futs, i)
	}
	s.park(t)
	for _, f := range futs {
		s.start(f)
	}
	return nil
}

func firstDone(futs []*Future) (int, bool) {
	for i, f := range futs {
		if f.done() {
			return i, true
		}
	}
	return 0, false
}

func (vm *VM) selectWinner(futs []*Future, win int) error {
	for i, f := range futs {
		if i != win && f != futs[win] {
			vm.sched.cancelUnwaited(f)
		}
	}
	if err := vm.consume(futs[win]); err != nil {
		return err
	}
	vm.push(IntVal(int64(win)))
	return nil
}
