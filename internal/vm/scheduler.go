package vm

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var schedLog = commonlog.GetLogger("runevm.sched")

type taskState uint8

const (
	taskPending taskState = iota // created by a lazy async call, not started
	taskReady
	taskRunning
	taskParked
	taskDone
	taskCancelled
	taskIdle // a stream between two next() steps
)

// Task is one suspendable VM call stack. While it runs, its stack and
// frames are swapped into the VM.
type Task struct {
	id     int
	fn     *Function
	future *Future

	stack      []Value
	sp         int
	frames     []CallFrame
	frameCount int
	parkedAt   int // offset of the AWAIT or SELECT the task is parked on

	state     taskState
	waitingOn []*Future
	resume    func(vm *VM) error // run first when the task continues

	stream *Generator // set for the task behind a stream
}

type completion struct {
	future *Future
	value  Value
	err    error
}

// scheduler drives tasks of one VM strictly one at a time.
type scheduler struct {
	vm    *VM
	clock Clock
	log   commonlog.Logger

	ready  []*Task
	timers timerHeap
	nextID int

	// outstanding counts host promises of the current run not yet completed.
	outstanding int
	gen         int

	mu          sync.Mutex
	completions []completion
	signal      chan struct{}
}

func newScheduler(vm *VM) *scheduler {
	return &scheduler{
		vm:     vm,
		log:    schedLog,
		signal: make(chan struct{}, 1),
	}
}

func (s *scheduler) id() int {
	s.nextID++
	return s.nextID
}

func (s *scheduler) newFuture() *Future {
	return &Future{id: s.id()}
}

// newTask prepares a task that calls f with args from an empty stack.
func (s *scheduler) newTask(f *Function, args []Value) *Task {
	info := f.Info()
	size := len(args) + info.FrameSize
	if size < InitialStackSize {
		size = InitialStackSize
	}
	t := &Task{
		id:         s.id(),
		fn:         f,
		stack:      make([]Value, size),
		sp:         len(args),
		frames:     make([]CallFrame, InitialFrameCount),
		frameCount: 1,
	}
	copy(t.stack, args)
	t.frames[0] = CallFrame{fn: f, info: info, ip: info.Entry, base: 0, retSp: 0}
	t.future = &Future{id: t.id, task: t}
	return t
}

// spawn creates the lazy task of an async call.
func (s *scheduler) spawn(f *Function, args []Value) *Future {
	t := s.newTask(f, args)
	s.log.Debugf("spawned task #%d (%s)", t.id, f.Name)
	return t.future
}

// start schedules the task behind f if it has not started yet.
func (s *scheduler) start(f *Future) {
	if t := f.task; t != nil && t.state == taskPending {
		t.state = taskReady
		s.ready = append(s.ready, t)
		s.log.Debugf("started task #%d (%s)", t.id, t.fn.Name)
	}
}

func (s *scheduler) park(t *Task) {
	t.state = taskParked
	t.parkedAt = s.vm.opStart
	s.log.Debugf("task #%d parked on %d future(s)", t.id, len(t.waitingOn))
}

// wake makes a parked task ready and withdraws it from the other futures
// it was waiting on.
func (s *scheduler) wake(t *Task) {
	if t.state != taskParked {
		return
	}
	for _, f := range t.waitingOn {
		f.removeAwaiter(t, nil)
	}
	t.waitingOn = nil
	t.state = taskReady
	s.ready = append(s.ready, t)
	s.log.Debugf("woke task #%d", t.id)
}

func (s *scheduler) resolve(f *Future, v Value) {
	if f.status != FuturePending {
		return
	}
	f.status = FutureResolved
	f.result = v
	s.settle(f)
}

func (s *scheduler) fail(f *Future, err error) {
	if f.status != FuturePending {
		return
	}
	f.status = FutureFailed
	f.err = err
	s.settle(f)
}

// settle runs the awaiters of a completed future in registration order.
func (s *scheduler) settle(f *Future) {
	s.releasePromise(f)
	awaiters := f.awaiters
	f.awaiters = nil
	for _, a := range awaiters {
		a.fn(f)
	}
}

// releasePromise stops counting f as outstanding. Promises left over from an
// earlier run were already forgotten by reset.
func (s *scheduler) releasePromise(f *Future) {
	if !f.promise {
		return
	}
	f.promise = false
	if f.gen == s.gen {
		s.outstanding--
	}
}

// cancelUnwaited cancels a pending future nobody is waiting on.
func (s *scheduler) cancelUnwaited(f *Future) {
	if f.status == FuturePending && len(f.awaiters) == 0 {
		s.cancel(f)
	}
}

// cancel drops a pending future without running it further. The task behind
// it is discarded, and so are the futures it was parked on when nothing else
// waits on them.
func (s *scheduler) cancel(f *Future) {
	if f.status != FuturePending {
		return
	}
	f.status = FutureCancelled
	s.releasePromise(f)
	if f.timer != nil {
		if f.timer.index >= 0 {
			heap.Remove(&s.timers, f.timer.index)
		}
		f.timer = nil
	}
	if t := f.task; t != nil && t.state != taskDone && t.state != taskCancelled {
		s.log.Debugf("cancelled task #%d (%s)", t.id, t.fn.Name)
		t.state = taskCancelled
		if t.stream != nil {
			t.stream.status = GeneratorDone
		}
		waiting := t.waitingOn
		t.waitingOn = nil
		t.stack, t.frames, t.resume = nil, nil, nil
		for _, g := range waiting {
			g.removeAwaiter(t, nil)
			s.cancelUnwaited(g)
		}
	}
	if f.onCancel != nil {
		f.onCancel()
	}
	f.awaiters = nil
}

// after creates a timer future.
func (s *scheduler) after(d time.Duration) *Future {
	f := s.newFuture()
	e := &timerEntry{deadline: s.clock.Now().Add(d), seq: f.id, future: f}
	f.timer = e
	heap.Push(&s.timers, e)
	return f
}

// fireTimers resolves every timer whose deadline has passed, earliest first.
func (s *scheduler) fireTimers() {
	now := s.clock.Now()
	for s.timers.Len() > 0 && !s.timers[0].deadline.After(now) {
		e := heap.Pop(&s.timers).(*timerEntry)
		e.future.timer = nil
		s.resolve(e.future, UnitVal())
	}
}

// post hands a host completion to the driving loop. Safe from any goroutine.
func (s *scheduler) post(c completion) {
	s.mu.Lock()
	s.completions = append(s.completions, c)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *scheduler) drainCompletions() {
	s.mu.Lock()
	pending := s.completions
	s.completions = nil
	s.mu.Unlock()
	for _, c := range pending {
		if c.future.gen != s.gen {
			s.log.Debugf("dropped completion of a promise from an earlier run")
			continue
		}
		if c.err != nil {
			s.fail(c.future, c.err)
		} else {
			s.resolve(c.future, c.value)
		}
	}
}

// load swaps a task's stack into the VM.
func (s *scheduler) load(t *Task) {
	vm := s.vm
	vm.task = t
	vm.stack, vm.sp = t.stack, t.sp
	vm.frames, vm.frameCount = t.frames, t.frameCount
	vm.refreshFrame()
	vm.opStart = t.parkedAt
}

func (s *scheduler) save(t *Task) {
	vm := s.vm
	t.stack, t.sp = vm.stack, vm.sp
	t.frames, t.frameCount = vm.frames, vm.frameCount
	vm.task = nil
}

// runTask advances t until it completes, fails or parks again.
func (s *scheduler) runTask(t *Task) error {
	vm := s.vm
	s.load(t)
	t.state = taskRunning

	var (
		res  Value
		done bool
		err  error
	)
	if resume := t.resume; resume != nil {
		t.resume = nil
		if err = resume(vm); err != nil {
			err = vm.formatError(err)
		}
	}
	if err == nil {
		res, done, err = vm.execute(0)
	}
	yielded, v := vm.yielded, vm.yieldValue
	vm.yielded, vm.yieldValue = false, Value{}
	s.save(t)

	switch {
	case err != nil:
		t.state = taskDone
		t.stack, t.frames = nil, nil
		if t.stream != nil {
			t.stream.status = GeneratorDone
		}
		s.log.Debugf("task #%d failed: %s", t.id, err)
		s.fail(t.future, err)
	case done:
		t.state = taskDone
		t.stack, t.frames = nil, nil
		if t.stream != nil {
			t.stream.status = GeneratorDone
			res = NoneVal()
		}
		s.resolve(t.future, res)
	case yielded:
		t.state = taskIdle
		t.stream.status = GeneratorSuspended
		s.resolve(t.future, SomeVal(v))
	}
	return err
}

// run drives root and everything it starts until root completes.
func (s *scheduler) run(ctx context.Context, root *Task) (Value, error) {
	vm := s.vm
	defer s.reset()

	root.state = taskReady
	s.ready = append(s.ready[:0], root)
	for {
		for len(s.ready) > 0 {
			t := s.ready[0]
			s.ready[0] = nil
			s.ready = s.ready[1:]
			if t.state != taskReady {
				continue
			}
			err := s.runTask(t)
			if root.future.status != FuturePending {
				root.future.consumed = true
				if root.future.status == FutureFailed {
					return UnitVal(), root.future.err
				}
				return root.future.result, nil
			}
			if err != nil && isCancelled(err) {
				return UnitVal(), err
			}
			if ctx.Err() != nil {
				return UnitVal(), s.cancelled(ctx, root)
			}
		}

		s.drainCompletions()
		if len(s.ready) > 0 {
			continue
		}

		switch {
		case s.timers.Len() > 0:
			select {
			case <-s.clock.Until(s.timers[0].deadline):
				s.fireTimers()
			case <-s.signal:
			case <-ctx.Done():
				return UnitVal(), s.cancelled(ctx, root)
			}
		case s.outstanding > 0:
			select {
			case <-s.signal:
			case <-ctx.Done():
				return UnitVal(), s.cancelled(ctx, root)
			}
		default:
			s.load(root)
			err := vm.formatError(newPanic(ErrDeadlock, "every task is waiting and nothing can complete a future"))
			s.save(root)
			return UnitVal(), err
		}
	}
}

func isCancelled(err error) bool {
	p, ok := err.(*Panic)
	return ok && p.Kind == ErrCancelled
}

func (s *scheduler) cancelled(ctx context.Context, root *Task) error {
	p := newPanic(ErrCancelled, "%v", ctx.Err())
	p.Cause = ctx.Err()
	if root.state == taskParked {
		s.load(root)
		err := s.vm.formatError(p)
		s.save(root)
		return err
	}
	return p
}

// reset forgets the tasks, timers and promises of a finished run.
func (s *scheduler) reset() {
	vm := s.vm
	vm.task = nil
	vm.sp = 0
	vm.frameCount = 0
	vm.frame = nil
	s.ready = nil
	s.timers = nil
	s.outstanding = 0
	s.gen++
	vm.yielded, vm.yieldValue = false, Value{}
	s.mu.Lock()
	s.completions = nil
	s.mu.Unlock()
	select {
	case <-s.signal:
	default:
	}
}

type timerEntry struct {
	deadline time.Time
	seq      int
	future   *Future
	index    int
}

// timerHeap orders timers by deadline, then by creation.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
