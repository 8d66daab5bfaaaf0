package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/tliron/commonlog"

	"github.com/funvibe/runevm/internal/config"
)

var vmLog = commonlog.GetLogger("runevm.vm")

// Initial sizes for a task's stack and frames
const InitialStackSize = 256
const InitialFrameCount = 16

// CallFrame represents a single ongoing function call
type CallFrame struct {
	fn    *Function     // The function being executed (closures carry captures)
	info  *FunctionInfo // shortcut to fn.Info()
	ip    int           // Instruction pointer into Unit.Code
	base  int           // First argument slot
	retSp int           // Stack height restored on return
}

// VM is the virtual machine that executes a loaded Unit
type VM struct {
	// Operand stack and frames of the running task. They are swapped in and
	// out of Task values by the scheduler.
	stack      []Value
	sp         int
	frames     []CallFrame
	frameCount int
	frame      *CallFrame

	// opStart is the offset of the instruction being executed
	opStart int

	unit      *Unit
	constants []Value
	fnValues  []*Function // one per unit function
	natives   []*Function // Unit.Natives linked against the Context
	impls     map[string]map[string]int

	registry *Context
	cfg      config.Config
	out      io.Writer
	tracer   Tracer
	log      commonlog.Logger

	sched *scheduler
	task  *Task

	// runCtx cancels the current run
	runCtx        context.Context
	opsSinceCheck int

	// nested counts native callbacks running inside an instruction; a task
	// cannot suspend while one is active.
	nested int

	// yielded is set by YIELD and stops the interpreter loop; whoever
	// resumed the generator takes yieldValue and clears it.
	yielded    bool
	yieldValue Value
}

// Option configures a VM.
type Option func(*VM)

// WithContext sets the native function registry.
func WithContext(c *Context) Option {
	return func(vm *VM) { vm.registry = c }
}

// WithConfig sets limits, clock and tracing from a configuration.
func WithConfig(cfg config.Config) Option {
	return func(vm *VM) { vm.cfg = cfg }
}

// WithOutput sets the writer print and println write to (defaults to os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithTracer receives every executed instruction.
func WithTracer(t Tracer) Option {
	return func(vm *VM) { vm.tracer = t }
}

// WithClock replaces the clock selected by the configuration.
func WithClock(c Clock) Option {
	return func(vm *VM) { vm.sched.clock = c }
}

// WithLogger replaces the VM's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// New creates a new VM instance
func New(opts ...Option) *VM {
	vm := &VM{
		cfg:      config.Default(),
		out:      os.Stdout,
		log:      vmLog,
		registry: NewContext(),
	}
	vm.sched = newScheduler(vm)
	for _, opt := range opts {
		opt(vm)
	}
	if vm.sched.clock == nil {
		if vm.cfg.Clock == config.ClockReal {
			vm.sched.clock = RealClock{}
		} else {
			vm.sched.clock = NewVirtualClock()
		}
	}
	if vm.tracer == nil && vm.cfg.Trace {
		vm.tracer = NewLogTracer(vm.log)
	}
	return vm
}

// Output is the writer natives print to.
func (vm *VM) Output() io.Writer {
	return vm.out
}

// Context returns the native function registry.
func (vm *VM) Context() *Context {
	return vm.registry
}

// Unit returns the loaded unit.
func (vm *VM) Unit() *Unit {
	return vm.unit
}

// Load validates the unit and links its native references against the
// Context. A VM runs one unit; loading again replaces it.
func (vm *VM) Load(u *Unit) error {
	if err := u.Validate(); err != nil {
		return err
	}

	natives := make([]*Function, len(u.Natives))
	for i, ref := range u.Natives {
		n, ok := vm.registry.Lookup(ref.Path)
		if !ok {
			return fmt.Errorf("%w: native function %s is not registered", ErrMissingFunction, ref.Path)
		}
		if n.Arity != ref.Arity {
			return fmt.Errorf("%w: native function %s takes %d arguments, unit was compiled against %d",
				ErrArityMismatch, ref.Path, n.Arity, ref.Arity)
		}
		natives[i] = &Function{Name: ref.Path, Index: -1, Native: n}
	}

	constants := make([]Value, len(u.Constants))
	for i, c := range u.Constants {
		switch c.Kind {
		case ConstInt, ConstByte:
			constants[i] = IntVal(c.Int)
		case ConstFloat:
			constants[i] = FloatVal(c.Float)
		case ConstChar:
			constants[i] = CharVal(rune(c.Int))
		case ConstBytes:
			// copied on every load, see OP_CONST
			constants[i] = BytesVal(c.Bytes)
		default:
			return fmt.Errorf("%w: constant %d has unknown kind %d", ErrInvalidUnit, i, c.Kind)
		}
	}

	fnValues := make([]*Function, len(u.Functions))
	for i := range u.Functions {
		fnValues[i] = &Function{Name: u.Functions[i].Name, Unit: u, Index: i}
	}

	impls := make(map[string]map[string]int)
	for _, im := range u.Impls {
		if impls[im.Type] == nil {
			impls[im.Type] = make(map[string]int)
		}
		impls[im.Type][im.Name] = im.Fn
	}

	vm.unit = u
	vm.natives = natives
	vm.constants = constants
	vm.fnValues = fnValues
	vm.impls = impls
	vm.log.Infof("loaded unit %s (%s): %d functions, %d natives", u.ID, u.Source, len(u.Functions), len(u.Natives))
	return nil
}

// Function returns the named unit function as a callable value.
func (vm *VM) Function(name string) (Value, bool) {
	if vm.unit == nil {
		return UnitVal(), false
	}
	idx, ok := vm.unit.LookupFunction(name)
	if !ok {
		return UnitVal(), false
	}
	return FunctionVal(vm.fnValues[idx]), true
}

// Call runs a unit function by name. Async functions are driven to
// completion by the scheduler.
func (vm *VM) Call(ctx context.Context, name string, args ...Value) (Value, error) {
	fn, ok := vm.Function(name)
	if !ok {
		return UnitVal(), newPanic(ErrMissingFunction, "no function named %s", name)
	}
	return vm.CallValue(ctx, fn, args...)
}

// CallValue calls a function value. From the host it starts a new run;
// from inside a native function it runs the callee on the current task and
// returns when it does. A callee that needs to suspend gets a Future back
// instead of suspending the caller.
func (vm *VM) CallValue(ctx context.Context, fn Value, args ...Value) (Value, error) {
	if fn.Type != ValFunction {
		return UnitVal(), newPanic(ErrTypeMismatch, "cannot call a value of type %s", fn.TypeName())
	}
	f := fn.Obj.(*Function)
	if vm.task != nil {
		return vm.callNested(f, args)
	}
	if vm.unit == nil && f.Native == nil {
		return UnitVal(), errors.New("no unit loaded")
	}
	return vm.run(ctx, f, args)
}

// StackDepth is the operand-stack height of the running task, 0 when idle.
func (vm *VM) StackDepth() int {
	if vm.task == nil {
		return 0
	}
	return vm.sp
}

// run drives a root task to completion.
func (vm *VM) run(ctx context.Context, f *Function, args []Value) (Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.Native != nil {
		return vm.callNative(f.Native, args)
	}
	if err := checkArity(f, len(args)); err != nil {
		return UnitVal(), err
	}
	if f.Info().Generator {
		return vm.newGenerator(f, args), nil
	}
	vm.runCtx = ctx
	defer func() { vm.runCtx = nil }()
	vm.opsSinceCheck = 0

	// The root task runs the body directly, async or not.
	root := vm.sched.newTask(f, args)
	return vm.sched.run(ctx, root)
}

// callNested runs a function on the current task from inside a native.
func (vm *VM) callNested(f *Function, args []Value) (Value, error) {
	if f.Native != nil {
		return vm.callNative(f.Native, args)
	}
	if err := checkArity(f, len(args)); err != nil {
		return UnitVal(), err
	}
	info := f.Info()
	if info.Generator {
		return vm.newGenerator(f, args), nil
	}
	if info.Async {
		return FutureVal(vm.sched.spawn(f, args)), nil
	}

	savedSp, savedFrames := vm.sp, vm.frameCount
	for _, a := range args {
		vm.push(a)
	}
	if err := vm.pushFrame(f, len(args), savedSp); err != nil {
		vm.unwindTo(savedSp, savedFrames)
		return UnitVal(), err
	}
	vm.nested++
	res, done, err := vm.execute(savedFrames)
	vm.nested--
	if err != nil || !done {
		vm.unwindTo(savedSp, savedFrames)
		if err == nil {
			err = newPanic(ErrSuspend, "function suspended inside a native callback")
		}
		return UnitVal(), err
	}
	return res, nil
}

// unwindTo drops frames and stack values above a saved state.
func (vm *VM) unwindTo(sp, frameCount int) {
	for i := sp; i < vm.sp && i < len(vm.stack); i++ {
		vm.stack[i] = Value{}
	}
	vm.sp = sp
	vm.frameCount = frameCount
	vm.refreshFrame()
}

func (vm *VM) refreshFrame() {
	if vm.frameCount > 0 {
		vm.frame = &vm.frames[vm.frameCount-1]
	} else {
		vm.frame = nil
	}
}

func checkArity(f *Function, argc int) error {
	want := f.Arity()
	if want != Variadic && want != argc {
		return newPanic(ErrArityMismatch, "%s takes %d argument(s), got %d", f.Name, want, argc)
	}
	return nil
}

// execute is the main interpreter loop. It runs the current task until the
// frame count drops to stopAt (done), the task parks, or an error occurs.
func (vm *VM) execute(stopAt int) (Value, bool, error) {
	interval := vm.cfg.CheckInterval
	if interval <= 0 {
		interval = config.DefaultCheckInterval
	}
	for {
		// Check for cancellation periodically
		vm.opsSinceCheck++
		if vm.opsSinceCheck >= interval {
			vm.opsSinceCheck = 0
			if vm.runCtx != nil {
				select {
				case <-vm.runCtx.Done():
					p := newPanic(ErrCancelled, "%v", vm.runCtx.Err())
					p.Cause = vm.runCtx.Err()
					return UnitVal(), false, vm.formatError(p)
				default:
				}
			}
		}

		result, done, err := vm.step(stopAt)
		if err != nil {
			return UnitVal(), false, vm.formatError(err)
		}
		if done {
			return result, true, nil
		}
		if vm.yielded {
			return UnitVal(), false, nil
		}
		if vm.task != nil && vm.task.state == taskParked {
			return UnitVal(), false, nil
		}
	}
}

// step executes one instruction and returns (result, done, error)
// done is true when a return dropped the frame count to stopAt
func (vm *VM) step(stopAt int) (res Value, done bool, err error) {
	// Recover from internal invariant breaks
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *Panic:
				err = e
			case runtime.Error:
				// A native that trusted its arguments; fail the run, not the host.
				p := newPanic(ErrNative, "%v", e)
				p.Cause = e
				err = p
			case error:
				if e == errTruncatedBytecode || e == errStackUnderflow || e == errInvalidConstantIndex {
					err = e
					return
				}
				panic(r)
			default:
				panic(r) // Re-panic other errors
			}
		}
	}()

	code := vm.unit.Code
	if vm.frame.ip >= len(code) {
		panic(errTruncatedBytecode)
	}
	vm.opStart = vm.frame.ip
	op := Opcode(code[vm.frame.ip])
	vm.frame.ip++

	if vm.tracer != nil {
		vm.traceInstruction(op)
	}

	switch op {
	case OP_RETURN:
		result := vm.pop()
		return result, vm.returnFrom(result, stopAt), nil

	case OP_RETURN_UNIT:
		return UnitVal(), vm.returnFrom(UnitVal(), stopAt), nil

	case OP_TRY:
		v := vm.pop()
		switch {
		case v.Type == ValOption && v.IsSome(), v.Type == ValResult && v.IsOk():
			vm.push(v.Inner())
			return UnitVal(), false, nil
		case v.Type == ValOption, v.Type == ValResult:
			return v, vm.returnFrom(v, stopAt), nil
		}
		return UnitVal(), false, newPanic(ErrTypeMismatch, "? expects Option or Result, got %s", v.TypeName())

	default:
		return UnitVal(), false, vm.executeOneOp(op)
	}
}

// returnFrom pops the current frame. It reports whether the run that
// started at stopAt is complete; otherwise the result is pushed for the
// caller.
func (vm *VM) returnFrom(result Value, stopAt int) bool {
	frame := vm.frame
	for i := frame.retSp; i < vm.sp; i++ {
		vm.stack[i] = Value{}
	}
	vm.sp = frame.retSp
	vm.frameCount--
	vm.refreshFrame()
	if vm.frameCount <= stopAt {
		return true
	}
	vm.push(result)
	return false
}

// pushFrame enters a unit function whose argc arguments are on top of the stack.
func (vm *VM) pushFrame(f *Function, argc, retSp int) error {
	if vm.frameCount >= vm.maxFrames() {
		return newPanic(ErrStackOverflow, "call depth exceeded %d frames", vm.maxFrames())
	}
	info := f.Info()
	base := vm.sp - argc
	if need := base + info.FrameSize; need > len(vm.stack) {
		if need > vm.maxStack() {
			return newPanic(ErrStackOverflow, "operand stack exceeded %d values", vm.maxStack())
		}
		vm.growStack(need)
	}
	if vm.frameCount == len(vm.frames) {
		vm.frames = append(vm.frames, CallFrame{})
		vm.frames = vm.frames[:cap(vm.frames)]
	}
	vm.frames[vm.frameCount] = CallFrame{fn: f, info: info, ip: info.Entry, base: base, retSp: retSp}
	vm.frameCount++
	vm.frame = &vm.frames[vm.frameCount-1]
	return nil
}

func (vm *VM) maxFrames() int {
	if vm.cfg.MaxFrames > 0 {
		return vm.cfg.MaxFrames
	}
	return config.DefaultMaxFrames
}

func (vm *VM) maxStack() int {
	if vm.cfg.MaxStack > 0 {
		return vm.cfg.MaxStack
	}
	return config.DefaultMaxStack
}

func (vm *VM) growStack(need int) {
	size := len(vm.stack) * 2
	if size < InitialStackSize {
		size = InitialStackSize
	}
	for size < need {
		size *= 2
	}
	if size > vm.maxStack() {
		size = vm.maxStack()
	}
	newStack := make([]Value, size)
	copy(newStack, vm.stack[:vm.sp])
	vm.stack = newStack
}

// Stack operations
func (vm *VM) push(v Value) {
	if vm.sp >= len(vm.stack) {
		if vm.sp >= vm.maxStack() {
			panic(newPanic(ErrStackOverflow, "operand stack exceeded %d values", vm.maxStack()))
		}
		vm.growStack(vm.sp + 1)
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	if vm.sp <= vm.frame.base {
		panic(errStackUnderflow)
	}
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = Value{}
	return v
}

func (vm *VM) peek(distance int) Value {
	idx := vm.sp - 1 - distance
	if idx < vm.frame.base {
		panic(errStackUnderflow)
	}
	return vm.stack[idx]
}

// popN removes the top n values and returns them in push order.
func (vm *VM) popN(n int) []Value {
	if vm.sp-n < vm.frame.base {
		panic(errStackUnderflow)
	}
	items := make([]Value, n)
	copy(items, vm.stack[vm.sp-n:vm.sp])
	for i := vm.sp - n; i < vm.sp; i++ {
		vm.stack[i] = Value{}
	}
	vm.sp -= n
	return items
}

// Read helpers
func (vm *VM) readByte() byte {
	if vm.frame.ip >= len(vm.unit.Code) {
		panic(errTruncatedBytecode)
	}
	b := vm.unit.Code[vm.frame.ip]
	vm.frame.ip++
	return b
}

func (vm *VM) readU16() int {
	high := vm.readByte()
	low := vm.readByte()
	return int(high)<<8 | int(low)
}

func (vm *VM) readU32() int {
	if vm.frame.ip+4 > len(vm.unit.Code) {
		panic(errTruncatedBytecode)
	}
	v := vm.unit.ReadU32(vm.frame.ip)
	vm.frame.ip += 4
	return v
}

func (vm *VM) readConstant() Value {
	idx := vm.readU16()
	if idx >= len(vm.constants) {
		panic(errInvalidConstantIndex)
	}
	c := vm.constants[idx]
	if c.Type == ValBytes {
		// Byte-string literals are mutable buffers: each evaluation gets its own.
		return BytesVal(append([]byte(nil), c.Obj.(*Bytes).B...))
	}
	return c
}

func (vm *VM) readString() string {
	idx := vm.readU16()
	if idx >= len(vm.unit.Strings) {
		panic(errInvalidConstantIndex)
	}
	return vm.unit.Strings[idx]
}

// formatError attaches location and a frame trace to an error raised by the
// current task. Errors that already carry a location pass through.
func (vm *VM) formatError(err error) error {
	var p *Panic
	if !errors.As(err, &p) {
		p = &Panic{Kind: err, Cause: err}
	}
	if p.Function != "" || vm.frame == nil {
		return p
	}

	p.IP = vm.opStart
	p.Span = vm.unit.SpanAt(vm.opStart)
	p.Function = vm.frame.info.Name
	p.UnitID = vm.unit.ID
	p.Trace = vm.traceFrames(vm.opStart)
	return p
}

// traceFrames walks the frames innermost first. The innermost frame is at
// offset; callers are reported at their call instruction.
func (vm *VM) traceFrames(offset int) []TraceFrame {
	trace := make([]TraceFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		fr := &vm.frames[i]
		at := fr.ip - 1
		if i == vm.frameCount-1 {
			at = offset
		}
		trace = append(trace, TraceFrame{
			Function: fr.info.Name,
			Offset:   at,
			Span:     vm.unit.SpanAt(at),
			Locals:   fr.info.LocalsAt(at),
		})
	}
	return trace
}
