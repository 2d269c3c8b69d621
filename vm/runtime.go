package vm

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Runtime holds every class loaded so far and resolves the entry point.
// Class handles are shared across recursive interpreter calls: a frame
// invoked on a method of class C still holds C during nested calls.
// LoadClass registers a class under its name, replacing any class
// previously loaded under the same name.
type Runtime struct {
	classes    map[string]*ClassFile
	classPath  []string
	entryClass string

	// classIndexCache maps, per loaded class, constant-pool class-index ->
	// resolved class-name string. Built once per class at load time by
	// walking every MethodRef and following its class-index -> Class ->
	// name chain (SPEC_FULL.md 4.8), so InvokeStatic never has to resolve
	// the same index twice.
	classIndexCache map[string]map[uint16]string

	// Trace, when set, logs every dispatched instruction at debug level -
	// wired to the CLI's --trace flag.
	Trace bool
}

// NewRuntime constructs an empty runtime over the given class-path
// (unused by resolution today - entry classes and InvokeStatic targets
// must already be loaded via LoadClass - but retained on the struct per
// the data model, for a future on-demand loader).
func NewRuntime(classPath []string) *Runtime {
	return &Runtime{
		classes:         make(map[string]*ClassFile),
		classPath:       classPath,
		classIndexCache: make(map[string]map[uint16]string),
	}
}

// LoadClass decodes nothing itself; it registers an already-decoded class
// file under its own class name and builds that class's class-index
// cache. The first class loaded becomes the entry class.
func (rt *Runtime) LoadClass(cf *ClassFile) (string, error) {
	name, err := cf.ClassName()
	if err != nil {
		return "", err
	}

	cache, err := buildClassIndexCache(cf)
	if err != nil {
		return "", err
	}

	rt.classes[name] = cf
	rt.classIndexCache[name] = cache
	if rt.entryClass == "" {
		rt.entryClass = name
	}
	return name, nil
}

func buildClassIndexCache(cf *ClassFile) (map[uint16]string, error) {
	cache := make(map[uint16]string)
	for _, c := range cf.Constants {
		mr, ok := c.(ConstantMethodref)
		if !ok {
			continue
		}
		if _, seen := cache[mr.ClassIndex]; seen {
			continue
		}
		name, err := cf.resolveClassIndexName(mr.ClassIndex)
		if err != nil {
			return nil, err
		}
		cache[mr.ClassIndex] = name
	}
	return cache, nil
}

// Run locates a method named "main" on the entry class and runs it with
// no arguments.
func (rt *Runtime) Run() (StackValue, bool, error) {
	if rt.entryClass == "" {
		return StackValue{}, false, newGenericError("no class loaded")
	}
	return rt.RunMethodByName(rt.entryClass, "main", nil)
}

// RunMethodByName resolves className and methodName (ignoring descriptor
// - the first declared method with that name is used) and runs it. Run
// uses it for "main"; the tests use it to invoke other methods.
func (rt *Runtime) RunMethodByName(className, methodName string, args []StackValue) (StackValue, bool, error) {
	class, ok := rt.classes[className]
	if !ok {
		return StackValue{}, false, fmt.Errorf("runtime error: class not loaded: %s", className)
	}
	method, ok := class.MethodByName(methodName)
	if !ok {
		return StackValue{}, false, ErrMethodNotFound
	}
	return rt.RunMethod(method, class, args)
}

// execContext is the per-call state exec needs beyond the frame: the
// owning class (for constant-pool resolution) and the runtime (for
// cross-class InvokeStatic and class-index resolution).
type execContext struct {
	rt    *Runtime
	class *ClassFile
}

// execOutcome tags what exec wants the caller's dispatch loop to do next.
type execOutcome int

const (
	outcomeContinue execOutcome = iota
	outcomeGoto
	outcomeReturn
)

type execResult struct {
	outcome     execOutcome
	gotoOffset  int
	returnValue StackValue
	hasReturn   bool
}

// RunMethod constructs a frame from method's Code attribute, copies args
// into the leading locals (argument 0 -> local 0, ...), and dispatches
// instructions until a return or a runtime error. A panic escaping the
// dispatch loop (a programming defect, not bytecode misbehavior) is
// converted to a GenericError rather than crashing the host process.
func (rt *Runtime) RunMethod(method Method, class *ClassFile, args []StackValue) (result StackValue, hasResult bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, hasResult, err = StackValue{}, false, newGenericError("internal error executing %s: %v", method.Name, r)
		}
	}()

	code, ok := method.Code()
	if !ok {
		return StackValue{}, false, newGenericError("method %s has no Code attribute (abstract or native)", method.Name)
	}
	signature, err := method.Signature()
	if err != nil {
		return StackValue{}, false, err
	}

	frame := NewStackFrame(code.MaxLocals, code.MaxStack)
	for i, arg := range args {
		local, err := argToLocal(arg)
		if err != nil {
			return StackValue{}, false, err
		}
		if err := frame.SetLocal(i, local); err != nil {
			return StackValue{}, false, err
		}
	}

	instructions, err := ReadAll(code.Code)
	if err != nil {
		return StackValue{}, false, err
	}
	stream := NewInstructions(instructions)
	ctx := &execContext{rt: rt, class: class}

	for {
		ins, offset, ok := stream.Next()
		if !ok {
			return StackValue{}, false, ErrUnterminatedMethod
		}

		if rt.Trace {
			className, _ := class.ClassName()
			log.Debug().Str("class", className).Str("method", method.Name).Int("pc", offset).Uint8("opcode", byte(ins.Opcode)).Msg("exec")
		}

		outcome, err := exec(ins, offset, frame, ctx)
		if err != nil {
			return StackValue{}, false, err
		}

		switch outcome.outcome {
		case outcomeContinue:
			continue
		case outcomeGoto:
			if !stream.Goto(outcome.gotoOffset) {
				return StackValue{}, false, newStructuralError("branch target %d is not an instruction boundary", outcome.gotoOffset)
			}
		case outcomeReturn:
			if err := verifyReturnType(signature.Return, outcome.returnValue, outcome.hasReturn); err != nil {
				return StackValue{}, false, err
			}
			return outcome.returnValue, outcome.hasReturn, nil
		}
	}
}

// argToLocal converts a call argument (a StackValue) to the LocalVariable
// it is stored as.
func argToLocal(v StackValue) (LocalVariable, error) {
	switch v.State {
	case StateInteger:
		return LocalVariable{State: StateInteger, Int: v.Int}, nil
	case StateNull:
		return LocalVariable{State: StateNull}, nil
	default:
		return LocalVariable{}, newGenericError("cannot pass uninitialized value as an argument")
	}
}

// verifyReturnType is deliberately permissive per SPEC_FULL.md 4.8: Void
// requires no value; Integer accepts Integer or Null; Object and Array
// are not checked at all (the interpreter does not model references).
func verifyReturnType(ret ValueType, value StackValue, hasValue bool) error {
	switch ret.Kind {
	case ValueVoid:
		if hasValue {
			return newGenericError("method declared void but returned a value")
		}
		return nil
	case ValueInteger:
		if !hasValue {
			return newGenericError("method declared to return int but returned nothing")
		}
		if value.State != StateInteger && value.State != StateNull {
			return &StackTypeError{Expected: "Integer"}
		}
		return nil
	default:
		return nil
	}
}

// exec dispatches a single instruction against frame, returning what the
// caller's loop should do next. byteOffset is the position of ins's
// opcode byte within the code array - relative branch immediates are
// added to it, per SPEC_FULL.md's resolution of the branch-offset open
// question.
func exec(ins Instruction, byteOffset int, frame *StackFrame, ctx *execContext) (execResult, error) {
	cont := execResult{outcome: outcomeContinue}

	switch ins.Opcode {
	case OpNop:
		return cont, nil

	case OpAConstNull:
		frame.PushNull()
		return cont, nil

	case OpIConstM1:
		frame.PushInt(-1)
		return cont, nil
	case OpIConst0:
		frame.PushInt(0)
		return cont, nil
	case OpIConst1:
		frame.PushInt(1)
		return cont, nil
	case OpIConst2:
		frame.PushInt(2)
		return cont, nil
	case OpIConst3:
		frame.PushInt(3)
		return cont, nil
	case OpIConst4:
		frame.PushInt(4)
		return cont, nil
	case OpIConst5:
		frame.PushInt(5)
		return cont, nil

	case OpBIPush:
		frame.PushInt(ins.Operands[0])
		return cont, nil
	case OpSIPush:
		frame.PushInt(ins.Operands[0])
		return cont, nil

	case OpILoad:
		return cont, loadLocal(frame, int(ins.Operands[0]))
	case OpILoad0:
		return cont, loadLocal(frame, 0)
	case OpILoad1:
		return cont, loadLocal(frame, 1)
	case OpILoad2:
		return cont, loadLocal(frame, 2)
	case OpILoad3:
		return cont, loadLocal(frame, 3)

	case OpIStore:
		return cont, storeLocal(frame, int(ins.Operands[0]))
	case OpIStore0:
		return cont, storeLocal(frame, 0)
	case OpIStore1:
		return cont, storeLocal(frame, 1)
	case OpIStore2:
		return cont, storeLocal(frame, 2)
	case OpIStore3:
		return cont, storeLocal(frame, 3)

	case OpIInc:
		index, delta := int(ins.Operands[0]), ins.Operands[1]
		v, err := frame.LocalInt(index)
		if err != nil {
			return cont, err
		}
		return cont, frame.SetLocalInt(index, v+delta)

	case OpPop:
		_, err := frame.Pop()
		return cont, err
	case OpDup:
		v, err := frame.Pop()
		if err != nil {
			return cont, err
		}
		frame.Push(v)
		frame.Push(v)
		return cont, nil
	case OpSwap:
		b, err := frame.Pop()
		if err != nil {
			return cont, err
		}
		a, err := frame.Pop()
		if err != nil {
			return cont, err
		}
		frame.Push(b)
		frame.Push(a)
		return cont, nil

	case OpIAdd:
		return cont, binaryIntOp(frame, func(a, b int32) (int32, error) { return a + b, nil })
	case OpISub:
		return cont, binaryIntOp(frame, func(a, b int32) (int32, error) { return a - b, nil })
	case OpIMul:
		return cont, binaryIntOp(frame, func(a, b int32) (int32, error) { return a * b, nil })
	case OpIDiv:
		return cont, binaryIntOp(frame, func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, newGenericError("division by zero")
			}
			return a / b, nil
		})
	case OpIRem:
		return cont, binaryIntOp(frame, func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, newGenericError("division by zero")
			}
			return a % b, nil
		})
	case OpINeg:
		v, err := frame.PopInt()
		if err != nil {
			return cont, err
		}
		frame.PushInt(-v)
		return cont, nil

	case OpGoto:
		target, _ := ins.branchTarget()
		return execResult{outcome: outcomeGoto, gotoOffset: byteOffset + int(target)}, nil

	case OpIfEq, OpIfNe, OpIfLt, OpIfGe, OpIfGt, OpIfLe:
		v, err := frame.PopInt()
		if err != nil {
			return cont, err
		}
		if evalUnaryPredicate(ins.Opcode, v) {
			target, _ := ins.branchTarget()
			return execResult{outcome: outcomeGoto, gotoOffset: byteOffset + int(target)}, nil
		}
		return cont, nil

	case OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe:
		b, err := frame.PopInt()
		if err != nil {
			return cont, err
		}
		a, err := frame.PopInt()
		if err != nil {
			return cont, err
		}
		if evalBinaryPredicate(ins.Opcode, a, b) {
			target, _ := ins.branchTarget()
			return execResult{outcome: outcomeGoto, gotoOffset: byteOffset + int(target)}, nil
		}
		return cont, nil

	case OpIfNull, OpIfNonNull:
		v, err := frame.Pop()
		if err != nil {
			return cont, err
		}
		isNull := v.State == StateNull
		if (ins.Opcode == OpIfNull) == isNull {
			target, _ := ins.branchTarget()
			return execResult{outcome: outcomeGoto, gotoOffset: byteOffset + int(target)}, nil
		}
		return cont, nil

	case OpIReturn:
		// Pops the raw value rather than requiring Integer: a Null is a
		// legal int-typed return per verifyReturnType's leniency, and
		// must reach it unmodified rather than being rejected here.
		v, err := frame.Pop()
		if err != nil {
			return cont, err
		}
		if v.State != StateInteger && v.State != StateNull {
			return cont, &StackTypeError{Expected: "Integer"}
		}
		return execResult{outcome: outcomeReturn, returnValue: v, hasReturn: true}, nil

	case OpReturn:
		return execResult{outcome: outcomeReturn}, nil

	case OpInvokeStatic:
		return cont, execInvokeStatic(ins, frame, ctx)

	default:
		return cont, newGenericError("opcode %#x is decoded but not supported by the interpreter", byte(ins.Opcode))
	}
}

func loadLocal(frame *StackFrame, index int) error {
	v, err := frame.LocalInt(index)
	if err != nil {
		return err
	}
	frame.PushInt(v)
	return nil
}

func storeLocal(frame *StackFrame, index int) error {
	v, err := frame.PopInt()
	if err != nil {
		return err
	}
	return frame.SetLocalInt(index, v)
}

// binaryIntOp pops the right-hand operand first, then the left-hand
// operand, applies op(left, right), and pushes the (32-bit wrapping)
// result - see DESIGN.md for why this repo corrects IAdd's failure to
// truncate.
func binaryIntOp(frame *StackFrame, op func(a, b int32) (int32, error)) error {
	b, err := frame.PopInt()
	if err != nil {
		return err
	}
	a, err := frame.PopInt()
	if err != nil {
		return err
	}
	v, err := op(a, b)
	if err != nil {
		return err
	}
	frame.PushInt(v)
	return nil
}

func evalUnaryPredicate(op Opcode, v int32) bool {
	switch op {
	case OpIfEq:
		return v == 0
	case OpIfNe:
		return v != 0
	case OpIfLt:
		return v < 0
	case OpIfGe:
		return v >= 0
	case OpIfGt:
		return v > 0
	case OpIfLe:
		return v <= 0
	default:
		return false
	}
}

func evalBinaryPredicate(op Opcode, a, b int32) bool {
	switch op {
	case OpIfICmpEq:
		return a == b
	case OpIfICmpNe:
		return a != b
	case OpIfICmpLt:
		return a < b
	case OpIfICmpGe:
		return a >= b
	case OpIfICmpGt:
		return a > b
	case OpIfICmpLe:
		return a <= b
	default:
		return false
	}
}

// execInvokeStatic resolves a MethodRef, locates its target method
// (looking up a different class in the runtime's registry when the
// reference points away from the current class; a class that was never
// loaded is a runtime error, nothing is loaded on demand - see DESIGN.md's
// cross-class InvokeStatic decision), marshals arguments off the stack,
// and recurses.
func execInvokeStatic(ins Instruction, frame *StackFrame, ctx *execContext) error {
	methodRefIndex := uint16(ins.Operands[0])
	entry, ok := ctx.class.Constant(methodRefIndex)
	if !ok {
		return newStructuralError("constant pool index %d out of range", methodRefIndex)
	}
	methodRef, ok := entry.(ConstantMethodref)
	if !ok {
		return newStructuralError("constant pool index %d is not Methodref", methodRefIndex)
	}

	selfName, err := ctx.class.ClassName()
	if err != nil {
		return err
	}
	targetClassName, ok := ctx.rt.classIndexCache[selfName][methodRef.ClassIndex]
	if !ok {
		return newStructuralError("unresolved class index %d in Methodref", methodRef.ClassIndex)
	}

	targetClass := ctx.class
	if targetClassName != selfName {
		loaded, ok := ctx.rt.classes[targetClassName]
		if !ok {
			return fmt.Errorf("runtime error: class not loaded: %s", targetClassName)
		}
		targetClass = loaded
	}

	method, found, err := targetClass.MethodByNameAndType(methodRef.NameAndTypeIndex)
	if err != nil {
		return err
	}
	if !found {
		return ErrMethodNotFound
	}

	signature, err := method.Signature()
	if err != nil {
		return err
	}

	args := make([]StackValue, len(signature.Parameters))
	for i := len(signature.Parameters) - 1; i >= 0; i-- {
		v, err := frame.Pop()
		if err != nil {
			return err
		}
		if signature.Parameters[i].Kind == ValueInteger && v.State != StateInteger && v.State != StateNull {
			return &StackTypeError{Expected: "Integer"}
		}
		args[i] = v
	}

	result, hasResult, err := ctx.rt.RunMethod(method, targetClass, args)
	if err != nil {
		return err
	}
	if hasResult {
		frame.Push(result)
	}
	return nil
}
