package vm

// ValueState identifies the variant of a LocalVariable or StackValue.
type ValueState int

const (
	StateUninitialized ValueState = iota
	StateNull
	StateInteger
	// Long, Float, Double, and object references are deliberately not
	// modeled yet - the interpreter only executes the integer subset
	// (see SPEC_FULL.md 4.8) - but the tag lives here so frame slots
	// never need to change shape to grow into them.
)

// LocalVariable is one slot of a StackFrame's local-variable array.
type LocalVariable struct {
	State ValueState
	Int   int32
}

func uninitializedLocal() LocalVariable { return LocalVariable{State: StateUninitialized} }

// StackValue is one entry on a StackFrame's operand stack.
type StackValue struct {
	State ValueState
	Int   int32
}

func nullValue() StackValue    { return StackValue{State: StateNull} }
func integerValue(v int32) StackValue { return StackValue{State: StateInteger, Int: v} }

// AsInteger returns the value's payload if it is Integer-typed, or a
// StackTypeError with Expected "Integer" otherwise.
func (v StackValue) AsInteger() (int32, error) {
	if v.State != StateInteger {
		return 0, &StackTypeError{Expected: "Integer"}
	}
	return v.Int, nil
}

// StackFrame is a single method invocation's operand stack and local
// variables. Locals are fixed-capacity and pre-initialized to
// Uninitialized; the stack grows and shrinks with push/pop, and its
// backing storage is preallocated to the method's declared max-stack.
// Push does not check that limit, so the stack can grow past it.
type StackFrame struct {
	locals   []LocalVariable
	stack    []StackValue
	maxStack int
}

// NewStackFrame allocates a frame sized by the method's declared
// max-locals and max-stack.
func NewStackFrame(maxLocals, maxStack uint16) *StackFrame {
	locals := make([]LocalVariable, maxLocals)
	for i := range locals {
		locals[i] = uninitializedLocal()
	}
	return &StackFrame{
		locals:   locals,
		stack:    make([]StackValue, 0, maxStack),
		maxStack: int(maxStack),
	}
}

// SetLocal assigns (not inserts - see DESIGN.md) v at the given
// local-variable index.
func (f *StackFrame) SetLocal(index int, v LocalVariable) error {
	if index < 0 || index >= len(f.locals) {
		return ErrVariableOutOfScope
	}
	f.locals[index] = v
	return nil
}

// Local returns the local variable at index.
func (f *StackFrame) Local(index int) (LocalVariable, error) {
	if index < 0 || index >= len(f.locals) {
		return LocalVariable{}, ErrVariableOutOfScope
	}
	return f.locals[index], nil
}

// LocalInt returns the integer held at local index, or an error if the
// slot is out of range, uninitialized, or holds a non-integer value.
func (f *StackFrame) LocalInt(index int) (int32, error) {
	local, err := f.Local(index)
	if err != nil {
		return 0, err
	}
	if local.State != StateInteger {
		return 0, &VariableTypeError{Expected: "Integer", Offset: index}
	}
	return local.Int, nil
}

// SetLocalInt stores an integer at local index.
func (f *StackFrame) SetLocalInt(index int, v int32) error {
	return f.SetLocal(index, LocalVariable{State: StateInteger, Int: v})
}

// Push pushes a value onto the operand stack.
func (f *StackFrame) Push(v StackValue) {
	f.stack = append(f.stack, v)
}

// PushInt pushes an integer onto the operand stack.
func (f *StackFrame) PushInt(v int32) {
	f.Push(integerValue(v))
}

// PushNull pushes a Null value onto the operand stack.
func (f *StackFrame) PushNull() {
	f.Push(nullValue())
}

// Pop pops the top of the operand stack, or ErrEmptyStack if it is empty.
func (f *StackFrame) Pop() (StackValue, error) {
	if len(f.stack) == 0 {
		return StackValue{}, ErrEmptyStack
	}
	top := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return top, nil
}

// PopInt pops the top of the operand stack and requires it to be an
// Integer.
func (f *StackFrame) PopInt() (int32, error) {
	v, err := f.Pop()
	if err != nil {
		return 0, err
	}
	return v.AsInteger()
}
