package vm

import (
	"errors"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func decodeOrFatal(t *testing.T, data []byte) *ClassFile {
	t.Helper()
	cf, err := DecodeClassFile(data)
	assert(t, err == nil, "unexpected decode error: %v", err)
	return cf
}

func TestDecodeClassFileConsumesAllBytes(t *testing.T) {
	data := BuildSampleClass()
	cf, err := DecodeClassFile(data)
	assert(t, err == nil, "unexpected decode error: %v", err)
	assert(t, cf != nil, "expected a non-nil class file")
}

func TestDecodeClassFileBadMagic(t *testing.T) {
	data := BuildSampleClass()
	data[0] = 0x00
	_, err := DecodeClassFile(data)
	var structErr *StructuralError
	assert(t, errors.As(err, &structErr), "expected a StructuralError, got %v", err)
}

func TestDecodeClassFileTruncated(t *testing.T) {
	data := BuildSampleClass()
	_, err := DecodeClassFile(data[:len(data)-3])
	var incomplete *IncompleteError
	assert(t, errors.As(err, &incomplete), "expected an IncompleteError, got %v", err)
}

func TestClassName(t *testing.T) {
	cf := decodeOrFatal(t, BuildSampleClass())
	name, err := cf.ClassName()
	assert(t, err == nil, "unexpected error resolving class name: %v", err)
	assert(t, name == "Sample", "expected class name Sample, got %q", name)
}

func TestMethodRefResolvesClassAndNameAndType(t *testing.T) {
	cf := decodeOrFatal(t, BuildSimpleMathClass())
	for _, c := range cf.Constants {
		mr, ok := c.(ConstantMethodref)
		if !ok {
			continue
		}
		class, ok := cf.Constant(mr.ClassIndex)
		assert(t, ok, "methodref class index %d out of range", mr.ClassIndex)
		_, ok = class.(ConstantClass)
		assert(t, ok, "methodref class index %d is not a Class entry", mr.ClassIndex)

		nat, ok := cf.Constant(mr.NameAndTypeIndex)
		assert(t, ok, "methodref name-and-type index %d out of range", mr.NameAndTypeIndex)
		natEntry, ok := nat.(ConstantNameAndType)
		assert(t, ok, "methodref name-and-type index %d is not a NameAndType entry", mr.NameAndTypeIndex)

		_, err := resolveUtf8(cf.Constants, natEntry.NameIndex)
		assert(t, err == nil, "name index did not resolve to Utf8: %v", err)
		_, err = resolveUtf8(cf.Constants, natEntry.DescriptorIndex)
		assert(t, err == nil, "descriptor index did not resolve to Utf8: %v", err)
	}
}

func TestLongDoubleConsumeTwoSlots(t *testing.T) {
	b := newClassBuilder()
	b.addLong(42)
	followingIdx := b.addUtf8("after-long")

	assert(t, followingIdx == 3, "expected the Utf8 after a Long to land at index 3 (index 2 reserved), got %d", followingIdx)

	nameIdx := b.addUtf8("HasLong")
	thisIdx := b.addClass(nameIdx)
	objIdx := b.addUtf8("java/lang/Object")
	superIdx := b.addClass(objIdx)
	codeAttrIdx := b.addUtf8("Code")
	mainDesc := b.addUtf8("()I")
	mainName := b.addUtf8("main")
	method := builtMethod{
		AccessFlags: AccPublic | AccStatic, NameIndex: mainName, DescriptorIndex: mainDesc,
		MaxStack: 1, MaxLocals: 0, Code: []byte{byte(OpIConst1), byte(OpIReturn)},
	}
	data := b.build(thisIdx, superIdx, []builtMethod{method}, codeAttrIdx)

	cf, err := DecodeClassFile(data)
	assert(t, err == nil, "unexpected decode error: %v", err)

	long, ok := cf.Constant(1)
	assert(t, ok, "expected constant 1 to resolve")
	_, isLong := long.(ConstantLong)
	assert(t, isLong, "expected constant 1 to be a Long")

	_, placeholderOK := cf.Constant(2)
	assert(t, !placeholderOK, "expected constant 2 (the Long's second slot) to be unresolvable")
}

func TestMethodDescriptorParser(t *testing.T) {
	cases := []struct {
		descriptor string
		params     []ValueKind
		ret        ValueKind
	}{
		{"()V", nil, ValueVoid},
		{"(II)I", []ValueKind{ValueInteger, ValueInteger}, ValueInteger},
	}
	for _, c := range cases {
		sig, err := ParseMethodDescriptor(c.descriptor)
		assert(t, err == nil, "unexpected error parsing %q: %v", c.descriptor, err)
		assert(t, len(sig.Parameters) == len(c.params), "descriptor %q: expected %d params, got %d", c.descriptor, len(c.params), len(sig.Parameters))
		for i, k := range c.params {
			assert(t, sig.Parameters[i].Kind == k, "descriptor %q: parameter %d kind mismatch", c.descriptor, i)
		}
		assert(t, sig.Return.Kind == c.ret, "descriptor %q: return kind mismatch", c.descriptor)
	}

	sig, err := ParseMethodDescriptor("([Ljava/lang/String;)V")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(sig.Parameters) == 1, "expected one parameter")
	assert(t, sig.Parameters[0].Kind == ValueArray, "expected an Array parameter")
	assert(t, sig.Parameters[0].Element.Kind == ValueObject, "expected an Array of Object")
	assert(t, sig.Parameters[0].Element.Name == "java/lang/String", "expected element name java/lang/String, got %q", sig.Parameters[0].Element.Name)
	assert(t, sig.Return.Kind == ValueVoid, "expected void return")
}

func TestReadAllDecodesConstAndReturn(t *testing.T) {
	instrs, err := ReadAll([]byte{0x04, 0xAC})
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(instrs) == 2, "expected 2 instructions, got %d", len(instrs))
	assert(t, instrs[0].Opcode == OpIConst1, "expected IConst1")
	assert(t, instrs[1].Opcode == OpIReturn, "expected IReturn")
}

func TestReadAllInvalidOpcode(t *testing.T) {
	_, err := ReadAll([]byte{0xcb})
	var invalid *InvalidOpcodeError
	assert(t, errors.As(err, &invalid), "expected InvalidOpcodeError, got %v", err)
	assert(t, invalid.Opcode == 0xcb, "expected opcode 0xcb in the error, got %#x", invalid.Opcode)
}

func TestReadAllBranchOffsetWidths(t *testing.T) {
	instrs, err := ReadAll([]byte{byte(OpGoto), 0x00, 0x05, byte(OpGotoW), 0x00, 0x00, 0x00, 0x05})
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, instrs[0].Operands[0] == 5, "expected goto offset 5")
	assert(t, instrs[0].Size == 3, "expected goto size 3")
	assert(t, instrs[1].Operands[0] == 5, "expected gotow offset 5")
	assert(t, instrs[1].Size == 5, "expected gotow size 5")
}

func runEntryMethod(t *testing.T, data []byte, methodName string) (StackValue, bool, error) {
	t.Helper()
	cf := decodeOrFatal(t, data)
	rt := NewRuntime(nil)
	className, err := rt.LoadClass(cf)
	assert(t, err == nil, "unexpected error loading class: %v", err)
	return rt.RunMethodByName(className, methodName, nil)
}

func TestInterpreterConstAndReturn(t *testing.T) {
	v, ok, err := runEntryMethod(t, BuildSampleClass(), "main")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.Int == 1, "expected 1, got %d", v.Int)
}

func TestInterpreterBipushAndReturn(t *testing.T) {
	b := newClassBuilder()
	nameIdx := b.addUtf8("T")
	thisIdx := b.addClass(nameIdx)
	objIdx := b.addUtf8("java/lang/Object")
	superIdx := b.addClass(objIdx)
	codeAttrIdx := b.addUtf8("Code")
	methodName := b.addUtf8("run")
	methodDesc := b.addUtf8("()I")
	method := builtMethod{
		AccessFlags: AccPublic | AccStatic, NameIndex: methodName, DescriptorIndex: methodDesc,
		MaxStack: 1, MaxLocals: 0, Code: []byte{byte(OpBIPush), 0x2A, byte(OpIReturn)},
	}
	data := b.build(thisIdx, superIdx, []builtMethod{method}, codeAttrIdx)

	v, ok, err := runEntryMethod(t, data, "run")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.Int == 42, "expected 42, got %d", v.Int)
}

func TestInterpreterAdd(t *testing.T) {
	data := singleMethodClass(t, "run", "()I", 2, 0, []byte{byte(OpIConst1), byte(OpIConst2), byte(OpIAdd), byte(OpIReturn)})
	v, ok, err := runEntryMethod(t, data, "run")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.Int == 3, "expected 3, got %d", v.Int)
}

func TestInterpreterStoreAndLoad(t *testing.T) {
	data := singleMethodClass(t, "run", "()I", 1, 2, []byte{byte(OpIConst1), byte(OpIStore1), byte(OpILoad1), byte(OpIReturn)})
	v, ok, err := runEntryMethod(t, data, "run")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.Int == 1, "expected 1, got %d", v.Int)
}

func TestInterpreterVoidReturn(t *testing.T) {
	data := singleMethodClass(t, "run", "()V", 0, 0, []byte{byte(OpReturn)})
	_, ok, err := runEntryMethod(t, data, "run")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, !ok, "expected no return value")
}

func TestInterpreterEmptyStackError(t *testing.T) {
	data := singleMethodClass(t, "run", "()I", 0, 0, []byte{byte(OpIReturn)})
	_, _, err := runEntryMethod(t, data, "run")
	assert(t, errors.Is(err, ErrEmptyStack), "expected ErrEmptyStack, got %v", err)
}

func TestInterpreterNullAcceptedAsIntegerReturn(t *testing.T) {
	data := singleMethodClass(t, "run", "()I", 1, 0, []byte{byte(OpAConstNull), byte(OpIReturn)})
	v, ok, err := runEntryMethod(t, data, "run")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.State == StateNull, "expected the null to pass through untouched")
}

func TestInterpreterIfICmpBranch(t *testing.T) {
	// if 1 < 2, goto skip; push 99 (dead); skip: push 7; return.
	code := []byte{
		byte(OpIConst1), byte(OpIConst2), byte(OpIfICmpLt), 0x00, 0x06,
		byte(OpBIPush), 99, byte(OpIReturn),
		byte(OpBIPush), 7, byte(OpIReturn),
	}
	data := singleMethodClass(t, "run", "()I", 2, 0, code)
	v, ok, err := runEntryMethod(t, data, "run")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.Int == 7, "expected the branch to be taken and return 7, got %d", v.Int)
}

func TestInterpreterInvokeStaticEndToEnd(t *testing.T) {
	v, ok, err := runEntryMethod(t, BuildSimpleMathClass(), "testMe")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, ok, "expected a return value")
	assert(t, v.Int == 46, "expected 46, got %d", v.Int)
}

// singleMethodClass is a test helper for assembling a one-method class
// with a given code body, used by scenarios that don't need InvokeStatic
// wiring.
func singleMethodClass(t *testing.T, name, descriptor string, maxStack, maxLocals uint16, code []byte) []byte {
	t.Helper()
	b := newClassBuilder()
	classNameIdx := b.addUtf8(fmt.Sprintf("Scenario%p", code))
	thisIdx := b.addClass(classNameIdx)
	objIdx := b.addUtf8("java/lang/Object")
	superIdx := b.addClass(objIdx)
	codeAttrIdx := b.addUtf8("Code")
	nameIdx := b.addUtf8(name)
	descIdx := b.addUtf8(descriptor)
	method := builtMethod{
		AccessFlags: AccPublic | AccStatic, NameIndex: nameIdx, DescriptorIndex: descIdx,
		MaxStack: maxStack, MaxLocals: maxLocals, Code: code,
	}
	return b.build(thisIdx, superIdx, []builtMethod{method}, codeAttrIdx)
}
