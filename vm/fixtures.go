package vm

// BuildSampleClass assembles a minimal class equivalent to the upstream
// project's bundled default: a single public static method, main()I,
// whose body is IConst1, IReturn. It is the fallback the CLI runs when
// invoked without a path.
func BuildSampleClass() []byte {
	b := newClassBuilder()
	nameIdx := b.addUtf8("Sample")
	thisIdx := b.addClass(nameIdx)
	objectNameIdx := b.addUtf8("java/lang/Object")
	superIdx := b.addClass(objectNameIdx)
	mainNameIdx := b.addUtf8("main")
	mainDescIdx := b.addUtf8("()I")
	codeAttrIdx := b.addUtf8("Code")

	method := builtMethod{
		AccessFlags:     AccPublic | AccStatic,
		NameIndex:       mainNameIdx,
		DescriptorIndex: mainDescIdx,
		MaxStack:        1,
		MaxLocals:       0,
		Code:            []byte{byte(OpIConst1), byte(OpIReturn)},
	}
	return b.build(thisIdx, superIdx, []builtMethod{method}, codeAttrIdx)
}

// BuildSimpleMathClass assembles a class equivalent to the upstream
// project's SimpleMath fixture: helper()I returns 40 via BIPush, and
// testMe()I calls helper() and adds 6, returning 46. It exercises
// InvokeStatic end to end.
func BuildSimpleMathClass() []byte {
	b := newClassBuilder()
	nameIdx := b.addUtf8("SimpleMath")
	thisIdx := b.addClass(nameIdx)
	objectNameIdx := b.addUtf8("java/lang/Object")
	superIdx := b.addClass(objectNameIdx)

	helperNameIdx := b.addUtf8("helper")
	intDescIdx := b.addUtf8("()I")
	testMeNameIdx := b.addUtf8("testMe")
	codeAttrIdx := b.addUtf8("Code")

	helperNatIdx := b.addNameAndType(helperNameIdx, intDescIdx)
	helperRefIdx := b.addMethodref(thisIdx, helperNatIdx)

	helper := builtMethod{
		AccessFlags:     AccPublic | AccStatic,
		NameIndex:       helperNameIdx,
		DescriptorIndex: intDescIdx,
		MaxStack:        1,
		MaxLocals:       0,
		Code:            []byte{byte(OpBIPush), 40, byte(OpIReturn)},
	}

	testMeCode := []byte{
		byte(OpInvokeStatic), byte(helperRefIdx >> 8), byte(helperRefIdx),
		byte(OpBIPush), 6,
		byte(OpIAdd),
		byte(OpIReturn),
	}
	testMe := builtMethod{
		AccessFlags:     AccPublic | AccStatic,
		NameIndex:       testMeNameIdx,
		DescriptorIndex: intDescIdx,
		MaxStack:        2,
		MaxLocals:       0,
		Code:            testMeCode,
	}

	return b.build(thisIdx, superIdx, []builtMethod{helper, testMe}, codeAttrIdx)
}
