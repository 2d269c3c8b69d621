package vm

// ValueKind identifies the variant of a ValueType.
type ValueKind int

const (
	ValueVoid ValueKind = iota
	ValueInteger
	ValueObject
	ValueArray
)

// ValueType is a single entry in a method descriptor's parameter list or
// its return type. Object and Array carry the information the grammar
// gives them (a class name, or an element type) even though the
// interpreter itself only tracks Integer values on the stack - the
// descriptor grammar is decoded in full regardless of which parts the
// interpreter core exercises.
type ValueType struct {
	Kind    ValueKind
	Name    string     // set when Kind == ValueObject
	Element *ValueType // set when Kind == ValueArray
}

// MethodDescriptor is a decoded "(param-type*)return-type" descriptor
// string.
type MethodDescriptor struct {
	Parameters []ValueType
	Return     ValueType
}

// ParseMethodDescriptor parses a descriptor of the form
// "(param-type*)return-type", where each type is one of:
//
//	V          void (return type only)
//	I          int
//	L<name>;   object reference, name terminated by ';'
//	[<type>    array, one dimension per leading '['
func ParseMethodDescriptor(descriptor string) (MethodDescriptor, error) {
	d := descriptorParser{src: descriptor}
	if err := d.expect('('); err != nil {
		return MethodDescriptor{}, err
	}

	var params []ValueType
	for {
		c, ok := d.peek()
		if !ok {
			return MethodDescriptor{}, newStructuralError("method descriptor %q: unterminated parameter list", descriptor)
		}
		if c == ')' {
			d.pos++
			break
		}
		t, err := d.parseType()
		if err != nil {
			return MethodDescriptor{}, err
		}
		params = append(params, t)
	}

	ret, err := d.parseReturnType()
	if err != nil {
		return MethodDescriptor{}, err
	}
	if d.pos != len(d.src) {
		return MethodDescriptor{}, newStructuralError("method descriptor %q: trailing characters after return type", descriptor)
	}

	return MethodDescriptor{Parameters: params, Return: ret}, nil
}

type descriptorParser struct {
	src string
	pos int
}

func (d *descriptorParser) peek() (byte, bool) {
	if d.pos >= len(d.src) {
		return 0, false
	}
	return d.src[d.pos], true
}

func (d *descriptorParser) expect(c byte) error {
	got, ok := d.peek()
	if !ok || got != c {
		return newStructuralError("method descriptor %q: expected %q at offset %d", d.src, c, d.pos)
	}
	d.pos++
	return nil
}

func (d *descriptorParser) parseReturnType() (ValueType, error) {
	c, ok := d.peek()
	if !ok {
		return ValueType{}, newStructuralError("method descriptor %q: missing return type", d.src)
	}
	if c == 'V' {
		d.pos++
		return ValueType{Kind: ValueVoid}, nil
	}
	return d.parseType()
}

func (d *descriptorParser) parseType() (ValueType, error) {
	c, ok := d.peek()
	if !ok {
		return ValueType{}, newStructuralError("method descriptor %q: expected a type at offset %d", d.src, d.pos)
	}

	switch c {
	case 'I':
		d.pos++
		return ValueType{Kind: ValueInteger}, nil

	case 'L':
		d.pos++
		start := d.pos
		for {
			c, ok := d.peek()
			if !ok {
				return ValueType{}, newStructuralError("method descriptor %q: unterminated object type starting at offset %d", d.src, start)
			}
			if c == ';' {
				name := d.src[start:d.pos]
				d.pos++
				return ValueType{Kind: ValueObject, Name: name}, nil
			}
			d.pos++
		}

	case '[':
		d.pos++
		elem, err := d.parseType()
		if err != nil {
			return ValueType{}, err
		}
		return ValueType{Kind: ValueArray, Element: &elem}, nil

	default:
		return ValueType{}, newStructuralError("method descriptor %q: unrecognized type character %q at offset %d", d.src, c, d.pos)
	}
}
