package vm

// Attribute is the tagged-variant interface for the three attribute
// shapes this decoder understands.
type Attribute interface {
	isAttribute()
}

// LineNumberEntry maps one bytecode offset to a source line number.
type LineNumberEntry struct {
	StartPC    uint16
	LineNumber uint16
}

type LineNumberTableAttribute struct {
	Entries []LineNumberEntry
}

func (LineNumberTableAttribute) isAttribute() {}

// CodeBlock holds a method's executable body.
type CodeBlock struct {
	MaxStack   uint16
	MaxLocals  uint16
	Code       []byte
	Attributes []Attribute
}

// LineNumberTable returns the method's line-number table, if its Code
// attribute carries one.
func (c CodeBlock) LineNumberTable() (LineNumberTableAttribute, bool) {
	for _, attr := range c.Attributes {
		if lnt, ok := attr.(LineNumberTableAttribute); ok {
			return lnt, true
		}
	}
	return LineNumberTableAttribute{}, false
}

type CodeAttribute struct {
	Code CodeBlock
}

func (CodeAttribute) isAttribute() {}

// GenericAttribute preserves any attribute this decoder does not
// interpret as an opaque, name-tagged byte range.
type GenericAttribute struct {
	Name string
	Info []byte
}

func (GenericAttribute) isAttribute() {}

// resolveUtf8 resolves a 1-indexed constant pool index to a Utf8 string,
// failing with a StructuralError if the index is out of range or does
// not name a Utf8 entry.
func resolveUtf8(pool []Constant, index uint16) (string, error) {
	if index == 0 || int(index) > len(pool) {
		return "", newStructuralError("constant pool index %d out of range", index)
	}
	entry := pool[index-1]
	utf8Entry, ok := entry.(ConstantUtf8)
	if !ok {
		return "", newStructuralError("constant pool index %d is not Utf8", index)
	}
	return utf8Entry.Value, nil
}

// decodeAttribute reads one attribute: a 2-byte name index, a 4-byte
// length, and then `length` bytes of payload whose shape depends on the
// resolved attribute name.
func decodeAttribute(r *byteReader, pool []Constant) (Attribute, error) {
	nameIndex, err := r.u16()
	if err != nil {
		return nil, err
	}
	length, err := r.u32()
	if err != nil {
		return nil, err
	}
	name, err := resolveUtf8(pool, nameIndex)
	if err != nil {
		return nil, err
	}

	switch name {
	case "LineNumberTable":
		return decodeLineNumberTable(r)
	case "Code":
		return decodeCodeAttribute(r, pool)
	default:
		raw, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		return GenericAttribute{Name: name, Info: raw}, nil
	}
}

func decodeLineNumberTable(r *byteReader) (Attribute, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	entries := make([]LineNumberEntry, count)
	for i := range entries {
		startPC, err := r.u16()
		if err != nil {
			return nil, err
		}
		line, err := r.u16()
		if err != nil {
			return nil, err
		}
		entries[i] = LineNumberEntry{StartPC: startPC, LineNumber: line}
	}
	return LineNumberTableAttribute{Entries: entries}, nil
}

func decodeCodeAttribute(r *byteReader, pool []Constant) (Attribute, error) {
	maxStack, err := r.u16()
	if err != nil {
		return nil, err
	}
	maxLocals, err := r.u16()
	if err != nil {
		return nil, err
	}
	codeLength, err := r.u32()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(codeLength))
	if err != nil {
		return nil, err
	}

	// Exception table: decoded (kept byte-accurate with the format) but
	// not retained by the core - exception handling is a non-goal.
	exceptionCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(exceptionCount); i++ {
		if _, err := r.bytes(8); err != nil {
			return nil, err
		}
	}

	attrCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, attrCount)
	for i := range attrs {
		attrs[i], err = decodeAttribute(r, pool)
		if err != nil {
			return nil, err
		}
	}

	return CodeAttribute{Code: CodeBlock{
		MaxStack:   maxStack,
		MaxLocals:  maxLocals,
		Code:       code,
		Attributes: attrs,
	}}, nil
}

func decodeAttributes(r *byteReader, pool []Constant) ([]Attribute, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, count)
	for i := range attrs {
		attrs[i], err = decodeAttribute(r, pool)
		if err != nil {
			return nil, err
		}
	}
	return attrs, nil
}
