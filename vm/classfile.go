package vm

const classFileMagic uint32 = 0xCAFEBABE

// Method access-flag bits, per spec: the eight bits the external
// interface names explicitly (0x0001-0x0080), plus Abstract at 0x0400 -
// the data model's "bit positions 0x0001...0x0400" range implies a ninth
// member beyond Strict; 0x0400 is where the JVM spec itself puts
// ACC_ABSTRACT, so this repo uses that value rather than inventing one.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSynchronized uint16 = 0x0020
	AccNative       uint16 = 0x0040
	AccStrict       uint16 = 0x0080
	AccAbstract     uint16 = 0x0400
)

// MethodAccess is the unordered set of access-flag bits a method (or
// field) carries, queried by predicate rather than iterated.
type MethodAccess struct {
	flags uint16
}

func newMethodAccess(flags uint16) MethodAccess { return MethodAccess{flags: flags} }

func (a MethodAccess) has(bit uint16) bool { return a.flags&bit != 0 }

func (a MethodAccess) IsPublic() bool       { return a.has(AccPublic) }
func (a MethodAccess) IsPrivate() bool      { return a.has(AccPrivate) }
func (a MethodAccess) IsProtected() bool    { return a.has(AccProtected) }
func (a MethodAccess) IsStatic() bool       { return a.has(AccStatic) }
func (a MethodAccess) IsFinal() bool        { return a.has(AccFinal) }
func (a MethodAccess) IsSynchronized() bool { return a.has(AccSynchronized) }
func (a MethodAccess) IsNative() bool       { return a.has(AccNative) }
func (a MethodAccess) IsAbstract() bool     { return a.has(AccAbstract) }
func (a MethodAccess) IsStrict() bool       { return a.has(AccStrict) }

// Field is a class member: name and descriptor are resolved to owned
// strings at decode time (this repo copies rather than borrows, per
// spec.md 9's "owned strings" option).
type Field struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

func (f Field) Access() MethodAccess { return newMethodAccess(f.AccessFlags) }

// Method is a class member whose Code attribute, when present, supplies
// its executable body.
type Method struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

func (m Method) Access() MethodAccess { return newMethodAccess(m.AccessFlags) }

// Code returns the method's Code attribute, if it has one (methods
// without one are abstract or native).
func (m Method) Code() (CodeBlock, bool) {
	for _, attr := range m.Attributes {
		if code, ok := attr.(CodeAttribute); ok {
			return code.Code, true
		}
	}
	return CodeBlock{}, false
}

// Signature parses the method's descriptor string into a MethodDescriptor.
func (m Method) Signature() (MethodDescriptor, error) {
	return ParseMethodDescriptor(m.Descriptor)
}

// ClassFile is the decoded, read-only representation of a compiled
// class. The constant pool is stored 0-indexed internally; Constant
// translates the external 1-based index used everywhere else in the
// format.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Constants    []Constant
	AccessFlags  uint16
	ThisIndex    uint16
	SuperIndex   uint16
	Interfaces   []uint16
	Fields       []Field
	Methods      []Method
	Attributes   []Attribute
}

// Constant returns the constant pool entry at the given 1-based index, or
// false if the index is out of range.
func (c *ClassFile) Constant(index uint16) (Constant, bool) {
	if index == 0 || int(index) > len(c.Constants) {
		return nil, false
	}
	entry := c.Constants[index-1]
	if entry == nil {
		return nil, false
	}
	return entry, true
}

// ClassName resolves ThisIndex -> Class entry -> its name-index -> Utf8
// entry.
func (c *ClassFile) ClassName() (string, error) {
	return c.resolveClassIndexName(c.ThisIndex)
}

func (c *ClassFile) resolveClassIndexName(classIndex uint16) (string, error) {
	entry, ok := c.Constant(classIndex)
	if !ok {
		return "", newStructuralError("constant pool index %d out of range", classIndex)
	}
	class, ok := entry.(ConstantClass)
	if !ok {
		return "", newStructuralError("constant pool index %d is not Class", classIndex)
	}
	return resolveUtf8(c.Constants, class.NameIndex)
}

// MethodByNameAndType resolves the NameAndType at natIndex and linearly
// searches the class's methods for one whose name and descriptor both
// match. It returns ok=false (no error) on a plain miss; it returns an
// error only when the constant pool reference itself is malformed.
func (c *ClassFile) MethodByNameAndType(natIndex uint16) (method Method, ok bool, err error) {
	entry, found := c.Constant(natIndex)
	if !found {
		return Method{}, false, newStructuralError("constant pool index %d out of range", natIndex)
	}
	nat, isNat := entry.(ConstantNameAndType)
	if !isNat {
		return Method{}, false, newStructuralError("constant pool index %d is not NameAndType", natIndex)
	}

	name, err := resolveUtf8(c.Constants, nat.NameIndex)
	if err != nil {
		return Method{}, false, err
	}
	descriptor, err := resolveUtf8(c.Constants, nat.DescriptorIndex)
	if err != nil {
		return Method{}, false, err
	}

	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m, true, nil
		}
	}
	return Method{}, false, nil
}

// MethodByName returns the first method with the given name, ignoring
// descriptor - used to locate the entry method.
func (c *ClassFile) MethodByName(name string) (Method, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// DecodeClassFile decodes a complete class file from data. A successful
// decode consumes every byte; any left over is reported as a structural
// error.
func DecodeClassFile(data []byte) (*ClassFile, error) {
	r := newByteReader(data)

	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != classFileMagic {
		return nil, newStructuralError("bad magic: 0x%08x", magic)
	}

	minor, err := r.u16()
	if err != nil {
		return nil, err
	}
	major, err := r.u16()
	if err != nil {
		return nil, err
	}

	pool, err := decodeConstantPool(r)
	if err != nil {
		return nil, err
	}

	accessFlags, err := r.u16()
	if err != nil {
		return nil, err
	}
	thisIndex, err := r.u16()
	if err != nil {
		return nil, err
	}
	superIndex, err := r.u16()
	if err != nil {
		return nil, err
	}

	interfaceCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	interfaces := make([]uint16, interfaceCount)
	for i := range interfaces {
		interfaces[i], err = r.u16()
		if err != nil {
			return nil, err
		}
	}

	fields, err := decodeMembers(r, pool)
	if err != nil {
		return nil, err
	}
	fieldList := make([]Field, len(fields))
	for i, m := range fields {
		fieldList[i] = Field{AccessFlags: m.AccessFlags, Name: m.Name, Descriptor: m.Descriptor, Attributes: m.Attributes}
	}

	methods, err := decodeMembers(r, pool)
	if err != nil {
		return nil, err
	}

	attrs, err := decodeAttributes(r, pool)
	if err != nil {
		return nil, err
	}

	if !r.atEnd() {
		return nil, newStructuralError("%d trailing byte(s) after class file", r.remaining())
	}

	return &ClassFile{
		MinorVersion: minor,
		MajorVersion: major,
		Constants:    pool,
		AccessFlags:  accessFlags,
		ThisIndex:    thisIndex,
		SuperIndex:   superIndex,
		Interfaces:   interfaces,
		Fields:       fieldList,
		Methods:      methods,
		Attributes:   attrs,
	}, nil
}

// decodeMembers decodes a 2-byte count followed by that many field/method
// records; fields and methods share an identical wire shape, differing
// only in which ClassFile slice they end up in.
func decodeMembers(r *byteReader, pool []Constant) ([]Method, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	members := make([]Method, count)
	for i := range members {
		accessFlags, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIndex, err := r.u16()
		if err != nil {
			return nil, err
		}
		descIndex, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := resolveUtf8(pool, nameIndex)
		if err != nil {
			return nil, err
		}
		descriptor, err := resolveUtf8(pool, descIndex)
		if err != nil {
			return nil, err
		}
		attrs, err := decodeAttributes(r, pool)
		if err != nil {
			return nil, err
		}
		members[i] = Method{AccessFlags: accessFlags, Name: name, Descriptor: descriptor, Attributes: attrs}
	}
	return members, nil
}
