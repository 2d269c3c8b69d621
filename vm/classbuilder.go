package vm

import (
	"bytes"
	"encoding/binary"
)

// classBuilder assembles a well-formed class-file byte stream by hand.
// It exists so the bundled default sample and the interpreter's
// end-to-end test fixtures are built from named fields instead of opaque
// byte literals - there is no Java toolchain available to compile real
// .class files for this repo's fixtures.
type classBuilder struct {
	buf  bytes.Buffer
	pool [][]byte // encoded constant pool entries, in stream order

	// logicalCount is the external (1-based) slot the next entry will
	// land on minus one - i.e. it tracks Long/Double's two-slot rule, so
	// indices returned by add* stay correct even once one has been added.
	logicalCount uint16
}

func newClassBuilder() *classBuilder { return &classBuilder{} }

// intern appends a physical pool entry and returns its external index;
// slots is 2 for Long/Double (which consume a placeholder slot) and 1 for
// everything else.
func (b *classBuilder) intern(entry []byte, slots uint16) uint16 {
	b.pool = append(b.pool, entry)
	b.logicalCount += slots
	return b.logicalCount - slots + 1
}

func (b *classBuilder) addUtf8(s string) uint16 {
	var entry bytes.Buffer
	entry.WriteByte(byte(TagUtf8))
	binary.Write(&entry, binary.BigEndian, uint16(len(s)))
	entry.WriteString(s)
	return b.intern(entry.Bytes(), 1)
}

func (b *classBuilder) addClass(nameIndex uint16) uint16 {
	var entry bytes.Buffer
	entry.WriteByte(byte(TagClass))
	binary.Write(&entry, binary.BigEndian, nameIndex)
	return b.intern(entry.Bytes(), 1)
}

func (b *classBuilder) addNameAndType(nameIndex, descIndex uint16) uint16 {
	var entry bytes.Buffer
	entry.WriteByte(byte(TagNameAndType))
	binary.Write(&entry, binary.BigEndian, nameIndex)
	binary.Write(&entry, binary.BigEndian, descIndex)
	return b.intern(entry.Bytes(), 1)
}

func (b *classBuilder) addMethodref(classIndex, natIndex uint16) uint16 {
	var entry bytes.Buffer
	entry.WriteByte(byte(TagMethodref))
	binary.Write(&entry, binary.BigEndian, classIndex)
	binary.Write(&entry, binary.BigEndian, natIndex)
	return b.intern(entry.Bytes(), 1)
}

// addLong interns a Long constant, which - per the class-file format -
// consumes the following pool slot as an unused placeholder.
func (b *classBuilder) addLong(v int64) uint16 {
	var entry bytes.Buffer
	entry.WriteByte(byte(TagLong))
	binary.Write(&entry, binary.BigEndian, v)
	return b.intern(entry.Bytes(), 2)
}

// builtMethod describes one method to emit: its access flags, name,
// descriptor (as already-interned constant-pool indices) and its Code
// attribute's body.
type builtMethod struct {
	AccessFlags    uint16
	NameIndex      uint16
	DescriptorIndex uint16
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
}

// build assembles the full class-file byte stream: magic/version, the
// interned constant pool, access/this/super, zero interfaces and fields,
// the given methods (each wrapped in a single Code attribute named by
// codeAttrNameIndex), and zero class-level attributes.
func (b *classBuilder) build(thisIndex, superIndex uint16, methods []builtMethod, codeAttrNameIndex uint16) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, classFileMagic)
	binary.Write(&out, binary.BigEndian, uint16(0)) // minor
	binary.Write(&out, binary.BigEndian, uint16(52)) // major

	binary.Write(&out, binary.BigEndian, b.logicalCount+1)
	for _, entry := range b.pool {
		out.Write(entry)
	}

	binary.Write(&out, binary.BigEndian, uint16(0x0021)) // ACC_PUBLIC | ACC_SUPER
	binary.Write(&out, binary.BigEndian, thisIndex)
	binary.Write(&out, binary.BigEndian, superIndex)

	binary.Write(&out, binary.BigEndian, uint16(0)) // interfaces
	binary.Write(&out, binary.BigEndian, uint16(0)) // fields

	binary.Write(&out, binary.BigEndian, uint16(len(methods)))
	for _, m := range methods {
		binary.Write(&out, binary.BigEndian, m.AccessFlags)
		binary.Write(&out, binary.BigEndian, m.NameIndex)
		binary.Write(&out, binary.BigEndian, m.DescriptorIndex)
		binary.Write(&out, binary.BigEndian, uint16(1)) // one attribute: Code

		var code bytes.Buffer
		binary.Write(&code, binary.BigEndian, m.MaxStack)
		binary.Write(&code, binary.BigEndian, m.MaxLocals)
		binary.Write(&code, binary.BigEndian, uint32(len(m.Code)))
		code.Write(m.Code)
		binary.Write(&code, binary.BigEndian, uint16(0)) // exception table
		binary.Write(&code, binary.BigEndian, uint16(0)) // nested attributes

		binary.Write(&out, binary.BigEndian, codeAttrNameIndex)
		binary.Write(&out, binary.BigEndian, uint32(code.Len()))
		out.Write(code.Bytes())
	}

	binary.Write(&out, binary.BigEndian, uint16(0)) // class attributes
	return out.Bytes()
}
