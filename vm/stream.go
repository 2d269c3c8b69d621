package vm

// Instructions holds a method's decoded instruction sequence and a
// program counter expressed as a decoded index (not a byte offset). The
// byte-offset -> decoded-index mapping used by Goto is built lazily and
// memoized, since most methods never branch backward past where they've
// already executed.
type Instructions struct {
	instructions []Instruction
	offsets      []int // byte offset of instructions[i]; cheap prefix sum, built eagerly
	index        int

	offsetToIndex map[int]int
	indexedUpTo   int // number of instructions entered into offsetToIndex so far
	coveredBytes  int // byte offset just past the last indexed instruction
}

// NewInstructions wraps an already-decoded instruction sequence.
func NewInstructions(instructions []Instruction) *Instructions {
	offsets := make([]int, len(instructions))
	running := 0
	for i, ins := range instructions {
		offsets[i] = running
		running += ins.Size
	}
	return &Instructions{
		instructions:  instructions,
		offsets:       offsets,
		offsetToIndex: make(map[int]int),
	}
}

// Next returns the current instruction, the byte offset it starts at, and
// advances the program counter; it returns ok=false once the sequence is
// exhausted.
func (s *Instructions) Next() (ins Instruction, offset int, ok bool) {
	if s.index >= len(s.instructions) {
		return Instruction{}, 0, false
	}
	ins = s.instructions[s.index]
	offset = s.offsets[s.index]
	s.index++
	return ins, offset, true
}

// Goto repositions the program counter to the decoded instruction that
// begins at the given byte offset within the original code array. It
// returns false if the offset does not fall exactly on an instruction
// boundary.
func (s *Instructions) Goto(byteOffset int) bool {
	s.ensureIndexedThrough(byteOffset)
	idx, ok := s.offsetToIndex[byteOffset]
	if !ok {
		return false
	}
	s.index = idx
	return true
}

// ensureIndexedThrough extends the memoized offset->index map until it
// covers byteOffset (or the whole instruction sequence, if byteOffset
// lies beyond the end of the code - Goto will then correctly report a
// miss).
func (s *Instructions) ensureIndexedThrough(byteOffset int) {
	for s.coveredBytes <= byteOffset && s.indexedUpTo < len(s.instructions) {
		s.offsetToIndex[s.coveredBytes] = s.indexedUpTo
		s.coveredBytes += s.instructions[s.indexedUpTo].Size
		s.indexedUpTo++
	}
}
