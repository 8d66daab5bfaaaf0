package vm

import (
	"sort"

	"github.com/funvibe/runevm/internal/ast"
)

// DebugEntry maps the instruction at Offset (and everything after it, up to
// the next entry) to a source span.
type DebugEntry struct {
	Offset int
	Span   ast.Span
}

// Chunk is a flat instruction stream with its debug records.
type Chunk struct {
	// Code is the bytecode instructions of every function in the unit
	Code []byte

	// Debug is sorted by Offset; a new entry is only recorded when the span changes
	Debug []DebugEntry
}

// WriteOp writes an opcode attributed to span
func (c *Chunk) WriteOp(op Opcode, span ast.Span) {
	if n := len(c.Debug); n == 0 || c.Debug[n-1].Span != span {
		c.Debug = append(c.Debug, DebugEntry{Offset: len(c.Code), Span: span})
	}
	c.Code = append(c.Code, byte(op))
}

// Write appends a raw byte
func (c *Chunk) Write(b byte) {
	c.Code = append(c.Code, b)
}

// WriteU16 appends a big-endian 2-byte operand
func (c *Chunk) WriteU16(v int) {
	c.Code = append(c.Code, byte(v>>8), byte(v))
}

// WriteU32 appends a big-endian 4-byte operand
func (c *Chunk) WriteU32(v int) {
	c.Code = append(c.Code, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// PatchU32 overwrites a 4-byte operand at offset
func (c *Chunk) PatchU32(offset, v int) {
	c.Code[offset] = byte(v >> 24)
	c.Code[offset+1] = byte(v >> 16)
	c.Code[offset+2] = byte(v >> 8)
	c.Code[offset+3] = byte(v)
}

// ReadU16 reads a 2-byte operand at offset
func (c *Chunk) ReadU16(offset int) int {
	return int(c.Code[offset])<<8 | int(c.Code[offset+1])
}

// ReadU32 reads a 4-byte operand at offset
func (c *Chunk) ReadU32(offset int) int {
	return int(c.Code[offset])<<24 | int(c.Code[offset+1])<<16 | int(c.Code[offset+2])<<8 | int(c.Code[offset+3])
}

// SpanAt returns the source span of the instruction at offset
func (c *Chunk) SpanAt(offset int) ast.Span {
	i := sort.Search(len(c.Debug), func(i int) bool { return c.Debug[i].Offset > offset })
	if i == 0 {
		return ast.Span{}
	}
	return c.Debug[i-1].Span
}

// Len returns the number of bytes in the chunk
func (c *Chunk) Len() int {
	return len(c.Code)
}
