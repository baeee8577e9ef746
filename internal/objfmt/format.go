// Package objfmt implements the on-disk object format shared by the
// assembler, linker, relocator and name-lister: a 16-byte header, the
// text and data segments, a terminated relocation section and a
// terminated symbol section.
package objfmt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed size of the object header in bytes.
const HeaderSize = 16

const (
	magicLo = 0x18
	magicHi = 0x0E
)

// Info byte bits.
const (
	InfoLinkable = 1 << 0 // object carries relocations and an external symbol table
	InfoLinked   = 1 << 1 // object is fully linked and ready to execute
)

// Segment identifies where a symbol's value lives. Values 5 and above
// name an external reference by its sequential external number.
type Segment uint8

const (
	SegUndefined Segment = 0
	SegText      Segment = 1
	SegData      Segment = 2
	SegBss       Segment = 3
	SegAbsolute  Segment = 4
	FirstExtern  Segment = 5
)

func (s Segment) String() string {
	switch s {
	case SegUndefined:
		return "undef"
	case SegText:
		return "text"
	case SegData:
		return "data"
	case SegBss:
		return "bss"
	case SegAbsolute:
		return "abs"
	default:
		return fmt.Sprintf("extern#%d", uint8(s)-uint8(FirstExtern))
	}
}

// Header is the 16-byte object header described in spec §6.
type Header struct {
	Info          uint8
	TextOrigin    uint16
	SyscallVector [3]byte // C3 lo hi
	EntryPoint    uint16
	TextTop       uint16
	DataTop       uint16
	BssTop        uint16
}

// WriteHeader emits the 16-byte header in its bit-exact on-disk layout.
func WriteHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	buf[0] = magicLo
	buf[1] = magicHi
	buf[2] = h.Info
	binary.LittleEndian.PutUint16(buf[3:5], h.TextOrigin)
	buf[5], buf[6], buf[7] = h.SyscallVector[0], h.SyscallVector[1], h.SyscallVector[2]
	binary.LittleEndian.PutUint16(buf[8:10], h.EntryPoint)
	binary.LittleEndian.PutUint16(buf[10:12], h.TextTop)
	binary.LittleEndian.PutUint16(buf[12:14], h.DataTop)
	binary.LittleEndian.PutUint16(buf[14:16], h.BssTop)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader parses and validates the 16-byte header, rejecting a bad
// magic number.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}
	if buf[0] != magicLo || buf[1] != magicHi {
		return Header{}, fmt.Errorf("bad magic: %02x %02x", buf[0], buf[1])
	}
	h := Header{
		Info:          buf[2],
		TextOrigin:    binary.LittleEndian.Uint16(buf[3:5]),
		SyscallVector: [3]byte{buf[5], buf[6], buf[7]},
		EntryPoint:    binary.LittleEndian.Uint16(buf[8:10]),
		TextTop:       binary.LittleEndian.Uint16(buf[10:12]),
		DataTop:       binary.LittleEndian.Uint16(buf[12:14]),
		BssTop:        binary.LittleEndian.Uint16(buf[14:16]),
	}
	return h, nil
}

// IsLinkable reports whether the header's info byte carries the
// linkable bit (relocations + external symbols present).
func (h Header) IsLinkable() bool { return h.Info&InfoLinkable != 0 }

// IsLinked reports whether the header's info byte carries the
// fully-linked bit.
func (h Header) IsLinked() bool { return h.Info&InfoLinked != 0 }
