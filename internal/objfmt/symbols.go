package objfmt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxNameLen is the longest symbol name the on-disk format can carry.
const MaxNameLen = 8

// symbolRecSize is the on-disk size of one symbol entry: 8-byte name,
// 1-byte tag, 2-byte value.
const symbolRecSize = 11

// SymbolRecord is one entry of the object's global/external symbol
// table (spec §6).
type SymbolRecord struct {
	Name  string
	Tag   uint8 // Segment tag, or an external number (>=5)
	Value uint16
}

// WriteSymbolSection emits the on-disk symbol section: a little-endian
// u16 count followed by that many 11-byte records.
func WriteSymbolSection(w io.Writer, syms []SymbolRecord) error {
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(syms)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, s := range syms {
		if len(s.Name) > MaxNameLen {
			return fmt.Errorf("symbol name %q exceeds %d characters", s.Name, MaxNameLen)
		}
		var entry [symbolRecSize]byte
		copy(entry[0:8], s.Name)
		entry[8] = s.Tag
		binary.LittleEndian.PutUint16(entry[9:11], s.Value)
		if _, err := w.Write(entry[:]); err != nil {
			return err
		}
	}
	return nil
}

// ReadSymbolSection reads the on-disk symbol section written by
// WriteSymbolSection.
func ReadSymbolSection(r io.Reader) ([]SymbolRecord, error) {
	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("reading symbol count: %w", err)
	}
	count := binary.LittleEndian.Uint16(countBuf[:])
	syms := make([]SymbolRecord, count)
	for i := range syms {
		var entry [symbolRecSize]byte
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return nil, fmt.Errorf("reading symbol record %d: %w", i, err)
		}
		end := 0
		for end < 8 && entry[end] != 0 {
			end++
		}
		syms[i] = SymbolRecord{
			Name:  string(entry[0:end]),
			Tag:   entry[8],
			Value: binary.LittleEndian.Uint16(entry[9:11]),
		}
	}
	return syms, nil
}

// TagLetter returns the one-letter tag used by the name-list tool:
// u,t,d,b,a,e for undefined/text/data/bss/absolute/external.
func TagLetter(tag uint8) byte {
	switch Segment(tag) {
	case SegUndefined:
		return 'u'
	case SegText:
		return 't'
	case SegData:
		return 'd'
	case SegBss:
		return 'b'
	case SegAbsolute:
		return 'a'
	default:
		return 'e'
	}
}
