package objfmt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RelocRecord is one fix-up: a segment tag (1-3) or an external number
// (>=5), and the byte offset where the fix-up lives. In a RelocList the
// offset is within one segment; in an Object's combined list it counts
// from the first text byte, with data following text.
type RelocRecord struct {
	Tag    uint8
	Offset uint16
}

// RelocList is the relocation-record engine (spec §4.7): an ordered,
// per-segment sequence of fix-ups that must be inserted in strictly
// non-decreasing address order. The assembler uses it to build each
// segment's fix-up list as bytes are emitted; the linker and relocator
// work on plain []RelocRecord slices.
type RelocList struct {
	recs    []RelocRecord
	last    uint16
	hasLast bool
}

// NewRelocList returns an empty relocation list.
func NewRelocList() *RelocList {
	return &RelocList{}
}

// Insert appends a fix-up at addr. Insertion must occur in
// non-decreasing address order; a lower address than the current tail
// is a protocol error (spec §4.7, §7 "backwards relocation").
func (rl *RelocList) Insert(tag uint8, addr uint16) error {
	if rl.hasLast && addr < rl.last {
		return fmt.Errorf("backwards reloc: addr 0x%04x precedes previous 0x%04x", addr, rl.last)
	}
	rl.recs = append(rl.recs, RelocRecord{Tag: tag, Offset: addr})
	rl.last = addr
	rl.hasLast = true
	return nil
}

// Records returns the fix-ups in insertion order.
func (rl *RelocList) Records() []RelocRecord {
	return rl.recs
}

// Len returns the number of fix-ups recorded.
func (rl *RelocList) Len() int { return len(rl.recs) }

// EncodeDelta produces the compact chain-of-records physical encoding
// described in spec §4.7: each entry is a (tag, delta) byte pair, a
// delta of 254 is a continuation (no fix-up at that point, more delta
// follows), and a trailing (0, 255) pair terminates the list.
func (rl *RelocList) EncodeDelta() []byte {
	var out []byte
	var last uint16
	for _, r := range rl.recs {
		diff := int(r.Offset) - int(last)
		for diff >= 254 {
			out = append(out, 0, 254)
			diff -= 254
		}
		out = append(out, r.Tag, byte(diff))
		last = r.Offset
	}
	out = append(out, 0, 255)
	return out
}

// DecodeDelta parses the chain-of-records physical encoding back into
// a flat, ordered list of fix-ups.
func DecodeDelta(data []byte) ([]RelocRecord, error) {
	var out []RelocRecord
	var addr uint16
	for i := 0; i+1 < len(data); i += 2 {
		tag, delta := data[i], data[i+1]
		if delta == 255 {
			return out, nil
		}
		addr += uint16(delta)
		if delta == 254 {
			continue
		}
		out = append(out, RelocRecord{Tag: tag, Offset: addr})
	}
	return nil, fmt.Errorf("relocation chain missing terminator")
}

// WriteSection emits the on-disk relocation section (spec §6): a
// little-endian u16 count, that many flat 3-byte (tag, addr_lo,
// addr_hi) records, then a 3-byte zero terminator.
func WriteSection(w io.Writer, recs []RelocRecord) error {
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(recs)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, r := range recs {
		var entry [3]byte
		entry[0] = r.Tag
		binary.LittleEndian.PutUint16(entry[1:3], r.Offset)
		if _, err := w.Write(entry[:]); err != nil {
			return err
		}
	}
	var term [3]byte
	_, err := w.Write(term[:])
	return err
}

// ReadSection reads the on-disk relocation section written by
// WriteSection.
func ReadSection(r io.Reader) ([]RelocRecord, error) {
	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("reading reloc count: %w", err)
	}
	count := binary.LittleEndian.Uint16(countBuf[:])
	recs := make([]RelocRecord, count)
	for i := range recs {
		var entry [3]byte
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return nil, fmt.Errorf("reading reloc record %d: %w", i, err)
		}
		recs[i] = RelocRecord{Tag: entry[0], Offset: binary.LittleEndian.Uint16(entry[1:3])}
	}
	var term [3]byte
	if _, err := io.ReadFull(r, term[:]); err != nil {
		return nil, fmt.Errorf("reading reloc terminator: %w", err)
	}
	return recs, nil
}
