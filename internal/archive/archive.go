// Package archive implements the read-only "ar"-style archive
// container walk used by the link editor's demand-loading (spec §4.8,
// §6): an 8-byte magic, a sequential run of 60-byte-headered members
// with an ASCII decimal size field, bodies padded to an even length.
package archive

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Magic is the fixed 8-byte archive signature.
const Magic = "!<arch>\n"

const (
	headerSize    = 60
	nameField     = 16
	sizeFieldOff  = 48
	sizeFieldLen  = 10
)

// Member is one record of the archive: its member name (trimmed of
// trailing padding) and its body bytes.
type Member struct {
	Name string
	Data []byte
}

// IsArchive reports whether data begins with the archive magic (spec
// §4.8 check-in phase: "if it begins with !<arch>\n record it as an
// archive").
func IsArchive(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Open reads and fully parses an archive file into its member records,
// in on-disk order.
func Open(path string) ([]Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse walks the archive body, yielding every member in sequence.
func Parse(data []byte) ([]Member, error) {
	if !IsArchive(data) {
		return nil, fmt.Errorf("not an archive (bad magic)")
	}
	pos := len(Magic)
	var members []Member
	for pos < len(data) {
		if pos+headerSize > len(data) {
			return nil, fmt.Errorf("truncated archive member header at offset %d", pos)
		}
		hdr := data[pos : pos+headerSize]
		name := strings.TrimRight(string(hdr[0:nameField]), " \x00")
		sizeText := strings.TrimSpace(string(hdr[sizeFieldOff : sizeFieldOff+sizeFieldLen]))
		size, err := strconv.Atoi(sizeText)
		if err != nil {
			return nil, fmt.Errorf("archive member %q: bad size field %q: %w", name, sizeText, err)
		}
		bodyStart := pos + headerSize
		bodyEnd := bodyStart + size
		if bodyEnd > len(data) {
			return nil, fmt.Errorf("archive member %q: body overruns archive (size %d)", name, size)
		}
		members = append(members, Member{Name: name, Data: data[bodyStart:bodyEnd]})

		pos = bodyEnd
		if size%2 != 0 {
			pos++ // odd-sized bodies are padded to even
		}
	}
	return members, nil
}

// Fetch returns the record-index'th member's body (spec §4.8: "open
// record N of archive").
func Fetch(members []Member, index int) ([]byte, error) {
	if index < 0 || index >= len(members) {
		return nil, fmt.Errorf("archive record %d out of range (have %d)", index, len(members))
	}
	return members[index].Data, nil
}
