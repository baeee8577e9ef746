package linker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tergav17/trasm/internal/archive"
	"github.com/tergav17/trasm/internal/assembler"
	"github.com/tergav17/trasm/internal/objfmt"
)

func buildInput(t *testing.T, name, src string) Input {
	t.Helper()
	obj, err := assembler.Assemble([]string{name}, [][]byte{[]byte(src)}, assembler.Options{})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, obj.Write(&buf))
	return Input{Name: name, Data: buf.Bytes()}
}

func TestLinkMergesTwoObjects(t *testing.T) {
	main := buildInput(t, "main.o", ".text\n.globl main\nmain: nop\n")
	caller := buildInput(t, "caller.o", ".text\n.extern main\ncall main\n")

	obj, err := Link([]Input{caller, main}, Options{})
	require.NoError(t, err)

	// caller.o (3 bytes of text) is laid out first, main.o (1 byte)
	// right after it: text_top = 16 + 3 + 1 = 20.
	require.EqualValues(t, objfmt.HeaderSize+4, obj.Header.TextTop)
	// "call main" patches to main's merged base: 16 + caller's own
	// text size (3) = 19 = 0x13.
	require.Equal(t, []byte{0xCD, 0x13, 0x00, 0x00}, obj.Text)
}

func TestLinkDuplicateDefinitionFails(t *testing.T) {
	a := buildInput(t, "a.o", ".text\n.globl foo\nfoo: nop\n")
	b := buildInput(t, "b.o", ".text\n.globl foo\nfoo: halt\n")

	_, err := Link([]Input{a, b}, Options{})
	require.Error(t, err)
}

func TestLinkUnresolvedFailsWithoutKeepUnresolved(t *testing.T) {
	a := buildInput(t, "a.o", ".text\n.extern missing\ncall missing\n")

	_, err := Link([]Input{a}, Options{})
	require.Error(t, err)
}

func TestLinkUnresolvedReassignsExternNumberWithKeepUnresolved(t *testing.T) {
	a := buildInput(t, "a.o", ".text\n.extern missing\ncall missing\n")

	obj, err := Link([]Input{a}, Options{KeepUnresolved: true})
	require.NoError(t, err)
	require.True(t, obj.Header.IsLinkable())
	require.False(t, obj.Header.IsLinked())

	var found bool
	for _, s := range obj.Symbols {
		if s.Name == "missing" {
			found = true
			require.EqualValues(t, objfmt.FirstExtern, s.Tag)
		}
	}
	require.True(t, found)
}

func TestLinkSquashOmitsSymbolTable(t *testing.T) {
	a := buildInput(t, "a.o", ".text\n.globl foo\nfoo: nop\n")

	obj, err := Link([]Input{a}, Options{Squash: true})
	require.NoError(t, err)
	require.Empty(t, obj.Symbols)
}

func TestLinkDemandLoadsArchiveMember(t *testing.T) {
	depObj, err := assembler.Assemble([]string{"dep.o"}, [][]byte{[]byte(".text\n.globl helper\nhelper: nop\n")}, assembler.Options{})
	require.NoError(t, err)
	var depBuf bytes.Buffer
	require.NoError(t, depObj.Write(&depBuf))

	unusedObj, err := assembler.Assemble([]string{"unused.o"}, [][]byte{[]byte(".text\n.globl other\nother: halt\n")}, assembler.Options{})
	require.NoError(t, err)
	var unusedBuf bytes.Buffer
	require.NoError(t, unusedObj.Write(&unusedBuf))

	var arBuf bytes.Buffer
	arBuf.WriteString(archive.Magic)
	writeArchiveMember(&arBuf, "dep.o", depBuf.Bytes())
	writeArchiveMember(&arBuf, "unused.o", unusedBuf.Bytes())

	main := buildInput(t, "main.o", ".text\n.extern helper\ncall helper\n")
	lib := Input{Name: "lib.a", Data: arBuf.Bytes()}

	obj, err := Link([]Input{main, lib}, Options{})
	require.NoError(t, err)
	require.True(t, obj.Header.IsLinked())

	var found bool
	for _, s := range obj.Symbols {
		if s.Name == "helper" {
			found = true
		}
	}
	require.True(t, found)
}

// writeArchiveMember appends one "ar"-style member record in the layout
// internal/archive.Parse expects: a 60-byte header (name then an ASCII
// decimal size field at offset 48) followed by the body, padded to an
// even length.
func writeArchiveMember(buf *bytes.Buffer, name string, body []byte) {
	hdr := make([]byte, 60)
	copy(hdr, []byte(name))
	for i := len(name); i < 16; i++ {
		hdr[i] = ' '
	}
	sizeText := []byte(itoa(len(body)))
	copy(hdr[48:58], sizeText)
	for i := 48 + len(sizeText); i < 58; i++ {
		hdr[i] = ' '
	}
	buf.Write(hdr)
	buf.Write(body)
	if len(body)%2 != 0 {
		buf.WriteByte(0)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
