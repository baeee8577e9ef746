package z80

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tergav17/trasm/internal/expr"
	"github.com/tergav17/trasm/internal/lexer"
	"github.com/tergav17/trasm/internal/symtab"
)

func newLine(src string) *lexer.Lexer {
	return lexer.New(lexer.NewSource([]string{"t.s"}, [][]byte{[]byte(src)}))
}

func newResolver() *expr.Resolver {
	return &expr.Resolver{Symbols: symtab.New(), Pass: 2}
}

func assemble(t *testing.T, mnem, operands string, pc uint16) ([]byte, []Patch) {
	t.Helper()
	l := newLine(operands)
	code, patches, err := Assemble(mnem, l, newResolver(), pc)
	require.NoError(t, err, "%s %s", mnem, operands)
	return code, patches
}

func TestBasicFamily(t *testing.T) {
	code, _ := assemble(t, "nop", "", 0)
	require.Equal(t, []byte{0x00}, code)

	code, _ = assemble(t, "halt", "", 0)
	require.Equal(t, []byte{0x76}, code)

	code, _ = assemble(t, "ei", "", 0)
	require.Equal(t, []byte{0xFB}, code)
}

func TestBasicExtFamily(t *testing.T) {
	code, _ := assemble(t, "ldir", "", 0)
	require.Equal(t, []byte{0xED, 0xB0}, code)

	code, _ = assemble(t, "neg", "", 0)
	require.Equal(t, []byte{0xED, 0x44}, code)
}

func TestArithAccumulatorImplicit(t *testing.T) {
	code, _ := assemble(t, "sub", "b", 0)
	require.Equal(t, []byte{0x90}, code)

	code, _ = assemble(t, "and", "42", 0)
	require.Equal(t, []byte{0xE6, 42}, code)

	code, _ = assemble(t, "or", "(hl)", 0)
	require.Equal(t, []byte{0xB6}, code)
}

func TestArithExplicitAccumulator(t *testing.T) {
	code, _ := assemble(t, "add", "a,c", 0)
	require.Equal(t, []byte{0x81}, code)

	code, _ = assemble(t, "add", "a,42", 0)
	require.Equal(t, []byte{0xC6, 42}, code)

	code, _ = assemble(t, "adc", "a,(ix+2)", 0)
	require.Equal(t, []byte{0xDD, 0x8E, 2}, code)
}

func TestArith16Bit(t *testing.T) {
	code, _ := assemble(t, "add", "hl,bc", 0)
	require.Equal(t, []byte{0x09}, code)

	code, _ = assemble(t, "adc", "hl,de", 0)
	require.Equal(t, []byte{0xED, 0x5A}, code)

	code, _ = assemble(t, "sbc", "hl,sp", 0)
	require.Equal(t, []byte{0xED, 0x72}, code)

	code, _ = assemble(t, "add", "ix,de", 0)
	require.Equal(t, []byte{0xDD, 0x19}, code)
}

func TestIncrDecr(t *testing.T) {
	code, _ := assemble(t, "inc", "b", 0)
	require.Equal(t, []byte{0x04}, code)

	code, _ = assemble(t, "dec", "(hl)", 0)
	require.Equal(t, []byte{0x35}, code)

	code, _ = assemble(t, "inc", "bc", 0)
	require.Equal(t, []byte{0x03}, code)

	code, _ = assemble(t, "dec", "sp", 0)
	require.Equal(t, []byte{0x3B}, code)

	code, _ = assemble(t, "inc", "ix", 0)
	require.Equal(t, []byte{0xDD, 0x23}, code)
}

func TestBitshPlain(t *testing.T) {
	code, _ := assemble(t, "rlc", "b", 0)
	require.Equal(t, []byte{0xCB, 0x00}, code)

	code, _ = assemble(t, "bit", "3,a", 0)
	require.Equal(t, []byte{0xCB, 0x58 | 7}, code)

	code, _ = assemble(t, "set", "0,d", 0)
	require.Equal(t, []byte{0xCB, 0xC2}, code)
}

func TestBitshOutOfRangeBitIndex(t *testing.T) {
	l := newLine("8,a")
	_, _, err := Assemble("bit", l, newResolver(), 0)
	require.Error(t, err)
}

func TestBitshIndexedWithResultRegister(t *testing.T) {
	code, _ := assemble(t, "res", "1,(ix+3),b", 0)
	require.Equal(t, []byte{0xDD, 0xCB, 3, 0x80 | 1<<3 | 0}, code)
}

func TestBitshIndexedPlain(t *testing.T) {
	code, _ := assemble(t, "rlc", "(iy+1)", 0)
	require.Equal(t, []byte{0xFD, 0xCB, 1, 0x06}, code)
}

func TestStackPushPop(t *testing.T) {
	code, _ := assemble(t, "push", "bc", 0)
	require.Equal(t, []byte{0xC5}, code)

	code, _ = assemble(t, "pop", "af", 0)
	require.Equal(t, []byte{0xF1}, code)

	code, _ = assemble(t, "push", "iy", 0)
	require.Equal(t, []byte{0xFD, 0xE5}, code)
}

func TestStackRejectsSP(t *testing.T) {
	l := newLine("sp")
	_, _, err := Assemble("push", l, newResolver(), 0)
	require.Error(t, err)
}

func TestRetFamily(t *testing.T) {
	code, _ := assemble(t, "ret", "", 0)
	require.Equal(t, []byte{0xC9}, code)

	code, _ = assemble(t, "ret", "z", 0)
	require.Equal(t, []byte{0xC8}, code)

	code, _ = assemble(t, "ret", "nc", 0)
	require.Equal(t, []byte{0xD0}, code)
}

func TestJpFamily(t *testing.T) {
	code, patches := assemble(t, "jp", "1234", 0)
	require.Equal(t, byte(0xC3), code[0])
	require.Nil(t, patches)
	require.Equal(t, []byte{0xD2, 0x04}, code[1:])

	code, _ = assemble(t, "jp", "(hl)", 0)
	require.Equal(t, []byte{0xE9}, code)

	code, _ = assemble(t, "jp", "(iy)", 0)
	require.Equal(t, []byte{0xFD, 0xE9}, code)
}

func TestJpConditional(t *testing.T) {
	code, _ := assemble(t, "jp", "nz,1234", 0)
	require.Equal(t, byte(0xC2), code[0])
	require.Equal(t, []byte{0xD2, 0x04}, code[1:])

	code, _ = assemble(t, "jp", "m,1234", 0)
	require.Equal(t, byte(0xFA), code[0])
}

func TestJrPlainAndConditional(t *testing.T) {
	code, _ := assemble(t, "jr", "10", 12)
	require.Len(t, code, 2)
	require.Equal(t, byte(0x18), code[0])
	require.Equal(t, byte(0xFC), code[1]) // 10-12-2 = -4

	code, _ = assemble(t, "jr", "c,20", 10)
	require.Equal(t, byte(0x38), code[0])
	require.Equal(t, byte(int8(20-10-2)), code[1])

	code, _ = assemble(t, "jr", "nz,8", 10)
	require.Equal(t, byte(0x20), code[0])
}

func TestJrRejectsInvalidCondition(t *testing.T) {
	l := newLine("po,10")
	_, _, err := Assemble("jr", l, newResolver(), 0)
	require.Error(t, err)
}

func TestJrOutOfRange(t *testing.T) {
	l := newLine("500")
	_, _, err := Assemble("jr", l, newResolver(), 0)
	require.Error(t, err)
}

func TestDjnz(t *testing.T) {
	code, _ := assemble(t, "djnz", "10", 8)
	require.Equal(t, byte(0x10), code[0])
	require.Equal(t, byte(int8(10-8-2)), code[1])
}

func TestCallFamily(t *testing.T) {
	code, _ := assemble(t, "call", "1234", 0)
	require.Equal(t, byte(0xCD), code[0])

	code, _ = assemble(t, "call", "z,1234", 0)
	require.Equal(t, byte(0xCC), code[0])

	code, _ = assemble(t, "call", "po,1234", 0)
	require.Equal(t, byte(0xE4), code[0])
}

func TestRst(t *testing.T) {
	code, _ := assemble(t, "rst", "0x38", 0)
	require.Equal(t, []byte{0xFF}, code)

	l := newLine("5")
	_, _, err := Assemble("rst", l, newResolver(), 0)
	require.Error(t, err)
}

func TestIoInOut(t *testing.T) {
	code, _ := assemble(t, "in", "a,(0x10)", 0)
	require.Equal(t, []byte{0xDB, 0x10}, code)

	code, _ = assemble(t, "in", "b,(c)", 0)
	require.Equal(t, []byte{0xED, 0x40}, code)

	code, _ = assemble(t, "out", "(0x10),a", 0)
	require.Equal(t, []byte{0xD3, 0x10}, code)

	code, _ = assemble(t, "out", "(c),c", 0)
	require.Equal(t, []byte{0xED, 0x49}, code)
}

func TestExchange(t *testing.T) {
	code, _ := assemble(t, "ex", "de,hl", 0)
	require.Equal(t, []byte{0xEB}, code)

	code, _ = assemble(t, "ex", "(sp),hl", 0)
	require.Equal(t, []byte{0xE3}, code)

	code, _ = assemble(t, "ex", "(sp),ix", 0)
	require.Equal(t, []byte{0xDD, 0xE3}, code)

	code, _ = assemble(t, "ex", "af,af'", 0)
	require.Equal(t, []byte{0x08}, code)
}

func TestInterruptMode(t *testing.T) {
	code, _ := assemble(t, "im", "0", 0)
	require.Equal(t, []byte{0xED, 0x46}, code)

	code, _ = assemble(t, "im", "1", 0)
	require.Equal(t, []byte{0xED, 0x56}, code)

	code, _ = assemble(t, "im", "2", 0)
	require.Equal(t, []byte{0xED, 0x5E}, code)
}

func TestLoad8BitRegToReg(t *testing.T) {
	code, _ := assemble(t, "ld", "b,c", 0)
	require.Equal(t, []byte{0x41}, code)

	code, _ = assemble(t, "ld", "a,(hl)", 0)
	require.Equal(t, []byte{0x7E}, code)

	code, _ = assemble(t, "ld", "(hl),a", 0)
	require.Equal(t, []byte{0x77}, code)
}

func TestLoadRejectsIndHLToIndHL(t *testing.T) {
	l := newLine("(hl),(hl)")
	_, _, err := Assemble("ld", l, newResolver(), 0)
	require.Error(t, err)
}

func TestLoad8BitImmediate(t *testing.T) {
	code, _ := assemble(t, "ld", "b,0x42", 0)
	require.Equal(t, []byte{0x06, 0x42}, code)
}

func TestLoadIndexed(t *testing.T) {
	code, _ := assemble(t, "ld", "b,(ix+5)", 0)
	require.Equal(t, []byte{0xDD, 0x46, 5}, code)

	code, _ = assemble(t, "ld", "(iy-2),c", 0)
	require.Equal(t, []byte{0xFD, 0x71, 0xFE}, code) // d = -2

	code, _ = assemble(t, "ld", "(ix+1),0x99", 0)
	require.Equal(t, []byte{0xDD, 0x36, 1, 0x99}, code)
}

func TestLoadRejectsHLWithIndexed(t *testing.T) {
	l := newLine("(hl),(ix+1)")
	_, _, err := Assemble("ld", l, newResolver(), 0)
	require.Error(t, err)
}

func TestLoadAccumulatorIndirectForms(t *testing.T) {
	code, _ := assemble(t, "ld", "a,(bc)", 0)
	require.Equal(t, []byte{0x0A}, code)

	code, _ = assemble(t, "ld", "(de),a", 0)
	require.Equal(t, []byte{0x12}, code)

	code, _ = assemble(t, "ld", "a,(0x1234)", 0)
	require.Equal(t, []byte{0x3A, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "(0x1234),a", 0)
	require.Equal(t, []byte{0x32, 0x34, 0x12}, code)
}

func TestLoadAccumulatorIAndR(t *testing.T) {
	code, _ := assemble(t, "ld", "a,i", 0)
	require.Equal(t, []byte{0xED, 0x57}, code)

	code, _ = assemble(t, "ld", "r,a", 0)
	require.Equal(t, []byte{0xED, 0x4F}, code)
}

func TestLoad16BitImmediate(t *testing.T) {
	code, _ := assemble(t, "ld", "hl,0x1234", 0)
	require.Equal(t, []byte{0x21, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "ix,0x1234", 0)
	require.Equal(t, []byte{0xDD, 0x21, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "sp,0x1234", 0)
	require.Equal(t, []byte{0x31, 0x34, 0x12}, code)
}

func TestLoad16BitIndirect(t *testing.T) {
	code, _ := assemble(t, "ld", "hl,(0x1234)", 0)
	require.Equal(t, []byte{0x2A, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "(0x1234),hl", 0)
	require.Equal(t, []byte{0x22, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "bc,(0x1234)", 0)
	require.Equal(t, []byte{0xED, 0x4B, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "(0x1234),bc", 0)
	require.Equal(t, []byte{0xED, 0x43, 0x34, 0x12}, code)

	code, _ = assemble(t, "ld", "ix,(0x1234)", 0)
	require.Equal(t, []byte{0xDD, 0x2A, 0x34, 0x12}, code)
}

func TestLoadSPFromHLOrIndex(t *testing.T) {
	code, _ := assemble(t, "ld", "sp,hl", 0)
	require.Equal(t, []byte{0xF9}, code)

	code, _ = assemble(t, "ld", "sp,ix", 0)
	require.Equal(t, []byte{0xDD, 0xF9}, code)
}

func TestLoadHalfIndexRegisters(t *testing.T) {
	code, _ := assemble(t, "ld", "ixh,ixl", 0)
	require.Equal(t, []byte{0xDD, 0x40 | 4<<3 | 5}, code)

	code, _ = assemble(t, "ld", "a,iyl", 0)
	require.Equal(t, []byte{0xFD, 0x40 | 7<<3 | 5}, code)

	code, _ = assemble(t, "ld", "ixh,0x11", 0)
	require.Equal(t, []byte{0xDD, 0x06 | 4<<3, 0x11}, code)
}

func TestLoadRejectsMixedIndexHalves(t *testing.T) {
	l := newLine("ixh,iyl")
	_, _, err := Assemble("ld", l, newResolver(), 0)
	require.Error(t, err)
}

func TestLoadRejectsHAndLWithHalfIndex(t *testing.T) {
	l := newLine("h,ixl")
	_, _, err := Assemble("ld", l, newResolver(), 0)
	require.Error(t, err)
}

func TestPatchEmittedForNonAbsoluteTarget(t *testing.T) {
	res := newResolver()
	res.Symbols.DeclareExtern("foo")
	l := newLine("foo")
	code, patches, err := Assemble("call", l, res, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0xCD, 0, 0}, code)
	require.Len(t, patches, 1)
	require.Equal(t, 1, patches[0].Offset)
}
