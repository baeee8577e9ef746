package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tergav17/trasm/internal/lexer"
	"github.com/tergav17/trasm/internal/objfmt"
	"github.com/tergav17/trasm/internal/symtab"
)

func newLexer(src string) *lexer.Lexer {
	return lexer.New(lexer.NewSource([]string{"t.s"}, [][]byte{[]byte(src)}))
}

func eval(t *testing.T, src string, tbl *symtab.Table) Value {
	t.Helper()
	if tbl == nil {
		tbl = symtab.New()
	}
	v, err := Eval(newLexer(src), &Resolver{Symbols: tbl, Pass: 2})
	require.NoError(t, err, src)
	return v
}

func TestPrecedenceAddBeforeOr(t *testing.T) {
	// | binds loosest, so "1 | 2 + 2" is "1 | (2+2)" = 1|4 = 5.
	v := eval(t, "1 | 2 + 2", nil)
	require.EqualValues(t, 5, v.Value)
}

func TestPrecedenceAddBeforeMul(t *testing.T) {
	// + binds tighter than *, so "2 + 3 * 4" is "(2+3) * 4" = 20.
	v := eval(t, "2 + 3 * 4", nil)
	require.EqualValues(t, 20, v.Value)
}

func TestShiftTokenRequiresDoubleChar(t *testing.T) {
	v := eval(t, "1 << 4", nil)
	require.EqualValues(t, 16, v.Value)
}

func TestParensOverridePrecedence(t *testing.T) {
	// Without the parentheses this would be (2+3)*4 = 20.
	v := eval(t, "2 + (3 * 4)", nil)
	require.EqualValues(t, 14, v.Value)
}

func TestUnaryInvert(t *testing.T) {
	v := eval(t, "!0", nil)
	require.EqualValues(t, 0xFFFF, v.Value)
}

func TestUnaryMinus(t *testing.T) {
	v := eval(t, "-1", nil)
	require.EqualValues(t, 0xFFFF, v.Value)
}

func TestRadixPrefixesAndSuffixes(t *testing.T) {
	cases := map[string]uint16{
		"0x1F":  0x1F,
		"0h1F":  0x1F,
		"1Fh":   0x1F,
		"0o17":  0xF,
		"17o":   0xF,
		"017":   0xF,
		"0b101": 5,
		"101b":  5,
		"42":    42,
	}
	for src, want := range cases {
		v := eval(t, src, nil)
		require.EqualValuesf(t, want, v.Value, "src=%s", src)
	}
}

func TestCharLiteralWithEscape(t *testing.T) {
	v := eval(t, "'\\n'", nil)
	require.EqualValues(t, '\n', v.Value)
}

func TestDivisionByZeroFatalOnPass2(t *testing.T) {
	_, err := Eval(newLexer("1 / 0"), &Resolver{Symbols: symtab.New(), Pass: 2})
	require.Error(t, err)
}

func TestDivisionByZeroYieldsZeroOnPass1(t *testing.T) {
	v, err := Eval(newLexer("1 / 0"), &Resolver{Symbols: symtab.New(), Pass: 1})
	require.NoError(t, err)
	require.EqualValues(t, 0, v.Value)
}

func TestTypeArithmeticAbsolutePlusText(t *testing.T) {
	tbl := symtab.New()
	_, err := tbl.Update("label", objfmt.SegText, 0x100)
	require.NoError(t, err)
	v := eval(t, "4 + label", tbl)
	require.Equal(t, objfmt.SegText, v.Segment)
	require.EqualValues(t, 0x104, v.Value)
}

func TestTypeArithmeticTextMinusAbsolute(t *testing.T) {
	tbl := symtab.New()
	_, err := tbl.Update("label", objfmt.SegText, 0x100)
	require.NoError(t, err)
	v := eval(t, "label - 4", tbl)
	require.Equal(t, objfmt.SegText, v.Segment)
	require.EqualValues(t, 0xFC, v.Value)
}

func TestTypeArithmeticTwoNonAbsoluteIsError(t *testing.T) {
	tbl := symtab.New()
	_, err := tbl.Update("a", objfmt.SegText, 1)
	require.NoError(t, err)
	_, err = tbl.Update("b", objfmt.SegData, 1)
	require.NoError(t, err)
	_, err = Eval(newLexer("a + b"), &Resolver{Symbols: tbl, Pass: 2})
	require.Error(t, err)
}

func TestTypeArithmeticAbsoluteMinusTextIsError(t *testing.T) {
	tbl := symtab.New()
	_, err := tbl.Update("label", objfmt.SegText, 0x100)
	require.NoError(t, err)
	_, err = Eval(newLexer("4 - label"), &Resolver{Symbols: tbl, Pass: 2})
	require.Error(t, err)
}

func TestSizeOfBuiltinType(t *testing.T) {
	v := eval(t, "$word", nil)
	require.EqualValues(t, 2, v.Value)
	require.Equal(t, objfmt.SegAbsolute, v.Segment)
}

func TestFieldDereference(t *testing.T) {
	tbl := symtab.New()
	fields := []*symtab.Symbol{
		{Name: "x", Kind: symtab.KindScalar, Value: 0, Size: 2},
		{Name: "y", Kind: symtab.KindScalar, Value: 2, Size: 2},
	}
	typ, err := tbl.DeclareType("point", fields, 4)
	require.NoError(t, err)
	_, err = tbl.Update("origin", objfmt.SegData, 0x40)
	require.NoError(t, err)
	origin, _ := tbl.Fetch(nil, "origin")
	origin.Kind = symtab.KindType
	origin.Fields = typ.Fields

	v := eval(t, "origin.y", tbl)
	require.EqualValues(t, 0x42, v.Value)
}

func TestUndefinedForwardReferenceYieldsUndefined(t *testing.T) {
	v, err := Eval(newLexer("notyet"), &Resolver{Symbols: symtab.New(), Pass: 1, AllowForward: true})
	require.NoError(t, err)
	require.Equal(t, objfmt.SegUndefined, v.Segment)
}

func TestUndefinedReferenceErrorsWithoutAllowForward(t *testing.T) {
	_, err := Eval(newLexer("notyet"), &Resolver{Symbols: symtab.New(), Pass: 2})
	require.Error(t, err)
}

func TestExternReferenceDoesNotRequireAllowForward(t *testing.T) {
	tbl := symtab.New()
	_, err := tbl.DeclareExtern("printf")
	require.NoError(t, err)
	v, err := Eval(newLexer("printf"), &Resolver{Symbols: tbl, Pass: 2})
	require.NoError(t, err)
	require.Equal(t, objfmt.FirstExtern, v.Segment)
}

func TestLocalLabelReferenceForwardBackward(t *testing.T) {
	tbl := symtab.New()
	tbl.LocalAdd('1', objfmt.SegText, 0x10)
	tbl.LocalAdd('1', objfmt.SegText, 0x20)

	v, err := Eval(newLexer("1f"), &Resolver{
		Symbols:      tbl,
		Pass:         2,
		LocalOrdinal: func(byte) int { return 0 },
	})
	require.NoError(t, err)
	require.EqualValues(t, 0x10, v.Value)

	v, err = Eval(newLexer("1b"), &Resolver{
		Symbols:      tbl,
		Pass:         2,
		LocalOrdinal: func(byte) int { return 2 },
	})
	require.NoError(t, err)
	require.EqualValues(t, 0x20, v.Value)
}

func TestValueStackOverflowIsFatal(t *testing.T) {
	p := &parser{lex: newLexer(""), res: &Resolver{Symbols: symtab.New()}}
	for i := 0; i < maxStackDepth; i++ {
		require.NoError(t, p.pushVal(Value{}))
	}
	require.Error(t, p.pushVal(Value{}))
}

func TestOperatorStackOverflowIsFatal(t *testing.T) {
	p := &parser{lex: newLexer(""), res: &Resolver{Symbols: symtab.New()}}
	for i := 0; i < maxStackDepth; i++ {
		require.NoError(t, p.pushOp(opAdd))
	}
	require.Error(t, p.pushOp(opAdd))
}

func TestBracketRequiresAbsolute(t *testing.T) {
	tbl := symtab.New()
	_, err := tbl.Update("label", objfmt.SegText, 1)
	require.NoError(t, err)
	_, err = Bracket(newLexer("[label]"), &Resolver{Symbols: tbl, Pass: 2}, true)
	require.Error(t, err)
}

func TestBracketAbsoluteOK(t *testing.T) {
	v, err := Bracket(newLexer("[4+4]"), &Resolver{Symbols: symtab.New(), Pass: 2}, true)
	require.NoError(t, err)
	require.EqualValues(t, 8, v)
}
