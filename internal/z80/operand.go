// Package z80 implements the instruction encoder (spec §4.5): operand
// classification, the mnemonic → family/opcode table, and the
// per-family encoders that turn a parsed operand tuple into the
// Z80's (possibly DD/FD/CB/ED-prefixed) byte sequence.
package z80

import (
	"fmt"

	"github.com/tergav17/trasm/internal/expr"
	"github.com/tergav17/trasm/internal/lexer"
	"github.com/tergav17/trasm/internal/objfmt"
)

// Operand classes, numbered exactly as spec §4.5 lists them.
const (
	RegB = iota // 0
	RegC
	RegD
	RegE
	RegH
	RegL
	IndHL // (hl)
	RegA  // 7

	PairBC // 8
	PairDE
	PairHL
	PairSP
	PairAF // 12

	FlagNZ // 13
	FlagZ
	FlagNC
	FlagC
	FlagPO
	FlagPE
	FlagP
	FlagM // 20

	RegIX // 21
	RegIY // 22

	RegIXH   // 23
	RegIXL   // 24
	IndexIX  // (ix+d) 25
	RegIYH   // 26
	RegIYL   // 27
	IndexIY  // (iy+d) 28
	IndIX    // (ix)   29
	IndIY    // (iy)   30
	ImmExpr  // ?      31
	IndExpr  // (?)    32
	IndC     // (c)    33
	IndSP    // (sp)   34
	IndBC    // (bc)   35
	IndDE    // (de)   36
	RegI     // 37
	RegR     // 38
)

// Operand is one parsed instruction argument.
type Operand struct {
	Class int
	Value expr.Value // the expression for ImmExpr/IndExpr/IndexIX/IndexIY
}

var regNames = map[string]int{
	"b": RegB, "c": RegC, "d": RegD, "e": RegE, "h": RegH, "l": RegL, "a": RegA,
	"bc": PairBC, "de": PairDE, "hl": PairHL, "sp": PairSP, "af": PairAF,
	"nz": FlagNZ, "z": FlagZ, "nc": FlagNC, "po": FlagPO, "pe": FlagPE, "p": FlagP, "m": FlagM,
	"ix": RegIX, "iy": RegIY,
	"ixh": RegIXH, "ixl": RegIXL, "iyh": RegIYH, "iyl": RegIYL,
	"i": RegI, "r": RegR,
}

// flagNames is the subset of regNames that are condition-flag
// mnemonics, consulted first by arg() in flow-control contexts so a
// flag keyword is never misread as a forward-referenced label.
var flagNames = map[string]int{
	"nz": FlagNZ, "z": FlagZ, "nc": FlagNC, "c": FlagC,
	"po": FlagPO, "pe": FlagPE, "p": FlagP, "m": FlagM,
}

// arg parses one operand. When noEval is set (used for flow-control
// mnemonics, spec §4.5) a bare identifier is checked against the flag
// table only, so a flag name is never read as a label; register names
// are not recognised in that mode. Anything else is evaluated as an
// expression and returned in Operand.Value.
func arg(l *lexer.Lexer, res *expr.Resolver, noEval bool) (Operand, error) {
	t := peekToken(l)

	if t.Kind == lexer.TokenKind('(') {
		return argIndirect(l, res)
	}

	if t.Kind == lexer.Identifier {
		lower := asciiLower(t.Text)
		if noEval {
			if class, ok := flagNames[lower]; ok {
				consumeToken(l)
				return Operand{Class: class}, nil
			}
		} else if class, ok := regNames[lower]; ok {
			consumeToken(l)
			return Operand{Class: class}, nil
		}
	}

	v, err := expr.Eval(l, res)
	if err != nil {
		return Operand{}, err
	}
	return Operand{Class: ImmExpr, Value: v}, nil
}

// argIndirect parses a parenthesised operand: (c), (sp), (bc), (de),
// (hl), (ix), (iy), (ix+d), (iy+d), or a plain memory expression (?).
func argIndirect(l *lexer.Lexer, res *expr.Resolver) (Operand, error) {
	if err := l.Expect('('); err != nil {
		return Operand{}, err
	}
	t := peekToken(l)
	if t.Kind == lexer.Identifier {
		switch asciiLower(t.Text) {
		case "c":
			consumeToken(l)
			if err := l.Expect(')'); err != nil {
				return Operand{}, err
			}
			return Operand{Class: IndC}, nil
		case "sp":
			consumeToken(l)
			if err := l.Expect(')'); err != nil {
				return Operand{}, err
			}
			return Operand{Class: IndSP}, nil
		case "bc":
			consumeToken(l)
			if err := l.Expect(')'); err != nil {
				return Operand{}, err
			}
			return Operand{Class: IndBC}, nil
		case "de":
			consumeToken(l)
			if err := l.Expect(')'); err != nil {
				return Operand{}, err
			}
			return Operand{Class: IndDE}, nil
		case "hl":
			consumeToken(l)
			if err := l.Expect(')'); err != nil {
				return Operand{}, err
			}
			return Operand{Class: IndHL}, nil
		case "ix", "iy":
			isIY := asciiLower(t.Text) == "iy"
			consumeToken(l)
			return argIndexedTail(l, res, isIY)
		}
	}
	v, err := expr.Eval(l, res)
	if err != nil {
		return Operand{}, err
	}
	if err := l.Expect(')'); err != nil {
		return Operand{}, err
	}
	return Operand{Class: IndExpr, Value: v}, nil
}

// argIndexedTail parses what follows "(ix" or "(iy": either a bare
// ")" for plain indirection, or "+d)"/"-d)" for indexed addressing
// with an 8-bit signed displacement.
func argIndexedTail(l *lexer.Lexer, res *expr.Resolver, isIY bool) (Operand, error) {
	t := peekToken(l)
	if t.Kind == lexer.TokenKind(')') {
		consumeToken(l)
		if isIY {
			return Operand{Class: IndIY}, nil
		}
		return Operand{Class: IndIX}, nil
	}
	// "-d" is read by the evaluator as a negated term; "+d" is not
	// part of its grammar, so the sign is consumed here.
	if t.Kind == lexer.TokenKind('+') {
		consumeToken(l)
	}
	v, err := expr.Eval(l, res)
	if err != nil {
		return Operand{}, err
	}
	if err := l.Expect(')'); err != nil {
		return Operand{}, err
	}
	if isIY {
		return Operand{Class: IndexIY, Value: v}, nil
	}
	return Operand{Class: IndexIX, Value: v}, nil
}

// displacement extracts an (ix+d)/(iy+d) offset as a signed byte,
// erring if the value does not fit or is not absolute. An undefined
// value (a forward reference while sizing on pass 1) gives 0.
func displacement(v expr.Value) (byte, error) {
	if v.Segment == objfmt.SegUndefined {
		return 0, nil
	}
	if v.Segment != objfmt.SegAbsolute {
		return 0, fmt.Errorf("indexed displacement must be absolute")
	}
	d := int16(v.Value)
	if d < -128 || d > 127 {
		return 0, fmt.Errorf("indexed displacement %d out of range", d)
	}
	return byte(d), nil
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// peekToken/consumeToken give the family encoders a one-token
// lookahead on top of the lexer's own pushback support: peekToken
// reads a token and immediately returns it to the stream, so the
// following ReadToken (via consumeToken, or any other caller) sees it
// again.
func peekToken(l *lexer.Lexer) lexer.Token {
	t := l.ReadToken()
	l.PushBack(t)
	return t
}

func consumeToken(l *lexer.Lexer) lexer.Token {
	return l.ReadToken()
}
