package z80

import (
	"fmt"

	"github.com/tergav17/trasm/internal/expr"
	"github.com/tergav17/trasm/internal/lexer"
	"github.com/tergav17/trasm/internal/objfmt"
)

// family groups mnemonics that share an encoding shape (spec §4.5).
type family int

const (
	famBasic family = iota
	famBasicExt
	famArith
	famIncr
	famBitsh
	famStack
	famRetflo
	famJmpflo
	famJrlflo
	famCalflo
	famRstflo
	famIoin
	famIoout
	famExch
	famIntmode
	famLoad
)

// arithMode distinguishes the three ARITH operand shapes.
const (
	arithUnary = iota
	arithCarry
	arithAdd
)

type instrDef struct {
	fam  family
	op   byte
	arg  byte // secondary opcode / prefix / mode selector, meaning depends on fam
}

// table is the mnemonic → family/opcode map, grounded on the
// project's own instruction table (same shape: type, mnemonic,
// opcode, arg).
var table = map[string]instrDef{
	"nop":  {famBasic, 0x00, 0},
	"rlca": {famBasic, 0x07, 0},
	"rrca": {famBasic, 0x0F, 0},
	"rla":  {famBasic, 0x17, 0},
	"rra":  {famBasic, 0x1F, 0},
	"daa":  {famBasic, 0x27, 0},
	"cpl":  {famBasic, 0x2F, 0},
	"scf":  {famBasic, 0x37, 0},
	"ccf":  {famBasic, 0x3F, 0},
	"halt": {famBasic, 0x76, 0},
	"exx":  {famBasic, 0xD9, 0},
	"di":   {famBasic, 0xF3, 0},
	"ei":   {famBasic, 0xFB, 0},

	"neg":  {famBasicExt, 0x44, 0xED},
	"retn": {famBasicExt, 0x45, 0xED},
	"reti": {famBasicExt, 0x4D, 0xED},
	"rrd":  {famBasicExt, 0x67, 0xED},
	"rld":  {famBasicExt, 0x6F, 0xED},
	"ldi":  {famBasicExt, 0xA0, 0xED},
	"cpi":  {famBasicExt, 0xA1, 0xED},
	"ini":  {famBasicExt, 0xA2, 0xED},
	"outi": {famBasicExt, 0xA3, 0xED},
	"ldd":  {famBasicExt, 0xA8, 0xED},
	"cpd":  {famBasicExt, 0xA9, 0xED},
	"ind":  {famBasicExt, 0xAA, 0xED},
	"outd": {famBasicExt, 0xAB, 0xED},
	"ldir": {famBasicExt, 0xB0, 0xED},
	"cpir": {famBasicExt, 0xB1, 0xED},
	"inir": {famBasicExt, 0xB2, 0xED},
	"otir": {famBasicExt, 0xB3, 0xED},
	"lddr": {famBasicExt, 0xB8, 0xED},
	"cpdr": {famBasicExt, 0xB9, 0xED},
	"indr": {famBasicExt, 0xBA, 0xED},
	"otdr": {famBasicExt, 0xBB, 0xED},

	"add": {famArith, 0x80, arithAdd},
	"adc": {famArith, 0x88, arithCarry},
	"sub": {famArith, 0x90, arithUnary},
	"sbc": {famArith, 0x98, arithCarry},
	"and": {famArith, 0xA0, arithUnary},
	"xor": {famArith, 0xA8, arithUnary},
	"or":  {famArith, 0xB0, arithUnary},
	"cp":  {famArith, 0xB8, arithUnary},

	"inc": {famIncr, 0x04, 0x03},
	"dec": {famIncr, 0x05, 0x0B},

	"rlc": {famBitsh, 0x00, 0},
	"rrc": {famBitsh, 0x08, 0},
	"rl":  {famBitsh, 0x10, 0},
	"rr":  {famBitsh, 0x18, 0},
	"sla": {famBitsh, 0x20, 0},
	"sra": {famBitsh, 0x28, 0},
	"sll": {famBitsh, 0x30, 0},
	"srl": {famBitsh, 0x38, 0},
	"bit": {famBitsh, 0x40, 1},
	"res": {famBitsh, 0x80, 1},
	"set": {famBitsh, 0xC0, 1},

	"pop":  {famStack, 0xC1, 0},
	"push": {famStack, 0xC5, 0},

	"ret": {famRetflo, 0xC0, 0xC9},
	"jp":  {famJmpflo, 0xC2, 0xE9},

	"jr":   {famJrlflo, 0x18, 1},
	"djnz": {famJrlflo, 0x10, 0},

	"call": {famCalflo, 0xC4, 0xCD},
	"rst":  {famRstflo, 0xC7, 0},

	"in":  {famIoin, 0xDB, 0x40},
	"out": {famIoout, 0xD3, 0x41},

	"ex": {famExch, 0xE3, 0x08},
	"im": {famIntmode, 0x46, 0x56},

	"ld": {famLoad, 0x00, 0x00},
}

// Patch marks a byte offset within an Assemble result where a 16-bit
// little-endian field carries a non-absolute value: the assembler
// driver must record a relocation (or external fixup) there.
type Patch struct {
	Offset int
	Value  expr.Value
}

// Assemble encodes one instruction: mnemonic has already been read by
// the caller (as a lowercased identifier); operands are parsed here
// from l. pc is the address of the first opcode byte, needed for
// relative-jump encoding. Absolute immediates are baked directly into
// the returned bytes; non-absolute 16-bit immediates are left as
// zero placeholders and reported via the returned patch list.
func Assemble(mnem string, l *lexer.Lexer, res *expr.Resolver, pc uint16) ([]byte, []Patch, error) {
	def, ok := table[mnem]
	if !ok {
		return nil, nil, fmt.Errorf("unknown mnemonic %q", mnem)
	}
	switch def.fam {
	case famBasic:
		return []byte{def.op}, nil, nil
	case famBasicExt:
		return []byte{def.arg, def.op}, nil, nil
	case famArith:
		return asmArith(def, l, res)
	case famIncr:
		return asmIncr(def, l, res)
	case famBitsh:
		return asmBitsh(def, l, res)
	case famStack:
		return asmStack(def, l, res)
	case famRetflo:
		return asmRetflo(def, l, res)
	case famJmpflo:
		return asmJmpflo(def, l, res)
	case famJrlflo:
		return asmJrlflo(def, l, res, pc)
	case famCalflo:
		return asmCalflo(def, l, res)
	case famRstflo:
		return asmRstflo(def, l, res)
	case famIoin:
		return asmIoin(def, l, res)
	case famIoout:
		return asmIoout(def, l, res)
	case famExch:
		return asmExch(def, l, res)
	case famIntmode:
		return asmIntmode(def, l, res)
	case famLoad:
		return asmLoad(l, res)
	}
	return nil, nil, fmt.Errorf("unhandled family for %q", mnem)
}

func expectComma(l *lexer.Lexer) error { return l.Expect(',') }

func imm16Patch(offset int, v expr.Value) ([]byte, []Patch) {
	lo, hi := byte(v.Value), byte(v.Value>>8)
	if v.Segment == objfmt.SegAbsolute {
		return []byte{lo, hi}, nil
	}
	return []byte{0, 0}, []Patch{{Offset: offset, Value: v}}
}

func requireAbsolute(v expr.Value, what string) (byte, error) {
	if v.Segment != objfmt.SegAbsolute {
		return 0, fmt.Errorf("%s must be an absolute value", what)
	}
	return byte(v.Value), nil
}

// asmArith handles add/adc/sub/sbc/and/xor/or/cp (spec §4.5 ARITH).
func asmArith(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	first, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}

	if def.arg == arithUnary {
		// sub/and/xor/or/cp: accumulator implicit, one operand, or
		// "a,operand" explicit accumulator form.
		op := first
		if first.Class == RegA {
			if err := expectComma(l); err != nil {
				return nil, nil, err
			}
			op, err = arg(l, res, false)
			if err != nil {
				return nil, nil, err
			}
		}
		return arithOperand(def.op, op)
	}

	// add/adc/sbc: "a,operand" (8-bit) or "hl/ix/iy,rr" (16-bit).
	switch first.Class {
	case RegA:
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		op, err := arg(l, res, false)
		if err != nil {
			return nil, nil, err
		}
		return arithOperand(def.op, op)
	case PairHL, RegIX, RegIY:
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		rhs, err := arg(l, res, false)
		if err != nil {
			return nil, nil, err
		}
		pairCode, err := pairRegCode(rhs.Class)
		if err != nil {
			return nil, nil, err
		}
		switch first.Class {
		case PairHL:
			if def.arg == arithAdd {
				return []byte{0x09 | pairCode<<4}, nil, nil
			}
			// adc hl,rr / sbc hl,rr are ED-prefixed.
			base := byte(0x4A)
			if def.op == 0x98 { // sbc
				base = 0x42
			}
			return []byte{0xED, base | pairCode<<4}, nil, nil
		case RegIX:
			return []byte{0xDD, 0x09 | pairCode<<4}, nil, nil
		case RegIY:
			return []byte{0xFD, 0x09 | pairCode<<4}, nil, nil
		}
	}
	return nil, nil, fmt.Errorf("invalid operand for arithmetic instruction")
}

func pairRegCode(class int) (byte, error) {
	switch class {
	case PairBC:
		return 0, nil
	case PairDE:
		return 1, nil
	case PairHL, RegIX, RegIY:
		return 2, nil
	case PairSP:
		return 3, nil
	}
	return 0, fmt.Errorf("expected a 16-bit register pair")
}

// arithOperand encodes the 8-bit accumulator-style ARITH opcode: base
// | r for a register/memory operand, or base+0x46 for the immediate
// form (e.g. add a,n = 0xC6).
func arithOperand(base byte, op Operand) ([]byte, []Patch, error) {
	switch op.Class {
	case RegB, RegC, RegD, RegE, RegH, RegL, IndHL, RegA:
		return []byte{base | byte(op.Class)}, nil, nil
	case RegIXH, RegIXL:
		return []byte{0xDD, base | ixyHalfCode(op.Class)}, nil, nil
	case RegIYH, RegIYL:
		return []byte{0xFD, base | ixyHalfCode(op.Class)}, nil, nil
	case IndexIX:
		d, err := displacement(op.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xDD, base | 6, d}, nil, nil
	case IndexIY:
		d, err := displacement(op.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xFD, base | 6, d}, nil, nil
	case ImmExpr:
		n, err := requireAbsolute(op.Value, "immediate operand")
		if err != nil {
			return nil, nil, err
		}
		// The accumulator-immediate opcode for each ARITH row sits at
		// base+0x46 (e.g. add a,n=0xC6 vs add a,r base 0x80).
		return []byte{base + 0x46, n}, nil, nil
	}
	return nil, nil, fmt.Errorf("invalid operand for this instruction")
}

func ixyHalfCode(class int) byte {
	if class == RegIXH || class == RegIYH {
		return 4
	}
	return 5
}

// asmIncr handles inc/dec (spec §4.5 INCR): 8-bit form uses the
// def.op base with the register field shifted into bits 3-5; 16-bit
// form uses def.arg with the pair field in bits 4-5.
func asmIncr(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	op, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	switch op.Class {
	case RegB, RegC, RegD, RegE, RegH, RegL, IndHL, RegA:
		return []byte{def.op | byte(op.Class)<<3}, nil, nil
	case RegIXH, RegIXL:
		return []byte{0xDD, def.op | ixyHalfCode(op.Class)<<3}, nil, nil
	case RegIYH, RegIYL:
		return []byte{0xFD, def.op | ixyHalfCode(op.Class)<<3}, nil, nil
	case IndexIX:
		d, err := displacement(op.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xDD, def.op | 6<<3, d}, nil, nil
	case IndexIY:
		d, err := displacement(op.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xFD, def.op | 6<<3, d}, nil, nil
	case PairBC, PairDE, PairHL, PairSP:
		pairCode, _ := pairRegCode(op.Class)
		return []byte{def.arg&0x08 | 0x03 | pairCode<<4}, nil, nil
	case RegIX:
		return []byte{0xDD, def.arg&0x08 | 0x03 | 2<<4}, nil, nil
	case RegIY:
		return []byte{0xFD, def.arg&0x08 | 0x03 | 2<<4}, nil, nil
	}
	return nil, nil, fmt.Errorf("invalid operand for inc/dec")
}

// asmBitsh handles rlc/rrc/rl/rr/sla/sra/sll/srl/bit/res/set (spec
// §4.5 BITSH): CB-prefixed; bit/res/set take a leading 0-7 bit index.
// (ix+d)/(iy+d) route through DD/FD + CB + displacement + opcode, and
// accept an undocumented trailing result-register operand.
func asmBitsh(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	var bitIndex byte
	needsBit := def.arg == 1
	if needsBit {
		v, err := expr.Eval(l, res)
		if err != nil {
			return nil, nil, err
		}
		n, err := requireAbsolute(v, "bit index")
		if err != nil {
			return nil, nil, err
		}
		if n > 7 {
			return nil, nil, fmt.Errorf("bit index %d out of range 0-7", n)
		}
		bitIndex = n
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
	}

	op, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}

	switch op.Class {
	case RegB, RegC, RegD, RegE, RegH, RegL, IndHL, RegA:
		return []byte{0xCB, def.op | bitIndex<<3 | byte(op.Class)}, nil, nil
	case IndexIX, IndexIY:
		prefix := byte(0xDD)
		if op.Class == IndexIY {
			prefix = 0xFD
		}
		d, err := displacement(op.Value)
		if err != nil {
			return nil, nil, err
		}
		opcode := def.op | bitIndex<<3 | 6

		// Undocumented "result register" form: a trailing comma and a
		// plain 8-bit register after (ix+d)/(iy+d) stores the result
		// in that register as well as memory (spec §9: preserve
		// this).
		if peekToken(l).Kind == lexer.TokenKind(',') {
			consumeToken(l)
			result, err := arg(l, res, false)
			if err != nil {
				return nil, nil, err
			}
			switch result.Class {
			case RegB, RegC, RegD, RegE, RegH, RegL, RegA:
				opcode = def.op | bitIndex<<3 | byte(result.Class)
			default:
				return nil, nil, fmt.Errorf("invalid result register for indexed bit/shift")
			}
		}
		return []byte{prefix, 0xCB, d, opcode}, nil, nil
	}
	return nil, nil, fmt.Errorf("invalid operand for bit/shift instruction")
}

// asmStack handles push/pop (spec §4.5 STACK).
func asmStack(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	op, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	switch op.Class {
	case PairSP:
		// push/pop use AF where add/adc used SP; qq field: BC=0 DE=1 HL=2 AF=3.
		return nil, nil, fmt.Errorf("push/pop do not take sp; use af")
	case PairBC, PairDE, PairHL, PairAF:
		code := byte(2) // HL
		switch op.Class {
		case PairBC:
			code = 0
		case PairDE:
			code = 1
		case PairAF:
			code = 3
		}
		return []byte{def.op | code<<4}, nil, nil
	case RegIX:
		return []byte{0xDD, def.op | 2<<4}, nil, nil
	case RegIY:
		return []byte{0xFD, def.op | 2<<4}, nil, nil
	}
	return nil, nil, fmt.Errorf("invalid operand for push/pop")
}

func flagCode(class int) (byte, error) {
	if class < FlagNZ || class > FlagM {
		return 0, fmt.Errorf("expected a condition flag")
	}
	return byte(class - FlagNZ), nil
}

// asmRetflo handles ret/ret cc (spec §4.5 RETFLO).
func asmRetflo(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	if peekToken(l).Kind != lexer.Identifier {
		return []byte{def.arg}, nil, nil
	}
	op, err := arg(l, res, true)
	if err != nil {
		return nil, nil, err
	}
	code, err := flagCode(op.Class)
	if err != nil {
		return nil, nil, err
	}
	return []byte{def.op | code<<3}, nil, nil
}

// asmJmpflo handles jp/jp cc,nn/jp (hl)|(ix)|(iy) (spec §4.5 JMPFLO).
func asmJmpflo(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	op, err := arg(l, res, true)
	if err != nil {
		return nil, nil, err
	}
	switch op.Class {
	case IndHL:
		return []byte{def.arg}, nil, nil
	case IndIX:
		return []byte{0xDD, def.arg}, nil, nil
	case IndIY:
		return []byte{0xFD, def.arg}, nil, nil
	case FlagNZ, FlagZ, FlagNC, FlagC, FlagPO, FlagPE, FlagP, FlagM:
		code, _ := flagCode(op.Class)
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		target, err := expr.Eval(l, res)
		if err != nil {
			return nil, nil, err
		}
		code16, patch := imm16Patch(1, target)
		return append([]byte{def.op | code<<3}, code16...), patch, nil
	case ImmExpr:
		code16, patch := imm16Patch(1, op.Value)
		return append([]byte{0xC3}, code16...), patch, nil
	}
	return nil, nil, fmt.Errorf("invalid operand for jp")
}

// peekFlag reports whether the next token is a condition-flag
// mnemonic, consuming it only when it is. This lets flow-control
// encoders distinguish "jr z,label" (flag z) from "jr label" (a
// forward-referenced label that happens to be spelled like one)
// without the caller paying for a second, conflicting parse of the
// same expression.
func peekFlag(l *lexer.Lexer) (int, bool) {
	t := peekToken(l)
	if t.Kind != lexer.Identifier {
		return 0, false
	}
	class, ok := flagNames[asciiLower(t.Text)]
	if !ok {
		return 0, false
	}
	consumeToken(l)
	return class, true
}

// asmJrlflo handles jr/djnz (spec §4.5 JRLFLO): a PC-relative signed
// 8-bit displacement, range -128..+127.
func asmJrlflo(def instrDef, l *lexer.Lexer, res *expr.Resolver, pc uint16) ([]byte, []Patch, error) {
	hasFlag := def.arg == 1
	if hasFlag {
		if class, ok := peekFlag(l); ok {
			fc, ferr := flagCode(class)
			if ferr == nil && fc <= 3 {
				if err := expectComma(l); err != nil {
					return nil, nil, err
				}
				target, err := expr.Eval(l, res)
				if err != nil {
					return nil, nil, err
				}
				rel, err := relDisplacement(target, pc, 2, res.AllowForward)
				if err != nil {
					return nil, nil, err
				}
				// jr cc,e: opcode base 0x20 | cc<<3, cc restricted
				// to nz/z/nc/c (codes 0-3); po/pe/p/m are not valid
				// here.
				return []byte{0x20 | fc<<3, rel}, nil, nil
			}
			return nil, nil, fmt.Errorf("jr only accepts nz/z/nc/c conditions")
		}
	}
	target, err := expr.Eval(l, res)
	if err != nil {
		return nil, nil, err
	}
	rel, err := relDisplacement(target, pc, 2, res.AllowForward)
	if err != nil {
		return nil, nil, err
	}
	return []byte{def.op, rel}, nil, nil
}

// relDisplacement converts an absolute target to a jr/djnz
// displacement relative to the address immediately following the
// instruction (spec §4.6: rel = value − current_address − 1, applied
// here with current_address = pc+1, the displacement byte itself).
// An unresolved forward reference during the sizing pass silently
// displaces to 0 (spec §4.6: undefined forward references evaluate
// to 0 in pass 1); the real displacement is always recomputed in
// pass 2 once every label has a final address.
func relDisplacement(v expr.Value, pc uint16, instrLen uint16, allowForward bool) (byte, error) {
	if v.Segment == objfmt.SegUndefined {
		if allowForward {
			return 0, nil
		}
		return 0, fmt.Errorf("relative jump target must be resolved")
	}
	if v.Segment != objfmt.SegAbsolute && v.Segment != objfmt.SegText {
		return 0, fmt.Errorf("external reference not allowed in relative jump")
	}
	rel := int32(v.Value) - int32(pc) - int32(instrLen)
	if rel < -128 || rel > 127 {
		return 0, fmt.Errorf("relative jump out of range: %d", rel)
	}
	return byte(int8(rel)), nil
}

// asmCalflo handles call/call cc,nn (spec §4.5 CALFLO).
func asmCalflo(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	if class, ok := peekFlag(l); ok {
		code, err := flagCode(class)
		if err != nil {
			return nil, nil, err
		}
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		target, err := expr.Eval(l, res)
		if err != nil {
			return nil, nil, err
		}
		code16, patch := imm16Patch(1, target)
		return append([]byte{def.op | code<<3}, code16...), patch, nil
	}
	target, err := expr.Eval(l, res)
	if err != nil {
		return nil, nil, err
	}
	code16, patch := imm16Patch(1, target)
	return append([]byte{def.arg}, code16...), patch, nil
}

// asmRstflo handles rst n: n must be an absolute multiple of 8, <=
// 0x38 (spec §4.5 RSTFLO).
func asmRstflo(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	v, err := expr.Eval(l, res)
	if err != nil {
		return nil, nil, err
	}
	n, err := requireAbsolute(v, "rst target")
	if err != nil {
		return nil, nil, err
	}
	if n > 0x38 || n%8 != 0 {
		return nil, nil, fmt.Errorf("rst target must be a multiple of 8 up to 0x38")
	}
	return []byte{def.op | n}, nil, nil
}

// asmIoin handles in a,(n) and the ED-prefixed in r,(c) (spec §4.5
// IOIN).
func asmIoin(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	dst, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	if err := expectComma(l); err != nil {
		return nil, nil, err
	}
	src, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	if src.Class == IndC {
		if dst.Class < RegB || dst.Class > RegA {
			return nil, nil, fmt.Errorf("invalid destination register for in r,(c)")
		}
		return []byte{0xED, def.arg | byte(dst.Class)<<3}, nil, nil
	}
	if src.Class != IndExpr && src.Class != ImmExpr {
		return nil, nil, fmt.Errorf("expected (n) or (c) as source")
	}
	if dst.Class != RegA {
		return nil, nil, fmt.Errorf("in n form requires accumulator destination")
	}
	n, err := requireAbsolute(src.Value, "port")
	if err != nil {
		return nil, nil, err
	}
	return []byte{def.op, n}, nil, nil
}

// asmIoout handles out (n),a and the ED-prefixed out (c),r (spec
// §4.5 IOOUT).
func asmIoout(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	dst, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	if err := expectComma(l); err != nil {
		return nil, nil, err
	}
	src, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	if dst.Class == IndC {
		if src.Class < RegB || src.Class > RegA {
			return nil, nil, fmt.Errorf("invalid source register for out (c),r")
		}
		return []byte{0xED, def.arg | byte(src.Class)<<3}, nil, nil
	}
	if dst.Class != IndExpr && dst.Class != ImmExpr {
		return nil, nil, fmt.Errorf("expected (n) or (c) as destination")
	}
	if src.Class != RegA {
		return nil, nil, fmt.Errorf("out n form requires accumulator source")
	}
	n, err := requireAbsolute(dst.Value, "port")
	if err != nil {
		return nil, nil, err
	}
	return []byte{def.op, n}, nil, nil
}

// asmExch handles ex af,af' / ex de,hl / ex (sp),hl|ix|iy (spec §4.5
// EXCH).
func asmExch(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	dst, err := arg(l, res, false)
	if err != nil {
		return nil, nil, err
	}
	switch dst.Class {
	case PairAF:
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		t := peekToken(l)
		if t.Kind != lexer.Identifier || asciiLower(t.Text) != "af" {
			return nil, nil, fmt.Errorf("expected af' after ex af,")
		}
		consumeToken(l)
		if peekToken(l).Kind != lexer.TokenKind('\'') {
			return nil, nil, fmt.Errorf("expected af' after ex af,")
		}
		consumeToken(l)
		return []byte{0x08}, nil, nil
	case PairDE:
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		rhs, err := arg(l, res, false)
		if err != nil {
			return nil, nil, err
		}
		if rhs.Class != PairHL {
			return nil, nil, fmt.Errorf("ex de,hl is the only de form")
		}
		return []byte{0xEB}, nil, nil
	case IndSP:
		if err := expectComma(l); err != nil {
			return nil, nil, err
		}
		rhs, err := arg(l, res, false)
		if err != nil {
			return nil, nil, err
		}
		switch rhs.Class {
		case PairHL:
			return []byte{def.op}, nil, nil
		case RegIX:
			return []byte{0xDD, def.op}, nil, nil
		case RegIY:
			return []byte{0xFD, def.op}, nil, nil
		}
	}
	return nil, nil, fmt.Errorf("invalid operand for ex")
}

// asmIntmode handles im 0|1|2 (spec §4.5 INTMODE).
func asmIntmode(def instrDef, l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
	v, err := expr.Eval(l, res)
	if err != nil {
		return nil, nil, err
	}
	n, err := requireAbsolute(v, "interrupt mode")
	if err != nil {
		return nil, nil, err
	}
	var opcode byte
	switch n {
	case 0:
		opcode = def.op
	case 1:
		opcode = def.arg
	case 2:
		opcode = def.arg + 8
	default:
		return nil, nil, fmt.Errorf("interrupt mode must be 0, 1, or 2")
	}
	return []byte{0xED, opcode}, nil, nil
}
