package z80

import (
	"fmt"

	"github.com/tergav17/trasm/internal/expr"
	"github.com/tergav17/trasm/internal/lexer"
)

// asmLoad handles the "ld" matrix (spec §4.5 LOAD): 8-bit reg<->reg,
// reg<->mem, 16-bit reg<->immediate, reg<->indirect, the special
// accumulator/i/r forms, and the DD/FD-prefixed index-register
// subsets, rejecting the illegal combinations the encoding cannot
// express (ld (hl),(hl), mixing h/l with an indexed operand, and so
// on).
func asmLoad(l *lexer.Lexer, res *expr.Resolver) ([]byte, []Patch, error) {
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

	switch dst.Class {
	case RegA:
		switch src.Class {
		case IndBC:
			return []byte{0x0A}, nil, nil
		case IndDE:
			return []byte{0x1A}, nil, nil
		case IndExpr:
			code16, patch := imm16Patch(1, src.Value)
			return append([]byte{0x3A}, code16...), patch, nil
		case RegI:
			return []byte{0xED, 0x57}, nil, nil
		case RegR:
			return []byte{0xED, 0x5F}, nil, nil
		}
	case IndBC:
		if src.Class == RegA {
			return []byte{0x02}, nil, nil
		}
	case IndDE:
		if src.Class == RegA {
			return []byte{0x12}, nil, nil
		}
	case IndExpr:
		switch src.Class {
		case RegA:
			code16, patch := imm16Patch(1, dst.Value)
			return append([]byte{0x32}, code16...), patch, nil
		case PairHL:
			code16, patch := imm16Patch(1, dst.Value)
			return append([]byte{0x22}, code16...), patch, nil
		case PairBC, PairDE, PairSP:
			pairCode, _ := pairRegCode(src.Class)
			code16, patch := imm16Patch(2, dst.Value)
			return append([]byte{0xED, 0x43 | pairCode<<4}, code16...), patch, nil
		case RegIX:
			code16, patch := imm16Patch(2, dst.Value)
			return append([]byte{0xDD, 0x22}, code16...), patch, nil
		case RegIY:
			code16, patch := imm16Patch(2, dst.Value)
			return append([]byte{0xFD, 0x22}, code16...), patch, nil
		}
	case RegI:
		if src.Class == RegA {
			return []byte{0xED, 0x47}, nil, nil
		}
	case RegR:
		if src.Class == RegA {
			return []byte{0xED, 0x4F}, nil, nil
		}
	case PairBC, PairDE, PairHL, PairSP:
		if dst.Class == PairSP {
			switch src.Class {
			case PairHL:
				return []byte{0xF9}, nil, nil
			case RegIX:
				return []byte{0xDD, 0xF9}, nil, nil
			case RegIY:
				return []byte{0xFD, 0xF9}, nil, nil
			}
		}
		if src.Class == ImmExpr {
			pairCode, _ := pairRegCode(dst.Class)
			code16, patch := imm16Patch(1, src.Value)
			return append([]byte{0x01 | pairCode<<4}, code16...), patch, nil
		}
		if src.Class == IndExpr {
			if dst.Class == PairHL {
				code16, patch := imm16Patch(1, src.Value)
				return append([]byte{0x2A}, code16...), patch, nil
			}
			// LD BC/DE/SP,(nn) is the ED-prefixed dd table (spec §4.5
			// LOAD); HL's unprefixed form above is the one exception.
			pairCode, _ := pairRegCode(dst.Class)
			code16, patch := imm16Patch(2, src.Value)
			return append([]byte{0xED, 0x4B | pairCode<<4}, code16...), patch, nil
		}
	case RegIX, RegIY:
		prefix := ixyPrefix(dst.Class)
		switch src.Class {
		case ImmExpr:
			code16, patch := imm16Patch(2, src.Value)
			return append([]byte{prefix, 0x21}, code16...), patch, nil
		case IndExpr:
			code16, patch := imm16Patch(2, src.Value)
			return append([]byte{prefix, 0x2A}, code16...), patch, nil
		}
	}

	// Remaining shapes are the generic 8-bit reg<->reg/mem matrix,
	// the half-index 8-bit forms, and the indexed-memory forms; these
	// share enough structure to fall through to one dispatcher.
	return load8(dst, src)
}

func ixyPrefix(class int) byte {
	if class == RegIY {
		return 0xFD
	}
	return 0xDD
}

// is8BitReg reports whether class is one of the plain 8-bit
// register/memory slots (b,c,d,e,h,l,(hl),a).
func is8BitReg(class int) bool {
	return class >= RegB && class <= RegA
}

func isHalfIndex(class int) bool {
	switch class {
	case RegIXH, RegIXL, RegIYH, RegIYL:
		return true
	}
	return false
}

// load8 handles every ld form whose destination or source is an
// 8-bit register, (hl), an immediate byte, (ix+d)/(iy+d), or a
// half-index register. Mixing h/l (or (hl)) with an ix/iy-indexed
// operand in the same instruction is rejected, matching real Z80
// assemblers: there is no single opcode for "ld h,(ix+d)" meaning
// "half of ix".
func load8(dst, src Operand) ([]byte, []Patch, error) {
	switch {
	case is8BitReg(dst.Class) && is8BitReg(src.Class):
		if dst.Class == IndHL && src.Class == IndHL {
			return nil, nil, fmt.Errorf("ld (hl),(hl) is not a valid instruction (use halt)")
		}
		return []byte{0x40 | byte(dst.Class)<<3 | byte(src.Class)}, nil, nil

	case is8BitReg(dst.Class) && src.Class == ImmExpr:
		n, err := requireAbsolute(src.Value, "immediate operand")
		if err != nil {
			return nil, nil, err
		}
		return []byte{0x06 | byte(dst.Class)<<3, n}, nil, nil

	case is8BitReg(dst.Class) && src.Class == IndexIX:
		if dst.Class == IndHL {
			return nil, nil, fmt.Errorf("ld (hl),(ix+d) is not valid")
		}
		d, err := displacement(src.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xDD, 0x46 | byte(dst.Class)<<3, d}, nil, nil
	case is8BitReg(dst.Class) && src.Class == IndexIY:
		if dst.Class == IndHL {
			return nil, nil, fmt.Errorf("ld (hl),(iy+d) is not valid")
		}
		d, err := displacement(src.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xFD, 0x46 | byte(dst.Class)<<3, d}, nil, nil

	case dst.Class == IndexIX && is8BitReg(src.Class):
		if src.Class == IndHL {
			return nil, nil, fmt.Errorf("ld (ix+d),(hl) is not valid")
		}
		d, err := displacement(dst.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xDD, 0x70 | byte(src.Class), d}, nil, nil
	case dst.Class == IndexIY && is8BitReg(src.Class):
		if src.Class == IndHL {
			return nil, nil, fmt.Errorf("ld (iy+d),(hl) is not valid")
		}
		d, err := displacement(dst.Value)
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xFD, 0x70 | byte(src.Class), d}, nil, nil

	case dst.Class == IndexIX && src.Class == ImmExpr:
		d, err := displacement(dst.Value)
		if err != nil {
			return nil, nil, err
		}
		n, err := requireAbsolute(src.Value, "immediate operand")
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xDD, 0x36, d, n}, nil, nil
	case dst.Class == IndexIY && src.Class == ImmExpr:
		d, err := displacement(dst.Value)
		if err != nil {
			return nil, nil, err
		}
		n, err := requireAbsolute(src.Value, "immediate operand")
		if err != nil {
			return nil, nil, err
		}
		return []byte{0xFD, 0x36, d, n}, nil, nil

	case isHalfIndex(dst.Class) || isHalfIndex(src.Class):
		return loadHalfIndex(dst, src)
	}
	return nil, nil, fmt.Errorf("invalid operand combination for ld")
}

// loadHalfIndex handles ld with ixh/ixl/iyh/iyl on either side: an
// undocumented but widely supported DD/FD 8-bit reg-reg form. Both
// operands must share the same index register (ix or iy); mixing ix
// and iy halves, or mixing a half with plain h/l, is not valid.
func loadHalfIndex(dst, src Operand) ([]byte, []Patch, error) {
	prefix, dstCode, err := halfOrPlainCode(dst.Class)
	if err != nil {
		return nil, nil, err
	}
	if src.Class == ImmExpr {
		n, err := requireAbsolute(src.Value, "immediate operand")
		if err != nil {
			return nil, nil, err
		}
		return []byte{prefix, 0x06 | dstCode<<3, n}, nil, nil
	}
	prefix2, srcCode, err := halfOrPlainCode(src.Class)
	if err != nil {
		return nil, nil, err
	}
	if prefix != 0 && prefix2 != 0 && prefix != prefix2 {
		return nil, nil, fmt.Errorf("cannot mix ix and iy halves in one ld")
	}
	final := prefix
	if final == 0 {
		final = prefix2
	}
	return []byte{final, 0x40 | dstCode<<3 | srcCode}, nil, nil
}

// halfOrPlainCode returns the DD/FD prefix byte (0 if the operand is
// a plain 8-bit register, not a half-index one) and the 3-bit code to
// place in the instruction's register field.
func halfOrPlainCode(class int) (byte, byte, error) {
	switch class {
	case RegIXH:
		return 0xDD, 4, nil
	case RegIXL:
		return 0xDD, 5, nil
	case RegIYH:
		return 0xFD, 4, nil
	case RegIYL:
		return 0xFD, 5, nil
	case RegB, RegC, RegD, RegE, RegA:
		return 0, byte(class), nil
	case RegH, RegL, IndHL:
		return 0, 0, fmt.Errorf("cannot mix h/l/(hl) with an index half-register")
	}
	return 0, 0, fmt.Errorf("invalid operand for ld")
}
