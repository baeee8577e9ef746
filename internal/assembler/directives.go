package assembler

import (
	"fmt"

	"github.com/tergav17/trasm/internal/expr"
	"github.com/tergav17/trasm/internal/lexer"
	"github.com/tergav17/trasm/internal/objfmt"
	"github.com/tergav17/trasm/internal/symtab"
)

func (ctx *context) peek() lexer.Token {
	t := ctx.lex.ReadToken()
	ctx.lex.PushBack(t)
	return t
}

func (ctx *context) handleDirective(name string) error {
	switch name {
	case "text":
		ctx.segment = objfmt.SegText
		return ctx.lex.Eol()
	case "data":
		ctx.segment = objfmt.SegData
		return ctx.lex.Eol()
	case "bss":
		ctx.segment = objfmt.SegBss
		return ctx.lex.Eol()
	case "globl":
		return ctx.directiveGlobl()
	case "extern":
		return ctx.directiveExtern()
	case "type":
		return ctx.directiveType()
	case "def":
		return ctx.directiveDef()
	case "defl":
		return ctx.directiveDefl()
	default:
		return fmt.Errorf("unknown directive %q", name)
	}
}

// nameList reads a comma-separated list of identifiers to end of line,
// invoking f for each one.
func (ctx *context) nameList(f func(name string) error) error {
	for {
		tok := ctx.lex.ReadToken()
		if tok.Kind != lexer.Identifier {
			return fmt.Errorf("expected identifier, got %s", describeTok(tok))
		}
		if err := f(tok.Text); err != nil {
			return err
		}
		t := ctx.lex.ReadToken()
		if t.Kind != lexer.TokenKind(',') {
			ctx.lex.PushBack(t)
			break
		}
	}
	return ctx.lex.Eol()
}

// directiveGlobl marks symbols for export. Spec §4.6: pass-2 only, and
// each symbol must already be defined and non-external.
func (ctx *context) directiveGlobl() error {
	return ctx.nameList(func(name string) error {
		if ctx.pass != 2 {
			return nil
		}
		sym, ok := ctx.symbols.Fetch(nil, name)
		if !ok || !sym.Defined {
			return fmt.Errorf("globl of undefined symbol %q", name)
		}
		if sym.Segment >= objfmt.FirstExtern {
			return fmt.Errorf("cannot globl external symbol %q", name)
		}
		ctx.symbols.AddGlobal(sym)
		return nil
	})
}

// directiveExtern declares external symbols. Spec §4.6: pass-1 only,
// allocating the next external number starting at 5.
func (ctx *context) directiveExtern() error {
	return ctx.nameList(func(name string) error {
		if ctx.pass != 1 {
			return nil
		}
		_, err := ctx.symbols.DeclareExtern(name)
		return err
	})
}

// directiveType declares a new aggregate type: `.type name { type1
// field1, type2[n] field2, ... }`. Parsed in both passes so the token
// stream stays in sync; only pass 1 registers it (spec §4.6: "pass 2
// ignores the body").
func (ctx *context) directiveType() error {
	nameTok := ctx.lex.ReadToken()
	if nameTok.Kind != lexer.Identifier {
		return fmt.Errorf("expected type name")
	}
	if err := ctx.lex.Expect('{'); err != nil {
		return err
	}

	var fields []*symtab.Symbol
	var offset uint16
	for {
		if ctx.peek().Kind == lexer.TokenKind('}') {
			break
		}
		fieldTypeTok := ctx.lex.ReadToken()
		if fieldTypeTok.Kind != lexer.Identifier {
			return fmt.Errorf("expected field type name")
		}
		count, err := ctx.optionalCount()
		if err != nil {
			return err
		}
		baseSize, _, ok := ctx.symbols.FetchType(fieldTypeTok.Text)
		if !ok {
			return fmt.Errorf("unknown field type %q", fieldTypeTok.Text)
		}
		fieldNameTok := ctx.lex.ReadToken()
		if fieldNameTok.Kind != lexer.Identifier {
			return fmt.Errorf("expected field name")
		}
		size := baseSize * count
		fields = append(fields, &symtab.Symbol{
			Name:  fieldNameTok.Text,
			Kind:  symtab.KindScalar,
			Value: offset,
			Size:  size,
		})
		offset += size

		t := ctx.lex.ReadToken()
		if t.Kind == lexer.TokenKind(',') {
			continue
		}
		ctx.lex.PushBack(t)
		break
	}
	if err := ctx.lex.Expect('}'); err != nil {
		return err
	}
	if ctx.pass == 1 {
		if _, err := ctx.symbols.DeclareType(nameTok.Text, fields, offset); err != nil {
			return err
		}
	}
	return ctx.lex.Eol()
}

// optionalCount parses an optional "[count]" suffix, defaulting to 1.
func (ctx *context) optionalCount() (uint16, error) {
	if ctx.peek().Kind != lexer.TokenKind('[') {
		return 1, nil
	}
	n, err := expr.Bracket(ctx.lex, ctx.resolver(), true)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("count must be positive")
	}
	return n, nil
}

// directiveDef handles `.def type[count] init, init, ...`.
func (ctx *context) directiveDef() error {
	typeTok := ctx.lex.ReadToken()
	if typeTok.Kind != lexer.Identifier {
		return fmt.Errorf("expected type name after .def")
	}
	count, err := ctx.optionalCount()
	if err != nil {
		return err
	}
	if err := ctx.emitInitializers(typeTok.Text, count); err != nil {
		return err
	}
	return ctx.lex.Eol()
}

// directiveDefl handles `.defl name[count] type init, init, ...`: a
// combined label bind and initializer (spec §4.6).
func (ctx *context) directiveDefl() error {
	nameTok := ctx.lex.ReadToken()
	if nameTok.Kind != lexer.Identifier {
		return fmt.Errorf("expected name after .defl")
	}
	count, err := ctx.optionalCount()
	if err != nil {
		return err
	}
	typeTok := ctx.lex.ReadToken()
	if typeTok.Kind != lexer.Identifier {
		return fmt.Errorf("expected type name in .defl")
	}

	if ctx.pass == 1 {
		if _, err := ctx.symbols.Update(nameTok.Text, ctx.segment, ctx.pc(ctx.segment)); err != nil {
			return err
		}
	}
	if err := ctx.emitInitializers(typeTok.Text, count); err != nil {
		return err
	}
	return ctx.lex.Eol()
}

// emitInitializers emits count elements of typeName, each read as a
// comma-separated initializer (a string literal, a scalar expression,
// or a brace-delimited aggregate).
func (ctx *context) emitInitializers(typeName string, count uint16) error {
	size, typeSym, ok := ctx.symbols.FetchType(typeName)
	if !ok {
		return fmt.Errorf("unknown type %q", typeName)
	}
	for i := uint16(0); i < count; i++ {
		if i > 0 {
			if err := ctx.lex.Expect(','); err != nil {
				return err
			}
		}
		if typeSym != nil && len(typeSym.Fields) > 0 {
			if err := ctx.emitAggregate(typeSym.Fields); err != nil {
				return err
			}
			continue
		}
		if size == 1 && ctx.peek().Kind == lexer.TokenKind('"') {
			if err := ctx.emitString(); err != nil {
				return err
			}
			continue
		}
		v, err := expr.Eval(ctx.lex, ctx.resolver())
		if err != nil {
			return err
		}
		if err := ctx.emitScalar(size, v); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *context) emitAggregate(fields []*symtab.Symbol) error {
	if err := ctx.lex.Expect('{'); err != nil {
		return err
	}
	for i, f := range fields {
		if i > 0 {
			if err := ctx.lex.Expect(','); err != nil {
				return err
			}
		}
		if f.Size == 1 && ctx.peek().Kind == lexer.TokenKind('"') {
			if err := ctx.emitString(); err != nil {
				return err
			}
			continue
		}
		v, err := expr.Eval(ctx.lex, ctx.resolver())
		if err != nil {
			return err
		}
		if err := ctx.emitScalar(f.Size, v); err != nil {
			return err
		}
	}
	return ctx.lex.Expect('}')
}

func (ctx *context) emitString() error {
	if err := ctx.lex.Expect('"'); err != nil {
		return err
	}
	s, err := ctx.lex.ReadQuotedString()
	if err != nil {
		return err
	}
	for i := 0; i < len(s); i++ {
		if err := ctx.emitScalar(1, expr.Value{Segment: objfmt.SegAbsolute, Value: uint16(s[i])}); err != nil {
			return err
		}
	}
	return nil
}

// emitScalar emits one byte- or word-sized initializer value,
// applying the general PC-relative rule for a non-absolute byte (spec
// §4.6) and recording a relocation for a non-absolute word.
func (ctx *context) emitScalar(size uint16, v expr.Value) error {
	if ctx.pass == 1 {
		ctx.advance(ctx.segment, size)
		return nil
	}

	addr := ctx.pc(ctx.segment)
	var out []byte
	switch size {
	case 1:
		switch {
		case v.Segment == objfmt.SegAbsolute:
			out = []byte{byte(v.Value)}
		case v.Segment >= objfmt.FirstExtern:
			return fmt.Errorf("external reference not allowed in byte-sized initializer")
		case v.Segment == objfmt.SegUndefined:
			return fmt.Errorf("undefined symbol in initializer")
		default:
			rel := int32(v.Value) - int32(addr) - 1
			if rel < -128 || rel > 127 {
				return fmt.Errorf("relative byte initializer out of range: %d", rel)
			}
			out = []byte{byte(int8(rel))}
		}
	case 2:
		out = []byte{byte(v.Value), byte(v.Value >> 8)}
		if v.Segment != objfmt.SegAbsolute {
			tag, ok := relocTag(v.Segment)
			if !ok {
				return fmt.Errorf("undefined symbol in initializer")
			}
			if tag >= uint8(objfmt.FirstExtern) {
				out = []byte{0, 0}
			}
			if err := ctx.recordReloc(ctx.segment, tag, addr); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported field size %d (only byte and word fields are supported)", size)
	}

	if ctx.segment == objfmt.SegBss {
		for _, b := range out {
			if b != 0 {
				return fmt.Errorf("non-zero byte in bss segment")
			}
		}
		ctx.advance(ctx.segment, size)
		return nil
	}
	if ctx.segment == objfmt.SegData {
		ctx.data = append(ctx.data, out...)
	} else {
		ctx.text = append(ctx.text, out...)
	}
	ctx.advance(ctx.segment, size)
	return nil
}
