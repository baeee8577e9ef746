// Package assembler implements the two-pass assembler driver (spec
// §4.6): directive handling, label/local/symbol binding, segment
// accounting across both passes, and emission of a relocatable object
// by driving the lexer, expression evaluator, symbol table and
// instruction encoder packages.
package assembler

import (
	"fmt"
	"strings"

	"github.com/tergav17/trasm/internal/expr"
	"github.com/tergav17/trasm/internal/lexer"
	"github.com/tergav17/trasm/internal/objfmt"
	"github.com/tergav17/trasm/internal/symtab"
	"github.com/tergav17/trasm/internal/z80"
)

// Options carries the assembler's command-line flags (spec §6: "-g",
// "-v").
type Options struct {
	AutoGlobal bool
	Verbose    bool
}

// context holds all per-invocation state (spec §9's AssemblerContext):
// the source cursor, symbol table, current pass/segment, per-segment
// address counters and output buffers, relocation lists, and the
// nested .if/.endif counters.
type context struct {
	src *lexer.Source
	lex *lexer.Lexer

	symbols *symtab.Table
	opts    Options

	pass    int
	segment objfmt.Segment

	textPC, dataPC, bssPC uint16
	textTop, dataTop       uint16

	text, data []byte

	textRelocs, dataRelocs *objfmt.RelocList

	ifDepth, trDepth int
	localSeen        map[byte]int
}

// Assemble runs both passes over the concatenated source files and
// returns the resulting relocatable object.
func Assemble(names []string, contents [][]byte, opts Options) (*objfmt.Object, error) {
	src := lexer.NewSource(names, contents)
	ctx := &context{
		src:     src,
		symbols: symtab.New(),
		opts:    opts,
	}

	if err := ctx.runPass(1); err != nil {
		return nil, err
	}

	textSize := ctx.textPC - objfmt.HeaderSize
	dataSize := ctx.dataPC
	bssSize := ctx.bssPC

	ctx.textTop = objfmt.HeaderSize + textSize
	ctx.dataTop = ctx.textTop + dataSize
	bssTop := ctx.dataTop + bssSize

	ctx.symbols.ShiftSegment(objfmt.SegData, ctx.textTop)
	ctx.symbols.ShiftSegment(objfmt.SegBss, ctx.dataTop)
	ctx.symbols.ShiftLocals(objfmt.SegData, ctx.textTop)
	ctx.symbols.ShiftLocals(objfmt.SegBss, ctx.dataTop)

	ctx.text = make([]byte, 0, textSize)
	ctx.data = make([]byte, 0, dataSize)
	ctx.textRelocs = objfmt.NewRelocList()
	ctx.dataRelocs = objfmt.NewRelocList()

	if err := ctx.runPass(2); err != nil {
		return nil, err
	}

	if uint16(len(ctx.text)) != textSize {
		return nil, fmt.Errorf("internal error: pass 2 emitted %d text bytes, pass 1 sized %d", len(ctx.text), textSize)
	}
	if uint16(len(ctx.data)) != dataSize {
		return nil, fmt.Errorf("internal error: pass 2 emitted %d data bytes, pass 1 sized %d", len(ctx.data), dataSize)
	}

	return ctx.buildObject(bssTop), nil
}

func (ctx *context) buildObject(bssTop uint16) *objfmt.Object {
	// The on-disk relocation section is one combined, strictly
	// non-decreasing list spanning text then data (spec §6); text and
	// data offsets are only kept in separate RelocLists during pass 2
	// because each segment's own emission order is independently
	// monotonic, but interleaved .text/.data switches mean the two
	// lists are not monotonic relative to each other until data's
	// offsets are shifted past the end of text.
	textSize := ctx.textTop - objfmt.HeaderSize
	recs := append([]objfmt.RelocRecord{}, ctx.textRelocs.Records()...)
	for _, r := range ctx.dataRelocs.Records() {
		recs = append(recs, objfmt.RelocRecord{Tag: r.Tag, Offset: r.Offset + textSize})
	}

	var syms []objfmt.SymbolRecord
	for _, g := range ctx.symbols.Globals() {
		syms = append(syms, objfmt.SymbolRecord{Name: g.Name, Tag: uint8(g.Segment), Value: g.Value})
	}
	for _, e := range ctx.symbols.Externs() {
		syms = append(syms, objfmt.SymbolRecord{Name: e.Name, Tag: uint8(e.Segment), Value: 0})
	}

	return &objfmt.Object{
		Header: objfmt.Header{
			Info:          objfmt.InfoLinkable,
			TextOrigin:    0,
			SyscallVector: [3]byte{0xC3, 0x00, 0x00},
			EntryPoint:    0,
			TextTop:       ctx.textTop,
			DataTop:       ctx.dataTop,
			BssTop:        bssTop,
		},
		Text:    ctx.text,
		Data:    ctx.data,
		Relocs:  recs,
		Symbols: syms,
	}
}

func (ctx *context) runPass(pass int) error {
	ctx.pass = pass
	ctx.segment = objfmt.SegText
	ctx.textPC = objfmt.HeaderSize
	ctx.dataPC = 0
	ctx.bssPC = 0
	if pass == 2 {
		ctx.dataPC = ctx.textTop
		ctx.bssPC = ctx.dataTop
	}
	ctx.ifDepth = 0
	ctx.trDepth = 0
	ctx.localSeen = make(map[byte]int)

	ctx.src.Rewind()
	ctx.lex = lexer.New(ctx.src)

	for {
		done, err := ctx.line()
		if err != nil {
			return fmt.Errorf("%s: %w", ctx.src.Status(), err)
		}
		if done {
			if ctx.ifDepth != 0 {
				return fmt.Errorf("%s: unterminated .if", ctx.src.Status())
			}
			return nil
		}
	}
}

// live reports whether the current nested .if block is active.
func (ctx *context) live() bool { return ctx.ifDepth == ctx.trDepth }

func (ctx *context) resolver() *expr.Resolver {
	return &expr.Resolver{
		Symbols:      ctx.symbols,
		Pass:         ctx.pass,
		AllowForward: ctx.pass == 1,
		LocalOrdinal: func(digit byte) int { return ctx.localSeen[digit] },
	}
}

// pc returns the current address counter for the given segment.
func (ctx *context) pc(seg objfmt.Segment) uint16 {
	switch seg {
	case objfmt.SegData:
		return ctx.dataPC
	case objfmt.SegBss:
		return ctx.bssPC
	default:
		return ctx.textPC
	}
}

func (ctx *context) advance(seg objfmt.Segment, n uint16) {
	switch seg {
	case objfmt.SegData:
		ctx.dataPC += n
	case objfmt.SegBss:
		ctx.bssPC += n
	default:
		ctx.textPC += n
	}
}

// line reads and dispatches one logical source line. done is true once
// EOF is reached.
func (ctx *context) line() (done bool, err error) {
	tok := ctx.lex.ReadToken()
	switch tok.Kind {
	case lexer.Eof:
		return true, nil
	case lexer.Newline:
		return false, nil
	case lexer.TokenKind('.'):
		return false, ctx.directiveLine()
	default:
		if !ctx.live() {
			ctx.lex.SkipLine()
			return false, nil
		}
		return false, ctx.statementLine(tok)
	}
}

func (ctx *context) directiveLine() error {
	nameTok := ctx.lex.ReadToken()
	if nameTok.Kind != lexer.Identifier {
		return fmt.Errorf("expected directive name after '.'")
	}
	name := strings.ToLower(nameTok.Text)

	if name == "if" || name == "endif" {
		return ctx.handleIf(name)
	}
	if !ctx.live() {
		ctx.lex.SkipLine()
		return nil
	}
	return ctx.handleDirective(name)
}

func (ctx *context) handleIf(name string) error {
	switch name {
	case "if":
		liveBefore := ctx.live()
		ctx.ifDepth++
		if !liveBefore {
			ctx.lex.SkipLine()
			return nil
		}
		v, err := expr.Eval(ctx.lex, ctx.resolver())
		if err != nil {
			return err
		}
		if v.Segment != objfmt.SegAbsolute {
			return fmt.Errorf(".if condition must be absolute")
		}
		if v.Value != 0 {
			ctx.trDepth++
		}
		return ctx.lex.Eol()
	case "endif":
		if ctx.ifDepth == 0 {
			return fmt.Errorf(".endif without matching .if")
		}
		liveBefore := ctx.live()
		ctx.ifDepth--
		if liveBefore {
			ctx.trDepth--
		}
		return ctx.lex.Eol()
	}
	return nil
}

// statementLine handles label/local-label/"name = expr"/instruction
// line forms; tok is the already-read first token of the line.
func (ctx *context) statementLine(tok lexer.Token) error {
	switch tok.Kind {
	case lexer.Number:
		return ctx.localLabelLine(tok)
	case lexer.Identifier:
		return ctx.identifierLine(tok)
	default:
		return fmt.Errorf("unexpected token %s at start of line", describeTok(tok))
	}
}

func (ctx *context) localLabelLine(tok lexer.Token) error {
	if len(tok.Text) != 1 || tok.Text[0] < '0' || tok.Text[0] > '9' {
		return fmt.Errorf("invalid local label %q (must be a single digit)", tok.Text)
	}
	digit := tok.Text[0]
	if err := ctx.lex.Expect(':'); err != nil {
		return err
	}
	if ctx.pass == 1 {
		ctx.symbols.LocalAdd(digit, ctx.segment, ctx.pc(ctx.segment))
	}
	ctx.localSeen[digit]++

	next := ctx.lex.ReadToken()
	switch next.Kind {
	case lexer.Newline, lexer.Eof:
		return nil
	case lexer.Identifier:
		return ctx.instructionLine(next)
	default:
		return fmt.Errorf("unexpected token %s after local label", describeTok(next))
	}
}

func (ctx *context) identifierLine(tok lexer.Token) error {
	name := tok.Text
	next := ctx.lex.ReadToken()
	switch next.Kind {
	case lexer.TokenKind(':'):
		return ctx.labelLine(name)
	case lexer.TokenKind('='):
		return ctx.assignLine(name)
	default:
		ctx.lex.PushBack(next)
		return ctx.instructionLine(tok)
	}
}

func (ctx *context) labelLine(name string) error {
	addr := ctx.pc(ctx.segment)
	if ctx.pass == 1 {
		if _, err := ctx.symbols.Update(name, ctx.segment, addr); err != nil {
			return err
		}
	} else if ctx.opts.AutoGlobal {
		if sym, ok := ctx.symbols.Fetch(nil, name); ok {
			ctx.symbols.AddGlobal(sym)
		}
	}

	next := ctx.lex.ReadToken()
	switch next.Kind {
	case lexer.Newline, lexer.Eof:
		return nil
	case lexer.Identifier:
		return ctx.instructionLine(next)
	case lexer.TokenKind('.'):
		return ctx.directiveLine()
	default:
		return fmt.Errorf("unexpected token %s after label", describeTok(next))
	}
}

func (ctx *context) assignLine(name string) error {
	v, err := expr.Eval(ctx.lex, ctx.resolver())
	if err != nil {
		return err
	}
	if ctx.pass == 1 {
		if _, err := ctx.symbols.Update(name, v.Segment, v.Value); err != nil {
			return err
		}
	}
	return ctx.lex.Eol()
}

func (ctx *context) instructionLine(mnemTok lexer.Token) error {
	mnem := strings.ToLower(mnemTok.Text)
	pc := ctx.pc(ctx.segment)
	code, patches, err := z80.Assemble(mnem, ctx.lex, ctx.resolver(), pc)
	if err != nil {
		return err
	}
	if err := ctx.lex.Eol(); err != nil {
		return err
	}

	if ctx.pass == 1 {
		ctx.advance(ctx.segment, uint16(len(code)))
		return nil
	}
	return ctx.emit(ctx.segment, pc, code, patches)
}

// emit writes code (with patches applied/recorded) to the appropriate
// pass-2 output buffer, or validates it as all-zero if the current
// segment is bss (spec §4.6: "bss emissions must be zero bytes").
func (ctx *context) emit(seg objfmt.Segment, pc uint16, code []byte, patches []z80.Patch) error {
	if seg == objfmt.SegBss {
		for _, b := range code {
			if b != 0 {
				return fmt.Errorf("non-zero byte in bss segment")
			}
		}
		ctx.advance(seg, uint16(len(code)))
		return nil
	}

	for _, p := range patches {
		tag, ok := relocTag(p.Value.Segment)
		if !ok {
			return fmt.Errorf("reference to undefined symbol")
		}
		if tag <= uint8(objfmt.SegBss) {
			code[p.Offset] = byte(p.Value.Value)
			code[p.Offset+1] = byte(p.Value.Value >> 8)
		}
		if err := ctx.recordReloc(seg, tag, pc+uint16(p.Offset)); err != nil {
			return err
		}
	}

	switch seg {
	case objfmt.SegData:
		ctx.data = append(ctx.data, code...)
	default:
		ctx.text = append(ctx.text, code...)
	}
	ctx.advance(seg, uint16(len(code)))
	return nil
}

// relocTag maps a value's segment tag to the on-disk relocation tag:
// 1-3 for text/data/bss, the external number itself (>=5) for an
// external reference. Absolute and undefined values never need a
// relocation at this point in pass 2.
func relocTag(seg objfmt.Segment) (uint8, bool) {
	switch {
	case seg == objfmt.SegText || seg == objfmt.SegData || seg == objfmt.SegBss:
		return uint8(seg), true
	case seg >= objfmt.FirstExtern:
		return uint8(seg), true
	default:
		return 0, false
	}
}

// recordReloc inserts a fix-up at the given final address into the
// relocation list belonging to the segment the patch site lives in,
// converting to that segment's on-disk-relative offset.
func (ctx *context) recordReloc(siteSeg objfmt.Segment, tag uint8, addr uint16) error {
	switch siteSeg {
	case objfmt.SegText:
		return ctx.textRelocs.Insert(tag, addr-objfmt.HeaderSize)
	case objfmt.SegData:
		return ctx.dataRelocs.Insert(tag, addr-ctx.textTop)
	default:
		return fmt.Errorf("relocation recorded outside text/data segment")
	}
}

func describeTok(t lexer.Token) string {
	if t.Kind == lexer.Identifier || t.Kind == lexer.Number {
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	}
	return t.Kind.String()
}
