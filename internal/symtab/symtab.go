// Package symtab implements the assembler's symbol table (spec §4.3):
// user symbols with optional aggregate-type child fields, numeric
// local labels, and the global-export / external-declaration lists.
//
// The C original reused a single "parent" pointer to mean two
// different things depending on context — the anchor of a type's
// field list, and the scope root for a qualified lookup. Symbol keeps
// those separate: a symbol is either a plain Scalar or a Type that
// owns an ordered list of field Symbols.
package symtab

import (
	"fmt"

	"github.com/tergav17/trasm/internal/objfmt"
)

// Kind distinguishes a plain value symbol from a user-defined
// aggregate type.
type Kind int

const (
	KindScalar Kind = iota
	KindType
)

// Symbol is one entry: a label, a "name = expr" symbol, a type name, or
// a type's field. Segment is monotone once promoted out of
// SegUndefined; for an external declaration Segment is the external
// number itself (5 and up), the same value ExternNum holds.
type Symbol struct {
	Name      string
	Kind      Kind
	Segment   objfmt.Segment
	Value     uint16
	Size      uint16
	Defined   bool // false only while an external reference awaits resolution
	ExternNum int  // valid when Segment >= FirstExtern
	Fields    []*Symbol
}

const (
	builtinByteSize = 1
	builtinWordSize = 2
)

// Table holds the full symbol-table state for one assembly: the
// top-level scope, numeric locals, and the global/external lists. All
// state is reset at the start of each invocation and persists across
// both passes of that assembly (spec §3 lifecycle).
type Table struct {
	root      []*Symbol
	types     map[string]*Symbol
	locals    map[byte][]localEntry
	globals   []*Symbol
	externs   []*Symbol
	externSeq int
}

type localEntry struct {
	segment objfmt.Segment
	value   uint16
}

// New returns a freshly reset table with the built-in "sys" and
// "header" symbols preinstalled.
func New() *Table {
	t := &Table{}
	t.Reset()
	return t
}

// Reset clears all state and reinstalls the built-ins. Called at the
// start of each tool invocation.
func (t *Table) Reset() {
	t.root = nil
	t.types = make(map[string]*Symbol)
	t.locals = make(map[byte][]localEntry)
	t.globals = nil
	t.externs = nil
	t.externSeq = int(objfmt.FirstExtern)

	t.root = append(t.root,
		&Symbol{Name: "sys", Kind: KindScalar, Segment: objfmt.SegText, Value: 5, Defined: true},
		&Symbol{Name: "header", Kind: KindScalar, Segment: objfmt.SegText, Value: 0, Defined: true},
	)
}

func truncateName(name string) string {
	if len(name) > objfmt.MaxNameLen {
		return name[:objfmt.MaxNameLen]
	}
	return name
}

// Fetch does a linear search for name within scope. A nil scope
// searches the top-level table; a KindType scope searches its field
// list (a qualified "parent.field" lookup).
func (t *Table) Fetch(scope *Symbol, name string) (*Symbol, bool) {
	name = truncateName(name)
	list := t.root
	if scope != nil {
		list = scope.Fields
	}
	for _, s := range list {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Update inserts a new top-level symbol or updates an existing one in
// place. Redefinition of an already-resolved non-absolute symbol is an
// error (spec §3 invariant); the segment tag is monotone — once
// promoted out of SegUndefined it is never demoted.
func (t *Table) Update(name string, segment objfmt.Segment, value uint16) (*Symbol, error) {
	name = truncateName(name)
	if sym, ok := t.Fetch(nil, name); ok {
		if sym.Defined && sym.Segment != objfmt.SegUndefined && sym.Segment != objfmt.SegAbsolute {
			return nil, fmt.Errorf("symbol %q already defined", name)
		}
		if sym.Segment != objfmt.SegUndefined && segment == objfmt.SegUndefined {
			return nil, fmt.Errorf("symbol %q cannot be demoted to undefined", name)
		}
		sym.Segment = segment
		sym.Value = value
		sym.Defined = true
		return sym, nil
	}
	sym := &Symbol{Name: name, Kind: KindScalar, Segment: segment, Value: value, Defined: true}
	t.root = append(t.root, sym)
	return sym, nil
}

// DeclareType registers a new aggregate type with the given ordered
// field list. Field values must already hold the cumulative byte
// offset from the parent's base (non-decreasing in declaration order,
// per spec §3).
func (t *Table) DeclareType(name string, fields []*Symbol, size uint16) (*Symbol, error) {
	name = truncateName(name)
	if _, exists := t.types[name]; exists {
		return nil, fmt.Errorf("type %q already declared", name)
	}
	var prev uint16
	for i, f := range fields {
		if i > 0 && f.Value < prev {
			return nil, fmt.Errorf("type %q: field %q offset decreases", name, f.Name)
		}
		prev = f.Value
	}
	sym := &Symbol{Name: name, Kind: KindType, Segment: objfmt.SegAbsolute, Value: 0, Size: size, Defined: true, Fields: fields}
	t.types[name] = sym
	t.root = append(t.root, sym)
	return sym, nil
}

// FetchType resolves a type name to its size and, for a user type, the
// type symbol itself (so fields can be dereferenced). The built-ins
// "byte" (1) and "word" (2) are recognised first; size 0 with ok=false
// means unknown type.
func (t *Table) FetchType(name string) (size uint16, parent *Symbol, ok bool) {
	switch name {
	case "byte":
		return builtinByteSize, nil, true
	case "word":
		return builtinWordSize, nil, true
	}
	if sym, exists := t.types[truncateName(name)]; exists {
		return sym.Size, sym, true
	}
	return 0, nil, false
}

// LocalAdd records one occurrence of an anonymous local label (a
// single digit 0-9). Multiple occurrences of the same digit coexist;
// sequence order, not name, identifies them. Called during pass 1 only
// — the complete per-digit sequence is then available to both passes.
func (t *Table) LocalAdd(digit byte, segment objfmt.Segment, value uint16) {
	t.locals[digit] = append(t.locals[digit], localEntry{segment: segment, value: value})
}

// LocalFetch returns the nth local matching digit, searching backward
// (direction=0, the most recently defined local at-or-before ordinal)
// or forward (direction=1, the next one after ordinal) from "ordinal"
// locals-of-that-digit encountered so far by the caller.
func (t *Table) LocalFetch(digit byte, direction int, ordinal int) (objfmt.Segment, uint16, bool) {
	entries := t.locals[digit]
	var idx int
	if direction == 0 {
		idx = ordinal - 1
	} else {
		idx = ordinal
	}
	if idx < 0 || idx >= len(entries) {
		return objfmt.SegUndefined, 0, false
	}
	e := entries[idx]
	return e.segment, e.value, true
}

// ShiftLocals adds delta to every local label recorded in the given
// segment — used between passes to shift data/bss local values by
// text_top / text_top+data_top (spec §4.6).
func (t *Table) ShiftLocals(segment objfmt.Segment, delta uint16) {
	for digit, entries := range t.locals {
		for i := range entries {
			if entries[i].segment == segment {
				entries[i].value += delta
			}
		}
		t.locals[digit] = entries
	}
}

// ShiftSegment adds delta to every top-level symbol's value in the
// given segment (the same between-pass shift, applied to named
// symbols rather than anonymous locals).
func (t *Table) ShiftSegment(segment objfmt.Segment, delta uint16) {
	for _, s := range t.root {
		if s.Kind == KindScalar && s.Segment == segment {
			s.Value += delta
		}
	}
}

// AddGlobal marks a symbol for inclusion in the object's exported
// symbol table. Duplicate .globl declarations on the same symbol are
// silently ignored (spec §9 open question).
func (t *Table) AddGlobal(sym *Symbol) {
	for _, g := range t.globals {
		if g == sym {
			return
		}
	}
	t.globals = append(t.globals, sym)
}

// Globals returns the exported symbols in order of first declaration.
func (t *Table) Globals() []*Symbol { return t.globals }

// DeclareExtern allocates the next sequential external number
// (starting at 5) for name and registers it as an undefined top-level
// symbol. Declaring the same name twice returns the existing symbol.
func (t *Table) DeclareExtern(name string) (*Symbol, error) {
	name = truncateName(name)
	if sym, ok := t.Fetch(nil, name); ok {
		if sym.Segment >= objfmt.FirstExtern {
			return sym, nil
		}
		return nil, fmt.Errorf("%q already defined, cannot declare extern", name)
	}
	if t.externSeq >= int(objfmt.FirstExtern)+250 {
		return nil, fmt.Errorf("too many externals (more than 250 in one assembly)")
	}
	num := t.externSeq
	t.externSeq++
	sym := &Symbol{
		Name:      name,
		Kind:      KindScalar,
		Segment:   objfmt.Segment(num),
		ExternNum: num,
		Defined:   false,
	}
	t.root = append(t.root, sym)
	t.externs = append(t.externs, sym)
	return sym, nil
}

// Externs returns the external declarations in order of first
// declaration.
func (t *Table) Externs() []*Symbol { return t.externs }
