// Package linker implements the link editor (spec §4.8): check-in of
// object files and archives, iterative external-symbol resolution with
// archive demand-loading, base computation, and segment emission with
// relocation fix-ups re-based to the merged image.
package linker

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tergav17/trasm/internal/archive"
	"github.com/tergav17/trasm/internal/objfmt"
)

// Options carries the linker's command-line flags (spec §6: "-v", "-r",
// "-s").
type Options struct {
	Verbose        bool
	KeepUnresolved bool // -r: emit a relocatable object instead of failing on unresolved externals
	Squash         bool // -s: omit the global symbol table from the output
	Log            func(format string, args ...any)
}

// Input is one named blob handed to the linker: either a relocatable
// object or an "ar"-style archive, already read from disk by the
// caller (spec §4.8 check-in phase).
type Input struct {
	Name string
	Data []byte
}

type loadedObject struct {
	name string
	obj  *objfmt.Object

	textBase, dataBase, bssBase uint16
}

// textSize, dataSize and bssSize recover each segment's length from
// the header tops the assembler wrote.
func (lo *loadedObject) textSize() uint16 { return lo.obj.Header.TextTop - objfmt.HeaderSize }
func (lo *loadedObject) dataSize() uint16 {
	return lo.obj.Header.DataTop - lo.obj.Header.TextTop
}
func (lo *loadedObject) bssSize() uint16 { return lo.obj.Header.BssTop - lo.obj.Header.DataTop }

// delta returns the shift to add to a value of the given on-disk tag
// (1=text, 2=data, 3=bss) recorded against this object, converting it
// from the object's own local addressing into the merged image's
// addressing (spec §4.8 step 5, sreloc).
func (lo *loadedObject) delta(tag uint8) (uint16, bool) {
	switch objfmt.Segment(tag) {
	case objfmt.SegText:
		return lo.textBase - objfmt.HeaderSize, true
	case objfmt.SegData:
		return lo.dataBase - lo.obj.Header.TextTop, true
	case objfmt.SegBss:
		return lo.bssBase - lo.obj.Header.DataTop, true
	default:
		return 0, false
	}
}

func (o *Options) log(format string, args ...any) {
	if o.Verbose && o.Log != nil {
		o.Log(format, args...)
	}
}

type archiveSource struct {
	name    string
	members []archive.Member
	loaded  map[string]bool // member name -> already pulled in
}

// Link runs the full seven-step algorithm and returns the merged
// object.
func Link(inputs []Input, opts Options) (*objfmt.Object, error) {
	var objs []*loadedObject
	var archives []*archiveSource

	// Step 1: check-in.
	for _, in := range inputs {
		if archive.IsArchive(in.Data) {
			members, err := archive.Parse(in.Data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", in.Name, err)
			}
			archives = append(archives, &archiveSource{name: in.Name, members: members, loaded: map[string]bool{}})
			opts.log("archive %s: %d members", in.Name, len(members))
			continue
		}
		obj, err := objfmt.Read(bytes.NewReader(in.Data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		objs = append(objs, &loadedObject{name: in.Name, obj: obj})
		opts.log("loaded %s", in.Name)
	}

	// Step 2 & 3: iterative resolution, demand-loading archive members
	// that define a symbol some loaded object still needs.
	for {
		defined := definedSymbols(objs)
		unresolved := unresolvedNames(objs, defined)
		if len(unresolved) == 0 {
			break
		}
		loadedNew := false
		for _, name := range unresolved {
			for _, as := range archives {
				for _, m := range as.members {
					if as.loaded[m.Name] {
						continue
					}
					obj, err := objfmt.Read(bytes.NewReader(m.Data))
					if err != nil {
						continue // not an object member (e.g. an index); skip
					}
					if !definesSymbol(obj, name) {
						continue
					}
					as.loaded[m.Name] = true
					objs = append(objs, &loadedObject{name: fmt.Sprintf("%s(%s)", as.name, m.Name), obj: obj})
					opts.log("pulled %s(%s) for %q", as.name, m.Name, name)
					loadedNew = true
				}
			}
		}
		if !loadedNew {
			break
		}
	}

	defined := definedSymbols(objs)
	if err := checkDuplicates(objs); err != nil {
		return nil, err
	}
	unresolved := unresolvedNames(objs, defined)

	// Step 3: unresolved diagnosis.
	reassign := map[string]uint8{}
	if len(unresolved) > 0 {
		if !opts.KeepUnresolved {
			return nil, fmt.Errorf("unresolved external symbols: %v", unresolved)
		}
		if len(unresolved) > 250 {
			return nil, fmt.Errorf("too many unresolved externals for relocatable output (more than 250)")
		}
		next := uint16(objfmt.FirstExtern)
		for _, name := range unresolved {
			reassign[name] = uint8(next)
			next++
		}
	}

	// Step 4: base computation — text, then data, then bss, contiguous
	// from address 16.
	base := uint16(objfmt.HeaderSize)
	for _, lo := range objs {
		lo.textBase = base
		base += lo.textSize()
	}
	textTop := base
	for _, lo := range objs {
		lo.dataBase = base
		base += lo.dataSize()
	}
	dataTop := base
	for _, lo := range objs {
		lo.bssBase = base
		base += lo.bssSize()
	}
	bssTop := base

	// Step 5 & 6: emit segments, applying relocations re-based to the
	// merged image.
	resolver := func(name string) (tag uint8, value uint16, ok bool) {
		sym, src, ok := defined[name], (*loadedObject)(nil), false
		if sym == nil {
			return 0, 0, false
		}
		for _, lo := range objs {
			for _, s := range lo.obj.Symbols {
				if s.Name == name && s.Tag == sym.Tag && s.Tag >= 1 && s.Tag <= uint8(objfmt.SegAbsolute) {
					src = lo
					ok = true
				}
			}
			if ok {
				break
			}
		}
		if !ok {
			return 0, 0, false
		}
		if sym.Tag == uint8(objfmt.SegAbsolute) {
			return sym.Tag, sym.Value, true
		}
		delta, _ := src.delta(sym.Tag)
		return sym.Tag, sym.Value + delta, true
	}

	outText, textRelocs, err := emitSegment(objs, kindText, resolver, reassign)
	if err != nil {
		return nil, fmt.Errorf("emitting text segment: %w", err)
	}
	outData, dataRelocs, err := emitSegment(objs, kindData, resolver, reassign)
	if err != nil {
		return nil, fmt.Errorf("emitting data segment: %w", err)
	}

	// Step 7: metadata — combined global + unresolved-extern symbol
	// table (spec §6's 8-byte name field; see DESIGN.md for the
	// discrepancy with §4.8's "7-byte name" wording).
	var syms []objfmt.SymbolRecord
	if !opts.Squash {
		for _, lo := range objs {
			for _, s := range lo.obj.Symbols {
				if s.Tag >= 1 && s.Tag <= uint8(objfmt.SegAbsolute) {
					delta := uint16(0)
					if s.Tag != uint8(objfmt.SegAbsolute) {
						delta, _ = lo.delta(s.Tag)
					}
					syms = append(syms, objfmt.SymbolRecord{Name: s.Name, Tag: s.Tag, Value: s.Value + delta})
				}
			}
		}
	}
	if opts.KeepUnresolved {
		names := make([]string, 0, len(reassign))
		for name := range reassign {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			syms = append(syms, objfmt.SymbolRecord{Name: name, Tag: reassign[name], Value: 0})
		}
	}

	info := uint8(objfmt.InfoLinkable)
	if len(unresolved) == 0 {
		info |= objfmt.InfoLinked
	}

	// Combine into one continuous text-then-data list, same convention
	// as the assembler's own output (spec §6).
	mergedTextSize := textTop - objfmt.HeaderSize
	relocs := append([]objfmt.RelocRecord{}, textRelocs...)
	for _, r := range dataRelocs {
		relocs = append(relocs, objfmt.RelocRecord{Tag: r.Tag, Offset: r.Offset + mergedTextSize})
	}

	return &objfmt.Object{
		Header: objfmt.Header{
			Info:          info,
			TextOrigin:    0,
			SyscallVector: [3]byte{0xC3, 0x00, 0x00},
			EntryPoint:    0,
			TextTop:       textTop,
			DataTop:       dataTop,
			BssTop:        bssTop,
		},
		Text:    outText,
		Data:    outData,
		Relocs:  relocs,
		Symbols: syms,
	}, nil
}

// definedSymbols collects every globally-visible defined symbol (tag
// 1-4) across all currently loaded objects, keyed by name.
func definedSymbols(objs []*loadedObject) map[string]*objfmt.SymbolRecord {
	out := map[string]*objfmt.SymbolRecord{}
	for _, lo := range objs {
		for i := range lo.obj.Symbols {
			s := &lo.obj.Symbols[i]
			if s.Tag >= 1 && s.Tag <= uint8(objfmt.SegAbsolute) {
				out[s.Name] = s
			}
		}
	}
	return out
}

// checkDuplicates reports an error if the same name is defined (tag
// 1-4) by more than one loaded object.
func checkDuplicates(objs []*loadedObject) error {
	owner := map[string]string{}
	for _, lo := range objs {
		for _, s := range lo.obj.Symbols {
			if s.Tag < 1 || s.Tag > uint8(objfmt.SegAbsolute) {
				continue
			}
			if prev, ok := owner[s.Name]; ok && prev != lo.name {
				return fmt.Errorf("symbol %q defined in both %s and %s", s.Name, prev, lo.name)
			}
			owner[s.Name] = lo.name
		}
	}
	return nil
}

// unresolvedNames returns, in first-seen order, every external name
// referenced by a loaded object that is not (yet) in defined.
func unresolvedNames(objs []*loadedObject, defined map[string]*objfmt.SymbolRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, lo := range objs {
		for _, s := range lo.obj.Symbols {
			if s.Tag < uint8(objfmt.FirstExtern) {
				continue
			}
			if _, ok := defined[s.Name]; ok {
				continue
			}
			if !seen[s.Name] {
				seen[s.Name] = true
				out = append(out, s.Name)
			}
		}
	}
	return out
}

// definesSymbol reports whether obj exports name as a defined (tag
// 1-4) global.
func definesSymbol(obj *objfmt.Object, name string) bool {
	for _, s := range obj.Symbols {
		if s.Name == name && s.Tag >= 1 && s.Tag <= uint8(objfmt.SegAbsolute) {
			return true
		}
	}
	return false
}

// externName looks up the name an object's local external number
// (tag) refers to.
func externName(obj *objfmt.Object, tag uint8) (string, bool) {
	for _, s := range obj.Symbols {
		if s.Tag == tag && tag >= uint8(objfmt.FirstExtern) {
			return s.Name, true
		}
	}
	return "", false
}

// segmentKind selects which of an object's two relocatable segments
// emitSegment is assembling.
type segmentKind int

const (
	kindText segmentKind = iota
	kindData
)

// localRelocs splits an object's single combined relocation list (spec
// §6: one continuous, non-decreasing list spanning text then data) back
// into the two per-segment lists, with data offsets rebased to be local
// to the data segment again.
func (lo *loadedObject) localRelocs(kind segmentKind) []objfmt.RelocRecord {
	textSize := lo.textSize()
	var out []objfmt.RelocRecord
	for _, r := range lo.obj.Relocs {
		switch {
		case kind == kindText && r.Offset < textSize:
			out = append(out, r)
		case kind == kindData && r.Offset >= textSize:
			out = append(out, objfmt.RelocRecord{Tag: r.Tag, Offset: r.Offset - textSize})
		}
	}
	return out
}

// emitSegment concatenates one segment (text or data) across every
// loaded object, applying each object's relocations re-based to the
// merged image (spec §4.8 step 6).
func emitSegment(objs []*loadedObject, kind segmentKind, resolve func(name string) (tag uint8, value uint16, ok bool), reassign map[string]uint8) ([]byte, []objfmt.RelocRecord, error) {
	var out []byte
	var relocs []objfmt.RelocRecord

	for _, lo := range objs {
		var bytesIn []byte
		if kind == kindText {
			bytesIn = lo.obj.Text
		} else {
			bytesIn = lo.obj.Data
		}
		segOut := append([]byte{}, bytesIn...)

		for _, r := range lo.localRelocs(kind) {
			off := r.Offset
			if int(off)+2 > len(segOut) {
				return nil, nil, fmt.Errorf("%s: relocation at offset %d out of bounds", lo.name, off)
			}
			word := uint16(segOut[off]) | uint16(segOut[off+1])<<8

			switch {
			case r.Tag >= 1 && r.Tag <= uint8(objfmt.SegBss):
				delta, ok := lo.delta(r.Tag)
				if !ok {
					return nil, nil, fmt.Errorf("%s: bad internal relocation tag %d", lo.name, r.Tag)
				}
				word += delta
				segOut[off] = byte(word)
				segOut[off+1] = byte(word >> 8)
				relocs = append(relocs, objfmt.RelocRecord{Tag: r.Tag, Offset: uint16(len(out)) + off})

			case r.Tag >= uint8(objfmt.FirstExtern):
				name, ok := externName(lo.obj, r.Tag)
				if !ok {
					return nil, nil, fmt.Errorf("%s: relocation against unknown external #%d", lo.name, r.Tag)
				}
				if tag, value, ok := resolve(name); ok {
					word = value
					segOut[off] = byte(word)
					segOut[off+1] = byte(word >> 8)
					if tag != uint8(objfmt.SegAbsolute) {
						relocs = append(relocs, objfmt.RelocRecord{Tag: tag, Offset: uint16(len(out)) + off})
					}
				} else {
					newTag, ok := reassign[name]
					if !ok {
						return nil, nil, fmt.Errorf("%s: external %q left unresolved without relocatable output", lo.name, name)
					}
					relocs = append(relocs, objfmt.RelocRecord{Tag: newTag, Offset: uint16(len(out)) + off})
				}

			default:
				return nil, nil, fmt.Errorf("%s: relocation carries invalid tag %d", lo.name, r.Tag)
			}
		}

		out = append(out, segOut...)
	}

	return out, relocs, nil
}
