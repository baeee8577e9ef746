package linker

import (
	"fmt"

	"github.com/tergav17/trasm/internal/objfmt"
)

// RelocateOptions carries the relocator tool's flags (spec §6: "-b",
// "-n", "-d", "-s").
type RelocateOptions struct {
	Base       uint16 // new text origin; defaults to the object's current origin (a no-op shift)
	Headerless bool   // -n: the caller writes the 16-byte header separately, or not at all
	Freeze     bool   // -d: convert data-segment symbols to absolute after the shift
	Squash     bool   // -s: drop the symbol table from the output
}

// Relocate rewrites a single object's internal (text/data/bss) addresses
// and baked-in patch words by the delta between opts.Base and the
// object's current text origin (spec §4.8's patch-application, reused
// here with one input object and a caller-supplied target base in place
// of the linker's computed merge base). Supplying opts.Base equal to
// the object's current origin is a no-op (spec §8 Idempotence).
func Relocate(obj *objfmt.Object, opts RelocateOptions) (*objfmt.Object, error) {
	delta := opts.Base - obj.Header.TextOrigin

	out := &objfmt.Object{
		Header: obj.Header,
		Text:   append([]byte{}, obj.Text...),
		Data:   append([]byte{}, obj.Data...),
		Relocs: append([]objfmt.RelocRecord{}, obj.Relocs...),
	}
	out.Header.TextOrigin = opts.Base

	textSize := obj.Header.TextTop - objfmt.HeaderSize
	if delta != 0 {
		for _, r := range out.Relocs {
			if r.Tag < 1 || r.Tag > uint8(objfmt.SegBss) {
				continue // externals are untouched by a base shift with no merge to resolve them
			}
			buf, off, err := segmentAt(out, textSize, r.Offset)
			if err != nil {
				return nil, err
			}
			word := uint16(buf[off]) | uint16(buf[off+1])<<8
			word += delta
			buf[off] = byte(word)
			buf[off+1] = byte(word >> 8)
		}
	}

	if !opts.Squash {
		for _, s := range obj.Symbols {
			sym := s
			if delta != 0 && sym.Tag >= 1 && sym.Tag <= uint8(objfmt.SegBss) {
				sym.Value += delta
			}
			out.Symbols = append(out.Symbols, sym)
		}
	}

	if opts.Freeze {
		Freeze(out)
	}

	return out, nil
}

// segmentAt returns the byte slice (text or data) and in-segment offset
// a combined relocation offset falls in, per the single continuous
// text-then-data addressing convention (spec §6).
func segmentAt(obj *objfmt.Object, textSize, offset uint16) ([]byte, uint16, error) {
	if offset < textSize {
		if int(offset)+2 > len(obj.Text) {
			return nil, 0, fmt.Errorf("relocation at text offset %d out of bounds", offset)
		}
		return obj.Text, offset, nil
	}
	dataOff := offset - textSize
	if int(dataOff)+2 > len(obj.Data) {
		return nil, 0, fmt.Errorf("relocation at data offset %d out of bounds", offset)
	}
	return obj.Data, dataOff, nil
}

// Freeze rewrites every data-segment symbol's tag to absolute in place,
// freezing the segment against further relocation (a feature of the
// original toolchain this spec's distillation dropped; the relocator's
// "-d" flag exposes it — see Relocate's opts.Freeze).
func Freeze(obj *objfmt.Object) {
	for i := range obj.Symbols {
		if obj.Symbols[i].Tag == uint8(objfmt.SegData) {
			obj.Symbols[i].Tag = uint8(objfmt.SegAbsolute)
		}
	}
}
