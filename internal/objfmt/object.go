package objfmt

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Object is the fully decoded contents of one a.out-style relocatable
// object or executable file: header, segment bytes, relocations and
// symbols.
type Object struct {
	Header  Header
	Text    []byte
	Data    []byte
	Relocs  []RelocRecord
	Symbols []SymbolRecord
}

// Write serialises the object to w in the exact on-disk layout: header,
// text, data, relocation section, symbol section.
func (o *Object) Write(w io.Writer) error {
	if err := WriteHeader(w, o.Header); err != nil {
		return err
	}
	if len(o.Text) > 0 {
		if _, err := w.Write(o.Text); err != nil {
			return err
		}
	}
	if len(o.Data) > 0 {
		if _, err := w.Write(o.Data); err != nil {
			return err
		}
	}
	if o.Header.IsLinkable() {
		if err := WriteSection(w, o.Relocs); err != nil {
			return err
		}
	}
	if err := WriteSymbolSection(w, o.Symbols); err != nil {
		return err
	}
	return nil
}

// WriteFile writes the object to the named file, removing any partial
// output on failure (spec §5: "temporary output files are deleted on
// failure").
func (o *Object) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		cerr := f.Close()
		if err != nil {
			os.Remove(path)
			return
		}
		if cerr != nil {
			os.Remove(path)
			err = cerr
		}
	}()
	return o.Write(f)
}

// Read decodes an Object from r. textSize and dataSize must be known in
// advance (they come from the header), since the segments have no
// internal length prefix other than the header's top fields.
func Read(r io.Reader) (*Object, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	textSize := int(h.TextTop) - HeaderSize
	dataSize := int(h.DataTop) - int(h.TextTop)
	if textSize < 0 || dataSize < 0 {
		return nil, fmt.Errorf("object header: inconsistent segment tops (text=%d data=%d)", h.TextTop, h.DataTop)
	}
	text := make([]byte, textSize)
	if _, err := io.ReadFull(r, text); err != nil {
		return nil, fmt.Errorf("reading text segment: %w", err)
	}
	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading data segment: %w", err)
	}

	o := &Object{Header: h, Text: text, Data: data}

	if h.IsLinkable() {
		relocs, err := ReadSection(r)
		if err != nil {
			return nil, err
		}
		o.Relocs = relocs
	}

	syms, err := ReadSymbolSection(r)
	if err != nil {
		return nil, err
	}
	o.Symbols = syms
	return o, nil
}

// ReadFile reads and decodes the object at path.
func ReadFile(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(bytes.NewReader(data))
}
