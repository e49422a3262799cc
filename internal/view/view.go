// Package view exposes a read-only projection of a Windows executable image:
// its raw bytes, overlay, section table and flattened resources. Extractors
// only ever read from an Executable; nothing in it is mutated after Load.
package view

import (
	"fmt"
	"strings"
)

type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Offset         uint32
	Size           uint32

	raw []byte
}

// Data returns the section's raw bytes, truncated to the image when the
// header claims more than the file holds.
func (s Section) Data() []byte {
	return s.raw
}

type Resource struct {
	Type   string
	Name   string
	TypeID uint32
	NameID uint32
	Lang   uint32
	Data   []byte
}

var resourceTypeNames = map[uint32]string{
	1:  "CURSOR",
	2:  "BITMAP",
	3:  "ICON",
	4:  "MENU",
	5:  "DIALOG",
	6:  "STRING",
	7:  "FONTDIR",
	8:  "FONT",
	9:  "ACCELERATOR",
	10: "RCDATA",
	11: "MESSAGETABLE",
	12: "GROUP_CURSOR",
	14: "GROUP_ICON",
	16: "VERSION",
	23: "HTML",
	24: "MANIFEST",
}

// Key identifies the resource as <type>_<name>, using names where the
// resource directory has them and numeric IDs otherwise.
func (r Resource) Key() string {
	typ := r.Type
	if typ == "" {
		if known, ok := resourceTypeNames[r.TypeID]; ok {
			typ = known
		} else {
			typ = fmt.Sprint(r.TypeID)
		}
	}
	name := r.Name
	if name == "" {
		name = fmt.Sprint(r.NameID)
	}
	return typ + "_" + name
}

type Executable struct {
	Path string
	Data []byte

	// OverlayOffset is where the overlay begins; len(Data) when there is none.
	OverlayOffset int64
	// SectionTableEnd is the highest raw end of any section, or the end of
	// the headers for images without sections.
	SectionTableEnd int64

	Sections  []Section
	Resources []Resource

	// Package is attached by ParsePackage when the image carries a nested
	// multi-file package.
	Package *PackageHeader

	closer func() error
}

// Overlay returns the bytes after the declared image content.
func (e *Executable) Overlay() []byte {
	if e.OverlayOffset < 0 || e.OverlayOffset >= int64(len(e.Data)) {
		return nil
	}
	return e.Data[e.OverlayOffset:]
}

// Len is the total image length.
func (e *Executable) Len() int64 {
	return int64(len(e.Data))
}

// Section returns the first section whose name matches, ignoring case.
func (e *Executable) Section(name string) (Section, bool) {
	for _, s := range e.Sections {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Section{}, false
}

// FindResource returns the first resource with the given numeric type and name.
func (e *Executable) FindResource(typeID, nameID uint32) (Resource, bool) {
	for _, r := range e.Resources {
		if r.Type == "" && r.Name == "" && r.TypeID == typeID && r.NameID == nameID {
			return r, true
		}
	}
	return Resource{}, false
}

// Close releases the mapping created by Load. It is a no-op for views built
// with New.
func (e *Executable) Close() error {
	if e.closer == nil {
		return nil
	}
	err := e.closer()
	e.closer = nil
	return err
}

// New builds a view from already known parts. Section raw bytes are taken
// from data using each section's Offset and Size; the overlay starts after
// the last section (or at len(data) when there are no sections).
func New(path string, data []byte, sections []Section, resources []Resource) *Executable {
	e := &Executable{
		Path:      path,
		Data:      data,
		Resources: resources,
	}
	for _, s := range sections {
		s.raw = bounded(data, int64(s.Offset), int64(s.Size))
		e.Sections = append(e.Sections, s)
	}
	e.SectionTableEnd = rawEnd(e.Sections)
	if len(e.Sections) == 0 {
		e.SectionTableEnd = int64(len(data))
	}
	e.OverlayOffset = min(e.SectionTableEnd, int64(len(data)))
	return e
}

// WithOverlay builds a view whose image is image and whose overlay is overlay.
func WithOverlay(path string, image, overlay []byte) *Executable {
	data := make([]byte, 0, len(image)+len(overlay))
	data = append(data, image...)
	data = append(data, overlay...)
	e := New(path, data, nil, nil)
	e.SectionTableEnd = int64(len(image))
	e.OverlayOffset = int64(len(image))
	return e
}

func rawEnd(sections []Section) int64 {
	var end int64
	for _, s := range sections {
		if s.Size == 0 {
			continue
		}
		if e := int64(s.Offset) + int64(s.Size); e > end {
			end = e
		}
	}
	return end
}

func bounded(data []byte, off, size int64) []byte {
	if off < 0 || size <= 0 || off >= int64(len(data)) {
		return nil
	}
	end := min(off+size, int64(len(data)))
	return data[off:end]
}
