package view

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/saferwall/pe"
)

func TestNewComputesOverlayFromSections(t *testing.T) {
	data := make([]byte, 0x300)
	copy(data[0x280:], "TRAILER")
	e := New("a.exe", data, []Section{
		{Name: ".text", Offset: 0x200, Size: 0x40},
		{Name: ".data", Offset: 0x240, Size: 0x40},
		{Name: ".bss", Offset: 0, Size: 0},
	}, nil)

	if e.SectionTableEnd != 0x280 {
		t.Errorf("SectionTableEnd = %#x, want 0x280", e.SectionTableEnd)
	}
	if got := e.Overlay(); !bytes.HasPrefix(got, []byte("TRAILER")) || len(got) != 0x80 {
		t.Errorf("Overlay() = %q (len %d)", got, len(got))
	}
	if s, ok := e.Section(".DATA"); !ok || len(s.Data()) != 0x40 {
		t.Errorf("Section(.DATA) = %+v, %v", s, ok)
	}
	if _, ok := e.Section(".rsrc"); ok {
		t.Error("found a section that does not exist")
	}
}

func TestSectionDataIsBoundedByImage(t *testing.T) {
	e := New("", make([]byte, 0x100), []Section{{Name: ".big", Offset: 0xF0, Size: 0x1000}}, nil)
	s, _ := e.Section(".big")
	if len(s.Data()) != 0x10 {
		t.Errorf("len(Data()) = %d, want 16", len(s.Data()))
	}
	if len(e.Overlay()) != 0 {
		t.Errorf("overlay should be empty when sections claim past the end")
	}
}

func TestNoSectionsMeansNoOverlay(t *testing.T) {
	e := New("", []byte("MZ whatever"), nil, nil)
	if len(e.Overlay()) != 0 {
		t.Errorf("Overlay() = %q", e.Overlay())
	}
	o := WithOverlay("x.exe", []byte("MZimage"), []byte("PK\x03\x04rest"))
	if string(o.Overlay()) != "PK\x03\x04rest" || o.Len() != 15 {
		t.Errorf("WithOverlay overlay = %q len %d", o.Overlay(), o.Len())
	}
}

func TestResourceKeyAndLookup(t *testing.T) {
	e := New("", nil, nil, []Resource{
		{TypeID: 10, NameID: 101, Data: []byte("a")},
		{Type: "CUSTOM", Name: "BLOB", Data: []byte("b")},
		{TypeID: 99, NameID: 2, Data: []byte("c")},
	})
	if got := e.Resources[0].Key(); got != "RCDATA_101" {
		t.Errorf("Key() = %q", got)
	}
	if got := e.Resources[1].Key(); got != "CUSTOM_BLOB" {
		t.Errorf("Key() = %q", got)
	}
	if got := e.Resources[2].Key(); got != "99_2" {
		t.Errorf("Key() = %q", got)
	}
	if r, ok := e.FindResource(99, 2); !ok || string(r.Data) != "c" {
		t.Errorf("FindResource(99, 2) = %+v, %v", r, ok)
	}
	if _, ok := e.FindResource(99, 1); ok {
		t.Error("FindResource(99, 1) should be absent")
	}
}

func TestHeadersEnd(t *testing.T) {
	data := make([]byte, 0x400)
	binary.LittleEndian.PutUint32(data[0x3C:], 0x80)
	binary.LittleEndian.PutUint16(data[0x80+6:], 3)
	binary.LittleEndian.PutUint16(data[0x80+20:], 0xE0)
	want := int64(0x80 + 24 + 0xE0 + 3*40)
	if got := headersEnd(data); got != want {
		t.Errorf("headersEnd = %#x, want %#x", got, want)
	}
	if got := headersEnd([]byte("MZ")); got != 2 {
		t.Errorf("headersEnd(short) = %d", got)
	}
}

func TestPackageRoundTrip(t *testing.T) {
	hdr, err := EncodePackage(1, []PackageEntry{
		{Name: "a.bin", Offset: 0, Length: 10},
		{Name: `dir\b.bin`, Offset: 10, Length: 20},
	})
	if err != nil {
		t.Fatalf("EncodePackage: %v", err)
	}
	if len(hdr) != packageHeaderSize+2*packageEntrySize {
		t.Fatalf("encoded header is %d bytes", len(hdr))
	}

	pkg, err := ParsePackage(hdr)
	if err != nil {
		t.Fatalf("ParsePackage: %v", err)
	}
	if pkg.Version != 1 || len(pkg.Entries) != 2 {
		t.Fatalf("parsed %+v", pkg)
	}
	if pkg.Entries[1].Name != `dir\b.bin` || pkg.Entries[1].Offset != 10 || pkg.Entries[1].Length != 20 {
		t.Errorf("entry 1 = %+v", pkg.Entries[1])
	}
}

func TestParsePackageRejects(t *testing.T) {
	if _, err := ParsePackage([]byte("nope, not a package")); !errors.Is(err, ErrNoPackage) {
		t.Errorf("err = %v, want ErrNoPackage", err)
	}
	truncated := []byte{'M', 'a', 't', 'R', 1, 0, 0, 0, 5, 0, 0, 0}
	if _, err := ParsePackage(truncated); !errors.Is(err, ErrBadPackageData) {
		t.Errorf("err = %v, want ErrBadPackageData", err)
	}
}

func TestParsePackageFromSection(t *testing.T) {
	hdr, err := EncodePackage(2, []PackageEntry{{Name: "x", Offset: 0, Length: 1}})
	if err != nil {
		t.Fatal(err)
	}
	data := append(make([]byte, 0x200), hdr...)
	e := New("", data, []Section{{Name: PackageSectionName, Offset: 0x200, Size: uint32(len(hdr))}}, nil)
	pkg, err := ParsePackageFromView(e)
	if err != nil || pkg.Version != 2 {
		t.Fatalf("ParsePackageFromView = %+v, %v", pkg, err)
	}
}

func TestLoadRejectsNonPE(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notpe.bin")
	if err := os.WriteFile(p, []byte("this is certainly not a portable executable image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if e, err := Load(p); err == nil {
		e.Close()
		t.Fatal("Load accepted a non-PE file")
	}

	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err == nil {
		t.Fatal("Load accepted an empty file")
	}
	if _, err := Load(filepath.Join(dir, "missing.exe")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

// resourceImage assembles a PE32 image with a .text and a .rsrc section. The
// resource tree holds RCDATA/101 plus 99/1 and 99/2, all in language 0x409,
// and overlay is appended after the last section.
func resourceImage(t *testing.T, blobs [3][]byte, overlay []byte) []byte {
	t.Helper()
	const (
		lfanew   = 0x40
		rsrcRaw  = 0x400
		rsrcRVA  = 0x2000
		rsrcSize = 0x400
	)
	img := make([]byte, 0x800)
	copy(img, "MZ")
	binary.LittleEndian.PutUint32(img[0x3C:], lfanew)

	var hdr bytes.Buffer
	hdr.WriteString("PE\x00\x00")
	oh := pe.ImageOptionalHeader32{
		Magic:               pe.ImageNtOptionalHeader32Magic,
		AddressOfEntryPoint: 0x1000,
		BaseOfCode:          0x1000,
		BaseOfData:          rsrcRVA,
		ImageBase:           0x400000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         0x3000,
		SizeOfHeaders:       0x200,
		Subsystem:           2,
		NumberOfRvaAndSizes: 16,
	}
	oh.MajorOperatingSystemVersion, oh.MajorSubsystemVersion = 4, 4
	oh.DataDirectory[pe.ImageDirectoryEntryResource] = pe.DataDirectory{VirtualAddress: rsrcRVA, Size: rsrcSize}
	fh := pe.ImageFileHeader{
		Machine:              0x14c,
		NumberOfSections:     2,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      0x0102,
	}
	text := pe.ImageSectionHeader{VirtualSize: 0x200, VirtualAddress: 0x1000, SizeOfRawData: 0x200, PointerToRawData: 0x200, Characteristics: 0x60000020}
	copy(text.Name[:], ".text")
	rsrc := pe.ImageSectionHeader{VirtualSize: rsrcSize, VirtualAddress: rsrcRVA, SizeOfRawData: rsrcSize, PointerToRawData: rsrcRaw, Characteristics: 0x40000040}
	copy(rsrc.Name[:], ".rsrc")
	for _, v := range []any{fh, oh, text, rsrc} {
		if err := binary.Write(&hdr, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	copy(img[lfanew:], hdr.Bytes())

	tree := img[rsrcRaw : rsrcRaw+rsrcSize]
	dir := func(off int, entries ...uint32) {
		binary.LittleEndian.PutUint16(tree[off+14:], uint16(len(entries)/2))
		for i := 0; i < len(entries); i += 2 {
			binary.LittleEndian.PutUint32(tree[off+16+i*4:], entries[i])
			binary.LittleEndian.PutUint32(tree[off+20+i*4:], entries[i+1])
		}
	}
	const sub = 0x80000000
	dir(0x00, 10, sub|0x20, 99, sub|0x38)
	dir(0x20, 101, sub|0x58)
	dir(0x38, 1, sub|0x70, 2, sub|0x88)
	dir(0x58, 0x409, 0xA0)
	dir(0x70, 0x409, 0xB0)
	dir(0x88, 0x409, 0xC0)
	slots := [3]struct{ at, room int }{{0x100, 0x100}, {0x200, 0x80}, {0x280, 0x180}}
	for i, slot := range slots {
		at := slot.at
		if len(blobs[i]) > slot.room {
			t.Fatalf("resource blob %d is %d bytes, room for %d", i, len(blobs[i]), slot.room)
		}
		entry := 0xA0 + i*0x10
		binary.LittleEndian.PutUint32(tree[entry:], uint32(rsrcRVA+at))
		binary.LittleEndian.PutUint32(tree[entry+4:], uint32(len(blobs[i])))
		copy(tree[at:], blobs[i])
	}
	return append(img, overlay...)
}

func tinyZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.CreateHeader(&zip.FileHeader{Name: "a.txt", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("hi"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFromBytesProjectsResourcesAndOverlay(t *testing.T) {
	archive := tinyZip(t)
	marker := []byte("first")
	payload := []byte("compressed payload bytes")
	overlay := []byte("OVERLAY:appended after the last section")
	data := resourceImage(t, [3][]byte{archive, marker, payload}, overlay)

	e, err := FromBytes("fixture.exe", data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if len(e.Sections) != 2 || e.Sections[0].Name != ".text" || e.Sections[1].Name != ".rsrc" {
		t.Fatalf("sections = %+v", e.Sections)
	}
	if e.SectionTableEnd != 0x800 || e.OverlayOffset != 0x800 {
		t.Errorf("SectionTableEnd = %#x, OverlayOffset = %#x, want 0x800", e.SectionTableEnd, e.OverlayOffset)
	}
	if !bytes.Equal(e.Overlay(), overlay) {
		t.Errorf("Overlay() = %q", e.Overlay())
	}

	if len(e.Resources) != 3 {
		t.Fatalf("got %d resources, want 3: %+v", len(e.Resources), e.Resources)
	}
	first := e.Resources[0]
	if first.Key() != "RCDATA_101" || first.Lang != 0x409 || !bytes.Equal(first.Data, archive) {
		t.Errorf("resource 0 = %s lang %#x (%d bytes)", first.Key(), first.Lang, len(first.Data))
	}
	if e.Resources[1].Key() != "99_1" || !bytes.Equal(e.Resources[1].Data, marker) {
		t.Errorf("resource 1 = %s %q", e.Resources[1].Key(), e.Resources[1].Data)
	}
	r, ok := e.FindResource(99, 2)
	if !ok || !bytes.Equal(r.Data, payload) {
		t.Errorf("FindResource(99, 2) = %q, %v", r.Data, ok)
	}
	if _, ok := e.FindResource(99, 3); ok {
		t.Error("FindResource found a resource that does not exist")
	}
	if e.Package != nil {
		t.Errorf("unexpected nested package %+v", e.Package)
	}
}

func TestLoadMapsResourceImage(t *testing.T) {
	overlay := []byte("tail")
	data := resourceImage(t, [3][]byte{tinyZip(t), []byte("a"), []byte("b")}, overlay)
	p := filepath.Join(t.TempDir(), "fixture.exe")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()
	if e.Len() != int64(len(data)) || !bytes.Equal(e.Overlay(), overlay) {
		t.Errorf("Len = %d, Overlay() = %q", e.Len(), e.Overlay())
	}
	if r, ok := e.FindResource(99, 2); !ok || string(r.Data) != "b" {
		t.Errorf("FindResource(99, 2) = %q, %v", r.Data, ok)
	}
}
