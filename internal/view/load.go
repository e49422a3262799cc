package view

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/saferwall/pe"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
)

// Load maps path read-only and projects it into an Executable. The caller
// must Close the view to release the mapping.
func Load(path string) (*Executable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open input file. %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("unable to stat input file. %w", err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("input file %s is empty", path)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to map input file. %w", err)
	}

	e, err := FromBytes(path, m)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	e.closer = m.Unmap
	return e, nil
}

// FromBytes parses data as a PE image and builds its view.
func FromBytes(path string, data []byte) (*Executable, error) {
	file, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		return nil, fmt.Errorf("unable to open PE image. %w", err)
	}
	if err := file.Parse(); err != nil {
		return nil, fmt.Errorf("unable to parse PE image. %w", err)
	}

	var sections []Section
	for _, s := range file.Sections {
		sections = append(sections, Section{
			Name:           strings.TrimRight(string(s.Header.Name[:]), "\x00"),
			VirtualAddress: s.Header.VirtualAddress,
			VirtualSize:    s.Header.VirtualSize,
			Offset:         s.Header.PointerToRawData,
			Size:           s.Header.SizeOfRawData,
		})
	}

	e := New(path, data, sections, flattenResources(file))
	if len(e.Sections) == 0 {
		e.SectionTableEnd = headersEnd(data)
		e.OverlayOffset = min(e.SectionTableEnd, int64(len(data)))
	}

	if pkg, err := ParsePackageFromView(e); err == nil {
		e.Package = pkg
	} else if !errors.Is(err, ErrNoPackage) {
		logger.Debug("Ignoring malformed nested package header", "path", path, "error", err)
	}
	return e, nil
}

// headersEnd returns the end of the section header table read straight from
// the DOS and COFF headers.
func headersEnd(data []byte) int64 {
	if len(data) < 0x40 {
		return int64(len(data))
	}
	lfanew := int64(binary.LittleEndian.Uint32(data[0x3C:]))
	if lfanew+24 > int64(len(data)) {
		return int64(len(data))
	}
	numSections := int64(binary.LittleEndian.Uint16(data[lfanew+6:]))
	optSize := int64(binary.LittleEndian.Uint16(data[lfanew+20:]))
	end := lfanew + 24 + optSize + numSections*40
	return min(end, int64(len(data)))
}

// flattenResources walks the type/name/language tree in order. Entries whose
// data cannot be resolved are skipped.
func flattenResources(file *pe.File) (out []Resource) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("Recovered from panic walking resources", "panic", r)
		}
	}()

	for _, typ := range file.Resources.Entries {
		res := Resource{Type: typ.Name, TypeID: typ.ID}
		if !isDir(typ) {
			continue
		}
		for _, name := range typ.Directory.Entries {
			res.Name, res.NameID = name.Name, name.ID
			if !isDir(name) {
				if data, ok := resourceData(file, name); ok {
					res.Data = data
					out = append(out, res)
				}
				continue
			}
			for _, lang := range name.Directory.Entries {
				if isDir(lang) {
					continue
				}
				data, ok := resourceData(file, lang)
				if !ok {
					continue
				}
				leaf := res
				leaf.Lang = lang.ID
				leaf.Data = data
				out = append(out, leaf)
			}
		}
	}
	return out
}

// isDir reports whether entry points at a subdirectory rather than a data
// entry; the high bit of OffsetToData marks directories.
func isDir(entry pe.ResourceDirectoryEntry) bool {
	return entry.Struct.OffsetToData&0x80000000 != 0
}

func resourceData(file *pe.File, entry pe.ResourceDirectoryEntry) ([]byte, bool) {
	rva, size := entry.Data.Struct.OffsetToData, entry.Data.Struct.Size
	if size == 0 {
		return nil, false
	}
	data, err := file.GetData(rva, size)
	if err != nil {
		logger.Debug("Unable to read resource data", "rva", rva, "size", size, "error", err)
		return nil, false
	}
	return data, true
}
