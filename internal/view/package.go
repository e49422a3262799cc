package view

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-restruct/restruct"
)

// PackageSectionName is the image section that carries a nested package.
const PackageSectionName = "matrosch"

var packageMagic = [4]byte{'M', 'a', 't', 'R'}

var (
	ErrNoPackage      = errors.New("no nested package present")
	ErrBadPackageData = errors.New("malformed nested package header")
)

const (
	packageHeaderSize = 12
	packageEntrySize  = 256 + 8 + 8
	maxPackageEntries = 1 << 16
)

type rawPackageEntry struct {
	Path   [256]byte
	Offset uint64
	Length uint64
}

type rawPackageHeader struct {
	Magic      [4]byte
	Version    uint32
	EntryCount uint32
	Entries    []rawPackageEntry `struct:"sizefrom=EntryCount"`
}

type PackageEntry struct {
	Name   string
	Offset uint64
	Length uint64
}

// PackageHeader is the parsed file table of a nested package together with
// the container bytes its offsets refer to.
type PackageHeader struct {
	Version   uint32
	Entries   []PackageEntry
	Container []byte
}

// ParsePackage parses a nested package header at the start of container.
// Entry bounds are not checked here; the extractor validates each entry.
func ParsePackage(container []byte) (*PackageHeader, error) {
	if len(container) < packageHeaderSize || !bytes.Equal(container[:4], packageMagic[:]) {
		return nil, ErrNoPackage
	}
	count := binary.LittleEndian.Uint32(container[8:12])
	if count > maxPackageEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrBadPackageData, count)
	}
	if need := packageHeaderSize + int(count)*packageEntrySize; need > len(container) {
		return nil, fmt.Errorf("%w: file table needs %d bytes, container has %d", ErrBadPackageData, need, len(container))
	}

	var raw rawPackageHeader
	if err := restruct.Unpack(container, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPackageData, err)
	}

	hdr := &PackageHeader{Version: raw.Version, Container: container}
	for _, re := range raw.Entries {
		hdr.Entries = append(hdr.Entries, PackageEntry{
			Name:   string(bytes.TrimRight(re.Path[:], "\x00")),
			Offset: re.Offset,
			Length: re.Length,
		})
	}
	return hdr, nil
}

// ParsePackageFromView looks for a nested package in the dedicated section
// first and at the start of the overlay second.
func ParsePackageFromView(e *Executable) (*PackageHeader, error) {
	if s, ok := e.Section(PackageSectionName); ok {
		return ParsePackage(s.Data())
	}
	return ParsePackage(e.Overlay())
}

// EncodePackage serializes a file table in the nested package layout. The
// returned header is meant to be followed by the entry payloads.
func EncodePackage(version uint32, entries []PackageEntry) ([]byte, error) {
	raw := rawPackageHeader{
		Magic:      packageMagic,
		Version:    version,
		EntryCount: uint32(len(entries)),
	}
	for _, e := range entries {
		var re rawPackageEntry
		if len(e.Name) > len(re.Path) {
			return nil, fmt.Errorf("entry name %q longer than %d bytes", e.Name, len(re.Path))
		}
		copy(re.Path[:], e.Name)
		re.Offset, re.Length = e.Offset, e.Length
		raw.Entries = append(raw.Entries, re)
	}
	return restruct.Pack(binary.LittleEndian, &raw)
}
