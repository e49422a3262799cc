package installer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-restruct/restruct"
)

var headerMagic = [8]byte{'I', 'S', 'P', 'K', 0x1a, 0x00, 0x01, 0x00}

const (
	headerFixedSize = 16
	entrySize       = 64 + 4 + 4 + 4 + 2 + 2 + 4

	MaxFiles = 65535

	// FlagMultiVolume marks a package whose data continues in sibling volumes.
	FlagMultiVolume = 1 << 0
)

var (
	ErrNoHeader  = errors.New("no installer package header")
	ErrBadHeader = errors.New("malformed installer package header")
)

type Method uint16

const (
	MethodStored Method = iota
	MethodDeflate
	MethodImplode
)

func (m Method) String() string {
	switch m {
	case MethodStored:
		return "stored"
	case MethodDeflate:
		return "deflate"
	case MethodImplode:
		return "implode"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

type rawEntry struct {
	Name     [64]byte
	Offset   uint32
	Length   uint32
	Expanded uint32
	Method   uint16
	Reserved uint16
	CRC32    uint32
}

type rawHeader struct {
	Magic     [8]byte
	Version   uint16
	Flags     uint16
	FileCount uint32
	Entries   []rawEntry `struct:"sizefrom=FileCount"`
}

// Entry is one file declared by the package header. Offset is relative to
// the header start in the logical (possibly multi-volume) stream.
type Entry struct {
	Name     string
	Offset   uint32
	Length   uint32
	Expanded uint32
	Method   Method
	CRC32    uint32
}

// Size is the length of the entry after decompression.
func (e Entry) Size() uint32 {
	if e.Expanded == 0 {
		return e.Length
	}
	return e.Expanded
}

type Header struct {
	Version uint16
	Flags   uint16
	Entries []Entry
}

func (h *Header) MultiVolume() bool {
	return h.Flags&FlagMultiVolume != 0
}

// Len is the encoded size of the header including its file table.
func (h *Header) Len() int64 {
	return headerFixedSize + int64(len(h.Entries))*entrySize
}

// ReadHeader reads the fixed header and its file table from the start of r.
func ReadHeader(r io.ReaderAt) (*Header, error) {
	fixed := make([]byte, headerFixedSize)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHeader, err)
	}
	if !bytes.Equal(fixed[:8], headerMagic[:]) {
		return nil, ErrNoHeader
	}
	count := binary.LittleEndian.Uint32(fixed[12:16])
	if count > MaxFiles {
		return nil, fmt.Errorf("%w: %d files", ErrBadHeader, count)
	}
	buf := make([]byte, headerFixedSize+int(count)*entrySize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: file table truncated. %v", ErrBadHeader, err)
	}
	return ParseHeader(buf)
}

// ParseHeader decodes a header whose file table is fully contained in b.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < headerFixedSize || !bytes.Equal(b[:8], headerMagic[:]) {
		return nil, ErrNoHeader
	}
	count := binary.LittleEndian.Uint32(b[12:16])
	if count > MaxFiles {
		return nil, fmt.Errorf("%w: %d files", ErrBadHeader, count)
	}
	if need := headerFixedSize + int(count)*entrySize; need > len(b) {
		return nil, fmt.Errorf("%w: file table needs %d bytes, have %d", ErrBadHeader, need, len(b))
	}

	var raw rawHeader
	if err := restruct.Unpack(b, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	h := &Header{Version: raw.Version, Flags: raw.Flags}
	for _, re := range raw.Entries {
		h.Entries = append(h.Entries, Entry{
			Name:     string(bytes.TrimRight(re.Name[:], "\x00")),
			Offset:   re.Offset,
			Length:   re.Length,
			Expanded: re.Expanded,
			Method:   Method(re.Method),
			CRC32:    re.CRC32,
		})
	}
	return h, nil
}

// EncodeHeader serializes h in the package layout.
func EncodeHeader(h *Header) ([]byte, error) {
	raw := rawHeader{
		Magic:     headerMagic,
		Version:   h.Version,
		Flags:     h.Flags,
		FileCount: uint32(len(h.Entries)),
	}
	for _, e := range h.Entries {
		var re rawEntry
		if len(e.Name) > len(re.Name) {
			return nil, fmt.Errorf("entry name %q longer than %d bytes", e.Name, len(re.Name))
		}
		copy(re.Name[:], e.Name)
		re.Offset, re.Length, re.Expanded = e.Offset, e.Length, e.Expanded
		re.Method, re.CRC32 = uint16(e.Method), e.CRC32
		raw.Entries = append(raw.Entries, re)
	}
	return restruct.Pack(binary.LittleEndian, &raw)
}
