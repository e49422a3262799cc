package cexe

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// SZDD container layout: magic, compression mode, missing last character of
// the original name, then the expanded length.
var szddMagic = []byte{'S', 'Z', 'D', 'D', 0x88, 0xF0, 0x27, 0x33}

const (
	szddHeaderSize = 14
	szddModeLZ     = 'A'

	windowSize = 4096
	windowMask = windowSize - 1
	// the first token is written 16 bytes before the end of the window
	windowStart = windowSize - 16
	minMatch    = 3
	maxMatch    = 18
)

var (
	ErrBadMagic = errors.New("bad SZDD magic")
	ErrBadMode  = errors.New("unsupported SZDD compression mode")
)

type SZDDHeader struct {
	Mode        byte
	MissingChar byte
	Length      uint32
}

// ParseSZDDHeader decodes the fixed 14-byte SZDD header.
func ParseSZDDHeader(b []byte) (SZDDHeader, error) {
	if len(b) < szddHeaderSize || !bytes.Equal(b[:len(szddMagic)], szddMagic) {
		return SZDDHeader{}, ErrBadMagic
	}
	h := SZDDHeader{
		Mode:        b[8],
		MissingChar: b[9],
		Length:      binary.LittleEndian.Uint32(b[10:14]),
	}
	if h.Mode != szddModeLZ {
		return h, fmt.Errorf("%w %q", ErrBadMode, h.Mode)
	}
	return h, nil
}

// LZReader streams the expansion of an SZDD container. It stops after the
// length declared in the header and reports io.ErrUnexpectedEOF when the
// compressed data ends first.
type LZReader struct {
	Header SZDDHeader

	src       *bufio.Reader
	window    [windowSize]byte
	pos       int
	control   byte
	bits      int
	buf       [maxMatch]byte
	pending   []byte
	remaining int64
	err       error
}

func NewLZReader(r io.Reader) (*LZReader, error) {
	src := bufio.NewReader(r)
	head := make([]byte, szddHeaderSize)
	n, err := io.ReadFull(src, head)
	if n >= len(szddMagic) && !bytes.Equal(head[:len(szddMagic)], szddMagic) {
		return nil, ErrBadMagic
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read SZDD header. %w", err)
	}
	h, err := ParseSZDDHeader(head)
	if err != nil {
		return nil, err
	}
	z := &LZReader{
		Header:    h,
		src:       src,
		pos:       windowStart,
		remaining: int64(h.Length),
	}
	for i := range z.window {
		z.window[i] = ' '
	}
	return z, nil
}

func (z *LZReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(z.pending) > 0 {
			c := copy(p[n:], z.pending)
			z.pending = z.pending[c:]
			n += c
			continue
		}
		if z.remaining == 0 {
			return n, io.EOF
		}
		if z.err != nil {
			return n, z.err
		}
		z.step()
	}
	return n, nil
}

func (z *LZReader) emit(b byte) {
	z.window[z.pos] = b
	z.pos = (z.pos + 1) & windowMask
	z.pending = append(z.pending, b)
	z.remaining--
}

// step decodes one token into pending.
func (z *LZReader) step() {
	z.pending = z.buf[:0]
	if z.bits == 0 {
		c, err := z.src.ReadByte()
		if err != nil {
			z.fail(err)
			return
		}
		z.control, z.bits = c, 8
	}
	literal := z.control&1 != 0
	z.control >>= 1
	z.bits--

	if literal {
		b, err := z.src.ReadByte()
		if err != nil {
			z.fail(err)
			return
		}
		z.emit(b)
		return
	}

	var pair [2]byte
	if _, err := io.ReadFull(z.src, pair[:]); err != nil {
		z.fail(err)
		return
	}
	match := int(pair[0]) | int(pair[1]&0xF0)<<4
	length := int(pair[1]&0x0F) + minMatch
	for i := 0; i < length && z.remaining > 0; i++ {
		z.emit(z.window[(match+i)&windowMask])
	}
}

func (z *LZReader) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	z.err = fmt.Errorf("SZDD stream ended with %d bytes missing. %w", z.remaining, err)
}

// ExpandSZDD decompresses a complete SZDD container held in memory. A
// container declaring no content yields ErrNoData.
func ExpandSZDD(data []byte) ([]byte, error) {
	z, err := NewLZReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if z.Header.Length == 0 {
		return nil, ErrNoData
	}
	out := bytes.NewBuffer(make([]byte, 0, min(int64(z.Header.Length), int64(len(data))*8)))
	if _, err := io.Copy(out, z); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
