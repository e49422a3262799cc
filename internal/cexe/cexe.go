// Package cexe recovers payloads embedded by the CExe self-extracting
// wrapper. The compressed payload lives in a numbered resource; a second
// resource marks builds whose stub carries an inflate routine.
package cexe

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/common"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

const (
	ResourceType       = 99
	DataResourceID     = 2
	InflaterResourceID = 1

	Role = "cexe"
	Ext  = ".bin"
)

// MaxExpansion bounds the inflated size relative to the input. Output past
// the bound is treated as implausible.
const (
	MaxExpansion  = 256
	minInflateCap = 64 << 20
)

type Method int

const (
	MethodLZ Method = iota
	MethodDeflate
)

func (m Method) String() string {
	switch m {
	case MethodLZ:
		return "LZ (SZDD)"
	case MethodDeflate:
		return "DEFLATE"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNoPayload   = errors.New("no CExe payload resource")
	ErrNoData      = errors.New("decompression produced no data")
	ErrImplausible = errors.New("decompressed size is implausible")
)

type Factory struct {
}

func (f *Factory) Build(v *view.Executable, _ common.Options) common.Extractor {
	return New(v)
}

type Extractor struct {
	view *view.Executable
}

func New(v *view.Executable) *Extractor {
	return &Extractor{view: v}
}

func (x *Extractor) Name() string {
	return "CExe"
}

// Payload returns the compressed resource and the method selected by the
// presence of the inflater marker resource.
func (x *Extractor) Payload() ([]byte, Method, error) {
	data, ok := x.view.FindResource(ResourceType, DataResourceID)
	if !ok || len(data.Data) == 0 {
		return nil, MethodLZ, ErrNoPayload
	}
	if _, ok := x.view.FindResource(ResourceType, InflaterResourceID); ok {
		return data.Data, MethodDeflate, nil
	}
	return data.Data, MethodLZ, nil
}

func (x *Extractor) Identified() (string, error) {
	data, method, err := x.Payload()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[+] CExe: %d compressed bytes, method %s\n", len(data), method), nil
}

func (x *Extractor) CanExtract() bool {
	_, _, err := x.Payload()
	return err == nil
}

// Decompress runs the selected method over data.
func Decompress(data []byte, method Method) ([]byte, error) {
	switch method {
	case MethodDeflate:
		return Inflate(data)
	case MethodLZ:
		return ExpandSZDD(data)
	default:
		return nil, fmt.Errorf("unknown method %d", method)
	}
}

// Inflate decompresses a zlib stream, or raw DEFLATE when data carries no
// zlib header. The output buffer grows with the stream instead of being
// sized up front.
func Inflate(data []byte) ([]byte, error) {
	var r io.ReadCloser
	if hasZlibHeader(data) {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("unable to open zlib stream. %w", err)
		}
		r = zr
	} else {
		r = flate.NewReader(bytes.NewReader(data))
	}
	defer r.Close()

	limit := max(int64(len(data))*MaxExpansion, minInflateCap)
	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("unable to inflate payload. %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes from %d", ErrImplausible, limit, len(data))
	}
	if n == 0 {
		return nil, ErrNoData
	}
	return out.Bytes(), nil
}

func hasZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	cmf, flg := b[0], b[1]
	return cmf&0x0F == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// Extract decompresses the payload and writes it under a fixed name. Any
// decompression failure means no data, never a panic.
func (x *Extractor) Extract(w *output.Writer) common.Result {
	data, method, err := x.Payload()
	if err != nil {
		return common.Result{}
	}

	plain, err := Decompress(data, method)
	if err != nil {
		logger.Debug("CExe decompression failed", "path", x.view.Path, "method", method.String(), "error", err)
		return common.Result{Err: fmt.Errorf("failed to decompress CExe payload. %w", err)}
	}

	path, err := w.Write(output.Name(x.view.Path, Role, Ext), plain)
	if err != nil {
		logger.Debug("Failed to write CExe payload", "path", x.view.Path, "error", err)
		return common.Result{Err: fmt.Errorf("failed to write CExe payload. %w", err)}
	}
	logger.Info("Extracted CExe payload", "method", method.String(), "output", path)
	return common.Result{Extracted: true, Files: []string{path}}
}
