// Package probe opens extracted payloads that are containers this tool can
// read and summarizes them in one line. It is a post-extraction check only.
package probe

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/javi11/sevenzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
)

var ErrUnsupported = errors.New("no reader for this format")

// Supported reports whether Probe has a reader for path's extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".7z", ".zip", ".gz", ".xz", ".bz2":
		return true
	}
	return false
}

// Probe opens path on fs with the reader matching its extension.
func Probe(fs afero.Fs, path string) (string, error) {
	if !Supported(path) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".7z":
		return sevenZip(f, fi.Size())
	case ".zip":
		return zipArchive(f, fi.Size())
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("unable to open gzip stream. %w", err)
		}
		defer zr.Close()
		return stream("gzip", zr)
	case ".xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("unable to open xz stream. %w", err)
		}
		return stream("xz", xr)
	default:
		return stream("bzip2", bzip2.NewReader(f))
	}
}

func sevenZip(r io.ReaderAt, size int64) (string, error) {
	sz, err := sevenzip.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("unable to open 7z archive. %w", err)
	}
	return fmt.Sprintf("7z archive, %d entries", len(sz.File)), nil
}

func zipArchive(r io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("unable to open zip archive. %w", err)
	}
	return fmt.Sprintf("zip archive, %d entries", len(zr.File)), nil
}

func stream(format string, r io.Reader) (string, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", fmt.Errorf("unable to decompress %s stream. %w", format, err)
	}
	return fmt.Sprintf("%s stream, %d bytes decompressed", format, n), nil
}
