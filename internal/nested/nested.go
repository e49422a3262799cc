// Package nested writes out the entries of a multi-file package attached to
// an executable. The file table is parsed by the view loader; this package
// only validates and extracts.
package nested

import (
	"errors"
	"fmt"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/common"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

var ErrOutOfBounds = errors.New("entry outside the package container")

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
	return "Nested package"
}

func (x *Extractor) Identified() (string, error) {
	pkg := x.view.Package
	if pkg == nil {
		return "", view.ErrNoPackage
	}
	return fmt.Sprintf("[+] Nested package: version %d, %d entr(ies) in %d bytes\n",
		pkg.Version, len(pkg.Entries), len(pkg.Container)), nil
}

func (x *Extractor) CanExtract() bool {
	return x.view.Package != nil && len(x.view.Package.Entries) > 0
}

// Slice returns the bytes of e within container, rejecting ranges that fall
// outside it or overflow.
func Slice(container []byte, e view.PackageEntry) ([]byte, error) {
	size := uint64(len(container))
	if e.Offset > size || e.Length > size-e.Offset {
		return nil, fmt.Errorf("%w: offset %d length %d, container %d bytes", ErrOutOfBounds, e.Offset, e.Length, size)
	}
	return container[e.Offset : e.Offset+e.Length], nil
}

// Extract writes every valid entry under its sanitized declared name. A
// view without a package is a successful no-op.
func (x *Extractor) Extract(w *output.Writer) common.Result {
	pkg := x.view.Package
	if pkg == nil {
		return common.Result{}
	}

	var (
		files []string
		errs  []error
	)
	for i, e := range pkg.Entries {
		path, err := extractOne(w, pkg.Container, e)
		if err != nil {
			logger.Debug("Skipping package entry", "index", i, "name", e.Name, "error", err)
			errs = append(errs, fmt.Errorf("entry %d %q: %w", i, e.Name, err))
			continue
		}
		logger.Info("Extracted package entry", "name", e.Name, "output", path)
		files = append(files, path)
	}
	return common.Result{Extracted: len(files) > 0, Files: files, Err: errors.Join(errs...)}
}

func extractOne(w *output.Writer, container []byte, e view.PackageEntry) (string, error) {
	data, err := Slice(container, e)
	if err != nil {
		return "", err
	}
	return w.Write(e.Name, data)
}
