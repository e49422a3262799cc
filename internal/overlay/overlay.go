package overlay

import (
	"errors"
	"fmt"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/common"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/sniff"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

const Role = "embedded_overlay"

var ErrNoOverlay = errors.New("executable has no overlay")

type Factory struct {
}

func (f *Factory) Build(v *view.Executable, opts common.Options) common.Extractor {
	return New(v, opts)
}

type Extractor struct {
	view *view.Executable
	set  sniff.Set
}

func New(v *view.Executable, opts common.Options) *Extractor {
	return &Extractor{view: v, set: sniff.Overlay.WithHorizon(opts.SniffHorizon)}
}

func (x *Extractor) Name() string {
	return "Overlay"
}

// Find sniffs the overlay, skipping over a 7-Zip SFX script when present.
func (x *Extractor) Find() (sniff.Result, error) {
	data := x.view.Overlay()
	if len(data) == 0 {
		return sniff.Result{}, ErrNoOverlay
	}
	res, ok := sniff.Find(data, x.set)
	if !ok {
		return sniff.Result{}, sniff.ErrNotFound
	}
	return res, nil
}

func (x *Extractor) Identified() (string, error) {
	res, err := x.Find()
	if err != nil {
		return "", fmt.Errorf("unable to identify overlay payload. %w", err)
	}
	return fmt.Sprintf("[+] Overlay: %s payload at overlay offset %d (file offset %d, %d bytes)\n",
		res.Format, res.Offset, x.view.OverlayOffset+int64(res.Offset), len(x.view.Overlay())-res.Offset), nil
}

func (x *Extractor) CanExtract() bool {
	_, err := x.Find()
	return err == nil
}

// Extract writes the overlay from the detected offset to its end. An empty
// or unrecognized overlay is not an error.
func (x *Extractor) Extract(w *output.Writer) common.Result {
	res, err := x.Find()
	if errors.Is(err, ErrNoOverlay) || errors.Is(err, sniff.ErrNotFound) {
		logger.Debug("No overlay payload", "path", x.view.Path, "reason", err)
		return common.Result{}
	}

	name := output.Name(x.view.Path, Role, res.Extension())
	path, err := w.Write(name, x.view.Overlay()[res.Offset:])
	if err != nil {
		logger.Debug("Failed to write overlay payload", "path", x.view.Path, "error", err)
		return common.Result{Err: fmt.Errorf("failed to write overlay payload. %w", err)}
	}
	logger.Info("Extracted overlay payload", "format", res.Format, "output", path)
	return common.Result{Extracted: true, Files: []string{path}}
}
