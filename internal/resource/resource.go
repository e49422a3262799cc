package resource

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/common"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/sniff"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

type Factory struct {
}

func (f *Factory) Build(v *view.Executable, opts common.Options) common.Extractor {
	return New(v, opts)
}

type Extractor struct {
	view *view.Executable
	set  sniff.Set
}

// Match is a recognized resource, Index being its position in the view.
type Match struct {
	Index    int
	Resource view.Resource
	Result   sniff.Result
}

func New(v *view.Executable, opts common.Options) *Extractor {
	return &Extractor{view: v, set: sniff.Resource.WithHorizon(opts.SniffHorizon)}
}

func (x *Extractor) Name() string {
	return "Resources"
}

// Role is the output role for the resource at index.
func Role(index int, r view.Resource) string {
	return fmt.Sprintf("embedded_resource_%d_%s", index, r.Key())
}

// Matches sniffs every non-empty resource independently.
func (x *Extractor) Matches() []Match {
	var matches []Match
	for i, r := range x.view.Resources {
		if len(r.Data) == 0 {
			continue
		}
		if res, ok := sniff.Find(r.Data, x.set); ok {
			matches = append(matches, Match{Index: i, Resource: r, Result: res})
		}
	}
	return matches
}

func (x *Extractor) Identified() (string, error) {
	matches := x.Matches()
	if len(matches) == 0 {
		return "", fmt.Errorf("no recognized payload in %d resource(s). %w", len(x.view.Resources), sniff.ErrNotFound)
	}
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "[+] Resource %s: %s payload at offset %d\n", m.Resource.Key(), m.Result.Format, m.Result.Offset)
	}
	return sb.String(), nil
}

func (x *Extractor) CanExtract() bool {
	return len(x.Matches()) > 0
}

// Extract writes the tail of every recognized resource to its own file. A
// failure on one resource is recorded and the remaining ones still run.
func (x *Extractor) Extract(w *output.Writer) common.Result {
	var result common.Result
	var errs []error
	for _, m := range x.Matches() {
		path, err := x.extractOne(w, m)
		if err != nil {
			logger.Debug("Failed to extract resource", "path", x.view.Path, "resource", m.Resource.Key(), "error", err)
			errs = append(errs, fmt.Errorf("resource %s: %w", m.Resource.Key(), err))
			continue
		}
		logger.Info("Extracted resource payload", "resource", m.Resource.Key(), "format", m.Result.Format, "output", path)
		result.Extracted = true
		result.Files = append(result.Files, path)
	}
	result.Err = errors.Join(errs...)
	return result
}

func (x *Extractor) extractOne(w *output.Writer, m Match) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()
	name := output.Name(x.view.Path, Role(m.Index, m.Resource), m.Result.Extension())
	return w.Write(name, m.Resource.Data[m.Result.Offset:])
}
