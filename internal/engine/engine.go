// Package engine runs every extractor against one executable view and
// reduces their results to a single success flag.
package engine

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/cexe"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/common"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/installer"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/nested"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/overlay"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/resource"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

var extractorFactories = [...]common.ExtractorFactory{
	&overlay.Factory{},
	&resource.Factory{},
	&cexe.Factory{},
	&installer.Factory{},
	&nested.Factory{},
}

type Options struct {
	// OutputDir is the root every output file is written under.
	OutputDir string
	// Fs receives the output; nil means the OS filesystem.
	Fs afero.Fs
	// InputFs is used to find sibling input files; nil means the OS filesystem.
	InputFs afero.Fs
	// SniffHorizon overrides the default sniffing horizon when positive.
	SniffHorizon int
}

func (o Options) extractorOptions() common.Options {
	return common.Options{SniffHorizon: o.SniffHorizon, InputFs: o.InputFs}
}

// Report is the outcome of one extractor.
type Report struct {
	Extractor string
	common.Result
}

// Extractors builds every known extractor for v.
func Extractors(v *view.Executable, opts Options) []common.Extractor {
	var extractors []common.Extractor
	for _, factory := range extractorFactories {
		extractors = append(extractors, factory.Build(v, opts.extractorOptions()))
	}
	return extractors
}

// Identify returns the extractors that recognize something in v.
func Identify(v *view.Executable, opts Options) []common.Extractor {
	var found []common.Extractor
	for _, x := range Extractors(v, opts) {
		if canExtract(x) {
			found = append(found, x)
		}
	}
	return found
}

// Run executes every extractor in order and returns one report each. A
// panicking extractor is reported as failed and the others still run.
func Run(v *view.Executable, opts Options) []Report {
	w := output.NewWriter(opts.Fs, opts.OutputDir)
	var reports []Report
	for _, x := range Extractors(v, opts) {
		res := run(x, w)
		if res.Err != nil {
			logger.Debug("Extractor reported errors", "extractor", x.Name(), "path", v.Path, "error", res.Err)
		}
		reports = append(reports, Report{Extractor: x.Name(), Result: res})
	}
	return reports
}

// Extract reports whether any extractor produced output.
func Extract(v *view.Executable, opts Options) bool {
	return Extracted(Run(v, opts))
}

func Extracted(reports []Report) bool {
	for _, r := range reports {
		if r.Extracted {
			return true
		}
	}
	return false
}

func run(x common.Extractor, w *output.Writer) (res common.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("Extractor panicked", "extractor", x.Name(), "panic", r)
			res = common.Result{Err: fmt.Errorf("%s: recovered from panic: %v", x.Name(), r)}
		}
	}()
	return x.Extract(w)
}

func canExtract(x common.Extractor) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return x.CanExtract()
}
