package common

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

// Extractor recovers one kind of embedded payload from an executable view.
// Extract never panics and never returns a hard error; problems are reported
// in the Result so sibling extractors still run.
type Extractor interface {
	Name() string
	Identified() (string, error)
	CanExtract() bool
	Extract(*output.Writer) Result
}

type ExtractorFactory interface {
	Build(*view.Executable, Options) Extractor
}

// Options carries the settings shared by every extractor.
type Options struct {
	// SniffHorizon overrides the number of offsets the sniffer tries.
	SniffHorizon int
	// InputFs is used to open sibling files such as installer volumes.
	InputFs afero.Fs
}

func (o Options) Fs() afero.Fs {
	if o.InputFs == nil {
		return afero.NewOsFs()
	}
	return o.InputFs
}

type Result struct {
	Extracted bool
	Files     []string
	Err       error
}

func (r Result) String() string {
	var sb strings.Builder
	if r.Extracted {
		fmt.Fprintf(&sb, "extracted %d file(s)", len(r.Files))
	} else {
		sb.WriteString("nothing extracted")
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, " (%v)", r.Err)
	}
	return sb.String()
}
