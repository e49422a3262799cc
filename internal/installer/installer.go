// Package installer recovers files from a scripted installer package. The
// package header either follows the section table in the overlay, with its
// data optionally continued in sibling volumes, or sits at the start of a
// dedicated image section.
package installer

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/JoshVarga/blast"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/cexe"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/common"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/sniff"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

const (
	// SectionName is the image section carrying an embedded header.
	SectionName = ".ipkg"
	// HeaderHorizon bounds the search for the header after the section table.
	HeaderHorizon = 64 << 10
)

var headerSet = sniff.Set{
	Name:       "installer",
	Horizon:    HeaderHorizon,
	Signatures: []sniff.Signature{{Magic: headerMagic[:], Format: "ispk"}},
}

var (
	ErrChecksum  = errors.New("checksum mismatch")
	ErrBadLength = errors.New("decompressed length mismatch")
)

type Factory struct {
}

func (f *Factory) Build(v *view.Executable, opts common.Options) common.Extractor {
	return New(v, opts.Fs())
}

type Extractor struct {
	view *view.Executable
	fs   afero.Fs
}

// New returns an extractor that opens sibling volumes through fs.
func New(v *view.Executable, fs afero.Fs) *Extractor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Extractor{view: v, fs: fs}
}

func (x *Extractor) Name() string {
	return "Installer"
}

// Locate returns the file offset of a package header following the section
// table.
func (x *Extractor) Locate() (int64, error) {
	start := x.view.SectionTableEnd
	if start < 0 || start >= x.view.Len() {
		return 0, ErrNoHeader
	}
	res, ok := sniff.Sniff(x.view.Data[start:], headerSet)
	if !ok {
		return 0, ErrNoHeader
	}
	return start + int64(res.Offset), nil
}

func (x *Extractor) sectionHeader() ([]byte, *Header, error) {
	s, ok := x.view.Section(SectionName)
	if !ok {
		return nil, nil, ErrNoHeader
	}
	data := s.Data()
	h, err := ParseHeader(data)
	return data, h, err
}

func (x *Extractor) Identified() (string, error) {
	if off, err := x.Locate(); err == nil {
		h, err := ReadHeader(bytes.NewReader(x.view.Data[off:]))
		if err != nil {
			return "", fmt.Errorf("unable to read installer header at %d. %w", off, err)
		}
		return fmt.Sprintf("[+] Installer: package header at offset %d, %d file(s), multi-volume %t\n%s",
			off, len(h.Entries), h.MultiVolume(), h.describe()), nil
	}
	if _, h, err := x.sectionHeader(); err == nil {
		return fmt.Sprintf("[+] Installer: package header in section %s, %d file(s)\n%s",
			SectionName, len(h.Entries), h.describe()), nil
	}
	return "", ErrNoHeader
}

func (x *Extractor) CanExtract() bool {
	_, err := x.Identified()
	return err == nil
}

// Extract tries the overlay header first and the section header second;
// the first strategy that writes anything wins.
func (x *Extractor) Extract(w *output.Writer) common.Result {
	res := x.extractOverlay(w)
	if res.Extracted {
		return res
	}
	sec := x.extractSection(w)
	sec.Err = errors.Join(res.Err, sec.Err)
	return sec
}

func (x *Extractor) extractOverlay(w *output.Writer) common.Result {
	off, err := x.Locate()
	if err != nil {
		return common.Result{}
	}
	first := x.view.Data[off:]
	vols, err := OpenVolumes(x.fs, x.view.Path, bytes.NewReader(first), int64(len(first)))
	if err != nil {
		return common.Result{Err: err}
	}
	defer vols.Close()

	h, err := ReadHeader(vols)
	if err != nil {
		logger.Debug("Unreadable installer header", "path", x.view.Path, "offset", off, "error", err)
		return common.Result{Err: fmt.Errorf("failed to read installer header. %w", err)}
	}
	if h.MultiVolume() && vols.Count() == 1 {
		logger.Debug("Multi-volume installer without sibling volumes", "path", x.view.Path)
	}

	files, err := ExtractEntries(w, vols, vols.Size(), h)
	res := common.Result{Extracted: len(files) > 0, Files: files, Err: err}
	script, _ := w.Path(ScriptName)
	if !slices.Contains(files, script) {
		return res
	}

	scripted, moved, err := RunScript(w)
	kept := res.Files[:0]
	for _, f := range res.Files {
		if !slices.Contains(moved, f) {
			kept = append(kept, f)
		}
	}
	res.Files = append(kept, scripted...)
	res.Extracted = res.Extracted || len(scripted) > 0
	res.Err = errors.Join(res.Err, err)
	return res
}

func (x *Extractor) extractSection(w *output.Writer) common.Result {
	data, h, err := x.sectionHeader()
	if errors.Is(err, ErrNoHeader) {
		return common.Result{}
	}
	if err != nil {
		logger.Debug("Unreadable installer section header", "path", x.view.Path, "error", err)
		return common.Result{Err: fmt.Errorf("failed to read installer section header. %w", err)}
	}
	files, err := ExtractEntries(w, bytes.NewReader(data), int64(len(data)), h)
	return common.Result{Extracted: len(files) > 0, Files: files, Err: err}
}

// RunScript parses the extracted script stream and executes it. It returns
// the paths written and the paths moved away by the script.
func RunScript(w *output.Writer) ([]string, []string, error) {
	data, err := w.ReadFile(ScriptName)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read %s. %w", ScriptName, err)
	}
	s, perr := ParseScript(data)
	if s == nil {
		return nil, nil, perr
	}
	if perr != nil {
		logger.Debug("Running partial installer script", "error", perr)
	}
	in := NewInterpreter(w)
	files, err := in.Run(s)
	return files, in.Moved(), errors.Join(perr, err)
}

// ExtractEntries writes every entry of h read from src. Entries that fail
// bounds, decompression or checksum checks are skipped.
func ExtractEntries(w *output.Writer, src io.ReaderAt, size int64, h *Header) ([]string, error) {
	var (
		files []string
		errs  []error
	)
	for i, e := range h.Entries {
		data, err := ReadEntry(src, size, e)
		if err == nil {
			var path string
			path, err = w.Write(e.Name, data)
			if err == nil {
				logger.Info("Extracted installer file", "name", e.Name, "method", e.Method.String(), "output", path)
				files = append(files, path)
				continue
			}
		}
		logger.Debug("Skipping installer entry", "index", i, "name", e.Name, "error", err)
		errs = append(errs, fmt.Errorf("entry %d %q: %w", i, e.Name, err))
	}
	return files, errors.Join(errs...)
}

// ReadEntry reads and decodes one entry from a stream of the given size.
func ReadEntry(src io.ReaderAt, size int64, e Entry) ([]byte, error) {
	end := int64(e.Offset) + int64(e.Length)
	if end > size {
		return nil, fmt.Errorf("%w: [%d, %d) exceeds %d", ErrOutOfBounds, e.Offset, end, size)
	}
	packed := make([]byte, e.Length)
	if _, err := src.ReadAt(packed, int64(e.Offset)); err != nil && !(errors.Is(err, io.EOF) && e.Length == 0) {
		return nil, fmt.Errorf("unable to read entry data. %w", err)
	}

	data, err := decode(e, packed)
	if err != nil {
		return nil, err
	}
	if e.Expanded != 0 && uint32(len(data)) != e.Expanded {
		return nil, fmt.Errorf("%w: got %d, declared %d", ErrBadLength, len(data), e.Expanded)
	}
	if e.CRC32 != 0 {
		if sum := crc32.ChecksumIEEE(data); sum != e.CRC32 {
			return nil, fmt.Errorf("%w: %08x, declared %08x", ErrChecksum, sum, e.CRC32)
		}
	}
	return data, nil
}

func decode(e Entry, packed []byte) ([]byte, error) {
	switch e.Method {
	case MethodStored:
		return packed, nil
	case MethodDeflate:
		return cexe.Inflate(packed)
	case MethodImplode:
		return explode(packed, e.Expanded)
	default:
		return nil, fmt.Errorf("unsupported compression %s", e.Method)
	}
}

// explode decompresses PKWARE DCL imploded data.
func explode(packed []byte, expanded uint32) ([]byte, error) {
	r, err := blast.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("unable to open imploded stream. %w", err)
	}
	defer r.Close()

	limit := max(int64(len(packed))*cexe.MaxExpansion, 1<<20)
	if expanded != 0 {
		if int64(expanded) > limit {
			return nil, fmt.Errorf("%w: %d bytes from %d", cexe.ErrImplausible, expanded, len(packed))
		}
		out := make([]byte, expanded)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("unable to explode data. %w", err)
		}
		return out, nil
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(r, limit)); err != nil {
		return nil, fmt.Errorf("unable to explode data. %w", err)
	}
	return out.Bytes(), nil
}

func (h *Header) describe() string {
	var sb strings.Builder
	for _, e := range h.Entries {
		fmt.Fprintf(&sb, "    %-40s %8d bytes  %s\n", e.Name, e.Size(), e.Method)
	}
	return sb.String()
}
