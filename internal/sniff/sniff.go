// Package sniff recognizes embedded payloads by comparing a small window of
// bytes against tables of magic signatures.
package sniff

import (
	"bytes"
	"errors"

	"golang.org/x/exp/slices"
)

// DefaultHorizon bounds how far into a buffer candidate offsets are tried, so
// that multi-gigabyte overlays are never scanned end to end.
const DefaultHorizon = 1024

// ErrNotFound reports a negative sniff. It is a result, not a failure.
var ErrNotFound = errors.New("no known signature found")

type Signature struct {
	Magic  []byte
	Format string
}

// Set is an ordered signature table. When two signatures match at the same
// offset the earlier one wins.
type Set struct {
	Name       string
	Horizon    int
	Signatures []Signature
}

type Result struct {
	Offset int
	Format string
}

// Extension returns the file extension, dot included, for the detected format.
func (r Result) Extension() string {
	return "." + r.Format
}

// WithHorizon returns a copy of the set scanning up to n offsets.
func (s Set) WithHorizon(n int) Set {
	if n > 0 {
		s.Horizon = n
	}
	return s
}

// Without returns a copy of the set lacking every signature tagged format.
func (s Set) Without(format string) Set {
	sigs := make([]Signature, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		if sig.Format != format {
			sigs = append(sigs, sig)
		}
	}
	s.Signatures = sigs
	return s
}

// Formats lists the distinct format tags of the set in table order.
func (s Set) Formats() []string {
	var out []string
	for _, sig := range s.Signatures {
		if !slices.Contains(out, sig.Format) {
			out = append(out, sig.Format)
		}
	}
	return out
}

func (s Set) horizon() int {
	if s.Horizon <= 0 {
		return DefaultHorizon
	}
	return s.Horizon
}

// Sniff returns the first offset below the horizon at which any signature of
// the set matches. A signature is only compared where it fits entirely in buf.
func Sniff(buf []byte, set Set) (Result, bool) {
	limit := min(set.horizon(), len(buf))
	for off := 0; off < limit; off++ {
		window := buf[off:]
		for _, sig := range set.Signatures {
			if len(sig.Magic) == 0 || len(sig.Magic) > len(window) {
				continue
			}
			if bytes.Equal(window[:len(sig.Magic)], sig.Magic) {
				return Result{Offset: off, Format: sig.Format}, true
			}
		}
	}
	return Result{}, false
}

// Find is Sniff with 7-Zip SFX handling: when the match is the SFX script
// marker, the archive is searched for after the script's terminator token.
func Find(buf []byte, set Set) (Result, bool) {
	res, ok := Sniff(buf, set)
	if !ok {
		return Result{}, false
	}
	if res.Format != FormatSFX {
		return res, true
	}
	return SkipSFX(buf, res, set)
}

// SkipSFX resumes sniffing immediately after the SFX terminator that follows
// the marker found at res. The returned offset is relative to buf.
func SkipSFX(buf []byte, res Result, set Set) (Result, bool) {
	start := res.Offset + len(sfxMarker)
	if start > len(buf) {
		return Result{}, false
	}
	end := bytes.Index(buf[start:], sfxTerminator)
	if end < 0 {
		return Result{}, false
	}
	resume := start + end + len(sfxTerminator)

	next, ok := Sniff(buf[resume:], set.Without(FormatSFX))
	if !ok {
		return Result{}, false
	}
	next.Offset += resume
	return next, true
}
