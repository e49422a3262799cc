package output

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

var ErrUnsafePath = errors.New("unsafe output path")

// reserved device names that cannot be used as file names on Windows
var reservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// Stem returns the sanitized base name of source without its extension, or
// "input" when nothing usable remains.
func Stem(source string) string {
	base := path.Base(strings.ReplaceAll(source, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	clean, err := SanitizeComponent(base)
	if err != nil {
		return "input"
	}
	return clean
}

// Name builds the deterministic output name <stem>-<role><ext>.
func Name(source, role, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s-%s%s", Stem(source), role, ext)
}

// SanitizeComponent makes a single path component safe to create on any
// common filesystem. Traversal components and empty names are rejected.
func SanitizeComponent(name string) (string, error) {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			sb.WriteRune('_')
		case strings.ContainsRune(`<>:"|?*/\`, r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}
	clean := strings.TrimRight(strings.TrimSpace(sb.String()), ". ")
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	upper := strings.ToUpper(clean)
	if i := strings.IndexByte(upper, '.'); i >= 0 {
		upper = upper[:i]
	}
	if slices.Contains(reservedNames, upper) {
		clean = "_" + clean
	}
	return clean, nil
}

// SafeJoin joins an untrusted relative name under root. Both '/' and '\' are
// separators; absolute names, drive letters and ".." components are refused.
func SafeJoin(root, rel string) (string, error) {
	parts, err := SplitRelative(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{root}, parts...)...), nil
}

// SplitRelative validates rel and returns its sanitized components.
func SplitRelative(rel string) ([]string, error) {
	norm := strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(norm, "/") {
		return nil, fmt.Errorf("%w: absolute name %q", ErrUnsafePath, rel)
	}
	if len(norm) >= 2 && norm[1] == ':' {
		return nil, fmt.Errorf("%w: drive-qualified name %q", ErrUnsafePath, rel)
	}

	var parts []string
	for _, comp := range strings.Split(norm, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			return nil, fmt.Errorf("%w: traversal in %q", ErrUnsafePath, rel)
		}
		clean, err := SanitizeComponent(comp)
		if err != nil {
			return nil, err
		}
		parts = append(parts, clean)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty name %q", ErrUnsafePath, rel)
	}
	return parts, nil
}
