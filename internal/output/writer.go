// Package output owns every filesystem write made by the extractors. Names
// coming from payloads are sanitized and joined under a single root, and files
// are replaced atomically so reruns never append to earlier output.
package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

type Writer struct {
	fs   afero.Fs
	root string
}

// NewWriter returns a writer rooted at root. A nil fs means the OS filesystem.
func NewWriter(fs afero.Fs, root string) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		root = "."
	}
	return &Writer{fs: fs, root: filepath.Clean(root)}
}

func (w *Writer) Root() string {
	return w.root
}

func (w *Writer) Fs() afero.Fs {
	return w.fs
}

// Path resolves rel under the root without touching the filesystem.
func (w *Writer) Path(rel string) (string, error) {
	return SafeJoin(w.root, rel)
}

// Write stores data at rel, creating parent directories and replacing any
// existing file. It returns the final path.
func (w *Writer) Write(rel string, data []byte) (string, error) {
	return w.WriteFrom(rel, bytes.NewReader(data))
}

// WriteFrom is Write for streamed content.
func (w *Writer) WriteFrom(rel string, r io.Reader) (string, error) {
	target, err := w.Path(rel)
	if err != nil {
		return "", err
	}
	if err := w.writeAtomic(target, r); err != nil {
		return "", err
	}
	return target, nil
}

func (w *Writer) writeAtomic(target string, r io.Reader) error {
	dir := filepath.Dir(target)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create output directory %s. %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")
	f, err := w.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("unable to create %s. %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		w.fs.Remove(tmp)
		return fmt.Errorf("unable to write %s. %w", target, err)
	}
	if err := f.Close(); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("unable to close %s. %w", target, err)
	}
	if err := w.fs.Rename(tmp, target); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("unable to replace %s. %w", target, err)
	}
	return nil
}

// Open opens a previously written file by its relative name.
func (w *Writer) Open(rel string) (afero.File, error) {
	p, err := w.Path(rel)
	if err != nil {
		return nil, err
	}
	return w.fs.Open(p)
}

// ReadFile reads a previously written file by its relative name.
func (w *Writer) ReadFile(rel string) ([]byte, error) {
	p, err := w.Path(rel)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(w.fs, p)
}

// Exists reports whether rel names an existing regular file.
func (w *Writer) Exists(rel string) bool {
	p, err := w.Path(rel)
	if err != nil {
		return false
	}
	fi, err := w.fs.Stat(p)
	return err == nil && !fi.IsDir()
}

// Copy duplicates src to dst, both relative to the root.
func (w *Writer) Copy(src, dst string) (string, error) {
	in, err := w.Open(src)
	if err != nil {
		return "", fmt.Errorf("unable to open %s. %w", src, err)
	}
	defer in.Close()
	return w.WriteFrom(dst, in)
}

// Rename moves src to dst, both relative to the root.
func (w *Writer) Rename(src, dst string) (string, error) {
	from, err := w.Path(src)
	if err != nil {
		return "", err
	}
	to, err := w.Path(dst)
	if err != nil {
		return "", err
	}
	if from == to {
		return to, nil
	}
	if err := w.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", fmt.Errorf("unable to create output directory for %s. %w", to, err)
	}
	if err := w.fs.Rename(from, to); err != nil {
		return "", fmt.Errorf("unable to move %s. %w", src, err)
	}
	return to, nil
}

// MkdirAll creates rel and its parents; existing directories are not an error.
func (w *Writer) MkdirAll(rel string) (string, error) {
	p, err := w.Path(rel)
	if err != nil {
		return "", err
	}
	if err := w.fs.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("unable to create directory %s. %w", p, err)
	}
	return p, nil
}
