package installer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
)

// maxVolumes bounds the sibling search; names run .w02 to .w99.
const maxVolumes = 99

var ErrOutOfBounds = errors.New("offset outside the logical stream")

type volume struct {
	name   string
	r      io.ReaderAt
	size   int64
	closer io.Closer
}

// Volumes presents ordered parts as one seekable logical stream. Read and
// Seek share a cursor; every read repositions it under the lock so
// concurrent readers never interleave a seek with another's read.
type Volumes struct {
	mu     sync.Mutex
	parts  []volume
	starts []int64
	size   int64
	pos    int64
}

func NewVolumes() *Volumes {
	return &Volumes{}
}

// Add appends a part. closer may be nil for parts the caller owns.
func (v *Volumes) Add(name string, r io.ReaderAt, size int64, closer io.Closer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.parts = append(v.parts, volume{name: name, r: r, size: size, closer: closer})
	v.starts = append(v.starts, v.size)
	v.size += size
}

// SiblingName returns the n-th volume name for source, e.g. setup.w02.
func SiblingName(source string, n int) string {
	ext := filepath.Ext(source)
	return fmt.Sprintf("%s.w%02d", strings.TrimSuffix(source, ext), n)
}

// OpenVolumes builds the logical stream for a package that starts in first.
// Sibling volumes next to source are appended in order until one is missing.
func OpenVolumes(fs afero.Fs, source string, first io.ReaderAt, firstSize int64) (*Volumes, error) {
	v := NewVolumes()
	v.Add(source, first, firstSize, nil)
	if source == "" {
		return v, nil
	}
	for n := 2; n <= maxVolumes; n++ {
		name := SiblingName(source, n)
		fi, err := fs.Stat(name)
		if err != nil || fi.IsDir() {
			break
		}
		f, err := fs.Open(name)
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("unable to open volume %s. %w", name, err)
		}
		logger.Debug("Found installer volume", "volume", name, "size", fi.Size())
		v.Add(name, f, fi.Size(), f)
	}
	return v, nil
}

// Count is the number of parts.
func (v *Volumes) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.parts)
}

func (v *Volumes) Size() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size
}

// Locate maps a logical offset to a part index and an offset inside it.
func (v *Volumes) Locate(off int64) (int, int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locate(off)
}

func (v *Volumes) locate(off int64) (int, int64, error) {
	if off < 0 || off >= v.size {
		return 0, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfBounds, off, v.size)
	}
	// last part starting at or before off; empty parts are never chosen
	i := sort.Search(len(v.starts), func(i int) bool { return v.starts[i] > off }) - 1
	return i, off - v.starts[i], nil
}

func (v *Volumes) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.read(p)
}

func (v *Volumes) Seek(offset int64, whence int) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seek(offset, whence)
}

// ReadAt seeks to off and reads as one critical section, then restores the
// shared cursor.
func (v *Volumes) ReadAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	saved := v.pos
	defer func() { v.pos = saved }()
	if _, err := v.seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := v.read(p)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (v *Volumes) seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = v.pos + offset
	case io.SeekEnd:
		abs = v.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrOutOfBounds, abs)
	}
	v.pos = abs
	return abs, nil
}

func (v *Volumes) read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if v.pos >= v.size {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		i, local, err := v.locate(v.pos)
		if err != nil {
			return n, err
		}
		part := v.parts[i]
		want := min(int64(len(p)-n), part.size-local)
		m, err := part.r.ReadAt(p[n:n+int(want)], local)
		n += m
		v.pos += int64(m)
		if err != nil && !(errors.Is(err, io.EOF) && int64(m) == want) {
			return n, fmt.Errorf("unable to read volume %s. %w", part.name, err)
		}
		if m == 0 {
			return n, io.ErrUnexpectedEOF
		}
	}
	return n, nil
}

// Close closes every part opened by OpenVolumes.
func (v *Volumes) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var errs []error
	for i := range v.parts {
		if c := v.parts[i].closer; c != nil {
			errs = append(errs, c.Close())
			v.parts[i].closer = nil
		}
	}
	return errors.Join(errs...)
}
