package cexe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

// compressSZDD is a greedy LZSS encoder producing the container ExpandSZDD
// reads. Only back references into already written data are emitted.
func compressSZDD(plain []byte) []byte {
	var out bytes.Buffer
	out.Write(szddMagic)
	out.WriteByte(szddModeLZ)
	out.WriteByte('_')
	binary.Write(&out, binary.LittleEndian, uint32(len(plain)))

	var block []byte
	var control byte
	bit := 0
	flush := func() {
		out.WriteByte(control)
		out.Write(block)
		block, control, bit = block[:0], 0, 0
	}
	for i := 0; i < len(plain); {
		bestLen, bestPos := 0, 0
		for s := max(0, i-4000); s < i; s++ {
			l := 0
			for l < maxMatch && i+l < len(plain) && plain[s+l] == plain[i+l] {
				l++
			}
			if l > bestLen {
				bestLen, bestPos = l, s
			}
		}
		if bestLen >= minMatch {
			pos := (windowStart + bestPos) & windowMask
			block = append(block, byte(pos), byte((pos>>4)&0xF0)|byte(bestLen-minMatch))
			i += bestLen
		} else {
			control |= 1 << bit
			block = append(block, plain[i])
			i++
		}
		bit++
		if bit == 8 {
			flush()
		}
	}
	if bit > 0 {
		flush()
	}
	return out.Bytes()
}

func plaintext() []byte {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("The quick brown fox jumps over the lazy dog. ")
		sb.WriteByte(byte('A' + i%26))
	}
	return []byte(sb.String())
}

func TestSZDDRoundTrip(t *testing.T) {
	for _, plain := range [][]byte{plaintext(), []byte("ab"), bytes.Repeat([]byte{0}, 5000)} {
		packed := compressSZDD(plain)
		got, err := ExpandSZDD(packed)
		if err != nil {
			t.Fatalf("ExpandSZDD: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
		}
	}
}

func TestSZDDInitialWindowIsSpaces(t *testing.T) {
	// One back reference into the untouched window yields spaces.
	var data bytes.Buffer
	data.Write(szddMagic)
	data.WriteByte(szddModeLZ)
	data.WriteByte(0)
	binary.Write(&data, binary.LittleEndian, uint32(5))
	data.Write([]byte{0x00, 0x00, 0x02})
	got, err := ExpandSZDD(data.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "     " {
		t.Errorf("got %q, want five spaces", got)
	}
}

func TestSZDDErrors(t *testing.T) {
	if _, err := ExpandSZDD([]byte("KWAJ\x88\xF0\x27\xD1 nope")); !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}

	packed := compressSZDD(plaintext())
	bad := append([]byte{}, packed...)
	bad[8] = 'Q'
	if _, err := ExpandSZDD(bad); !errors.Is(err, ErrBadMode) {
		t.Errorf("err = %v, want ErrBadMode", err)
	}

	if _, err := ExpandSZDD(packed[:len(packed)/2]); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated stream err = %v, want io.ErrUnexpectedEOF", err)
	}
	if _, err := ExpandSZDD(packed[:10]); err == nil {
		t.Error("short header accepted")
	}
}

func TestSZDDShortInputWithForeignMagic(t *testing.T) {
	for _, in := range [][]byte{[]byte("KWAJ\x88\xF0\x27\xD1"), []byte("KWAJ\x88\xF0\x27\xD1 nope")} {
		if _, err := NewLZReader(bytes.NewReader(in)); !errors.Is(err, ErrBadMagic) {
			t.Errorf("NewLZReader(%q) err = %v, want ErrBadMagic", in, err)
		}
	}
	if _, err := NewLZReader(bytes.NewReader(szddMagic[:5])); errors.Is(err, ErrBadMagic) || err == nil {
		t.Errorf("5-byte prefix err = %v, want a short read", err)
	}
}

func emptySZDD() []byte {
	var data bytes.Buffer
	data.Write(szddMagic)
	data.WriteByte(szddModeLZ)
	data.WriteByte(0)
	binary.Write(&data, binary.LittleEndian, uint32(0))
	return data.Bytes()
}

func TestSZDDEmptyContainerProducesNoData(t *testing.T) {
	if got, err := ExpandSZDD(emptySZDD()); !errors.Is(err, ErrNoData) {
		t.Fatalf("ExpandSZDD = %d bytes, %v; want ErrNoData", len(got), err)
	}

	v := view.New("/in/x.exe", nil, nil, []view.Resource{
		{TypeID: ResourceType, NameID: DataResourceID, Data: emptySZDD()},
	})
	fs := afero.NewMemMapFs()
	res := New(v).Extract(output.NewWriter(fs, "/out"))
	if res.Extracted || len(res.Files) != 0 || !errors.Is(res.Err, ErrNoData) {
		t.Fatalf("Extract = %+v, want no data", res)
	}
	if ok, _ := afero.Exists(fs, "/out/x-cexe.bin"); ok {
		t.Error("empty payload written")
	}
}

func TestLZReaderSmallReads(t *testing.T) {
	plain := plaintext()
	z, err := NewLZReader(bytes.NewReader(compressSZDD(plain)))
	if err != nil {
		t.Fatal(err)
	}
	if z.Header.Length != uint32(len(plain)) || z.Header.MissingChar != '_' {
		t.Errorf("header = %+v", z.Header)
	}
	var got []byte
	buf := make([]byte, 7)
	for {
		n, err := z.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(got, plain) {
		t.Error("chunked read mismatch")
	}
}

func TestInflateRoundTrip(t *testing.T) {
	plain := plaintext()

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(plain)
	zw.Close()

	var fbuf bytes.Buffer
	fw, err := flate.NewWriter(&fbuf, flate.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(plain)
	fw.Close()

	for name, packed := range map[string][]byte{"zlib": zbuf.Bytes(), "raw": fbuf.Bytes()} {
		got, err := Inflate(packed)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("%s: round trip mismatch", name)
		}
	}
}

func TestInflateGrowsPastFourTimes(t *testing.T) {
	plain := bytes.Repeat([]byte("x"), 1<<20)
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(plain)
	zw.Close()
	if zbuf.Len()*4 >= len(plain) {
		t.Fatalf("fixture does not exceed a 4x ratio")
	}
	got, err := Inflate(zbuf.Bytes())
	if err != nil || len(got) != len(plain) {
		t.Fatalf("Inflate = %d bytes, %v", len(got), err)
	}
}

func TestInflateFailures(t *testing.T) {
	if _, err := Inflate([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Error("reserved block type accepted")
	}
	var fbuf bytes.Buffer
	fw, _ := flate.NewWriter(&fbuf, flate.DefaultCompression)
	fw.Close()
	if _, err := Inflate(fbuf.Bytes()); !errors.Is(err, ErrNoData) {
		t.Errorf("empty stream err = %v, want ErrNoData", err)
	}
}

func TestExtractSelectsMethodByMarker(t *testing.T) {
	plain := plaintext()
	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(plain)
	zw.Close()

	tests := []struct {
		name      string
		resources []view.Resource
		method    Method
	}{
		{
			name: "deflate with marker",
			resources: []view.Resource{
				{TypeID: ResourceType, NameID: InflaterResourceID, Data: []byte{1}},
				{TypeID: ResourceType, NameID: DataResourceID, Data: zbuf.Bytes()},
			},
			method: MethodDeflate,
		},
		{
			name: "lz without marker",
			resources: []view.Resource{
				{TypeID: ResourceType, NameID: DataResourceID, Data: compressSZDD(plain)},
			},
			method: MethodLZ,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := view.New("/in/wrapped.exe", nil, nil, tt.resources)
			x := New(v)
			_, method, err := x.Payload()
			if err != nil || method != tt.method {
				t.Fatalf("Payload method = %v, %v; want %v", method, err, tt.method)
			}

			fs := afero.NewMemMapFs()
			res := x.Extract(output.NewWriter(fs, "/out"))
			if !res.Extracted || len(res.Files) != 1 || res.Files[0] != "/out/wrapped-cexe.bin" {
				t.Fatalf("Extract = %+v", res)
			}
			got, _ := afero.ReadFile(fs, res.Files[0])
			if !bytes.Equal(got, plain) {
				t.Error("output mismatch")
			}
		})
	}
}

func TestExtractCorruptPayloadProducesNothing(t *testing.T) {
	v := view.New("/in/bad.exe", nil, nil, []view.Resource{
		{TypeID: ResourceType, NameID: InflaterResourceID, Data: []byte{1}},
		{TypeID: ResourceType, NameID: DataResourceID, Data: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	})
	fs := afero.NewMemMapFs()
	res := New(v).Extract(output.NewWriter(fs, "/out"))
	if res.Extracted || res.Err == nil {
		t.Fatalf("Extract = %+v, want failure without output", res)
	}
	if ok, _ := afero.Exists(fs, "/out/bad-cexe.bin"); ok {
		t.Error("output written for corrupt payload")
	}
}

func TestNotACExe(t *testing.T) {
	v := view.New("/in/x.exe", nil, nil, []view.Resource{{TypeID: 10, NameID: 2, Data: []byte("x")}})
	x := New(v)
	if x.CanExtract() {
		t.Error("CanExtract() = true without payload resource")
	}
	if _, err := x.Identified(); !errors.Is(err, ErrNoPayload) {
		t.Errorf("Identified err = %v", err)
	}
	if res := x.Extract(output.NewWriter(afero.NewMemMapFs(), "/out")); res.Extracted || res.Err != nil {
		t.Errorf("Extract = %+v", res)
	}
}
