package sniff

// Format tags double as file extensions (without the dot).
const (
	Format7z   = "7z"
	FormatBz2  = "bz2"
	FormatGz   = "gz"
	FormatCab  = "cab"
	FormatZip  = "zip"
	FormatRar  = "rar"
	FormatUha  = "uha"
	FormatXz   = "xz"
	FormatBin  = "bin"
	FormatPng  = "png"
	FormatGif  = "gif"
	FormatJpg  = "jpg"
	FormatBmp  = "bmp"
	FormatHTML = "html"

	// FormatSFX tags the 7-Zip SFX script marker. It is never reported to callers
	// of Find; the archive following the script is reported instead.
	FormatSFX = "sfx"
)

var (
	sfxMarker     = []byte(";!@Install@!UTF-8!")
	sfxTerminator = []byte(";!@InstallEnd@!")
)

// archiveSignatures is shared by the overlay and resource tables. Order matters:
// the SFX marker is tested before the 7z magic, and RAR5 before RAR4.
var archiveSignatures = []Signature{
	{Magic: sfxMarker, Format: FormatSFX},
	{Magic: []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}, Format: Format7z},
	{Magic: []byte{0x42, 0x5A, 0x68}, Format: FormatBz2},
	{Magic: []byte{0x1F, 0x8B, 0x08}, Format: FormatGz},
	{Magic: []byte{0x4D, 0x53, 0x43, 0x46}, Format: FormatCab},
	{Magic: []byte{0x50, 0x4B, 0x03, 0x04}, Format: FormatZip},
	{Magic: []byte{0x50, 0x4B, 0x05, 0x06}, Format: FormatZip}, // empty archive
	{Magic: []byte{0x50, 0x4B, 0x07, 0x08}, Format: FormatZip}, // spanned archive
	{Magic: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}, Format: FormatRar},
	{Magic: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}, Format: FormatRar},
	{Magic: []byte{0x55, 0x48, 0x41, 0x06}, Format: FormatUha},
	{Magic: []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}, Format: FormatXz},
	{Magic: []byte{0x4D, 0x5A}, Format: FormatBin},
}

// Overlay is the table used for data appended after the image.
var Overlay = Set{
	Name:       "overlay",
	Horizon:    DefaultHorizon,
	Signatures: archiveSignatures,
}

// Resource extends Overlay with formats that commonly live in resources.
var Resource = Set{
	Name:    "resource",
	Horizon: DefaultHorizon,
	Signatures: append(append([]Signature{}, archiveSignatures...),
		Signature{Magic: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, Format: FormatPng},
		Signature{Magic: []byte("GIF8"), Format: FormatGif},
		Signature{Magic: []byte{0xFF, 0xD8, 0xFF}, Format: FormatJpg},
		Signature{Magic: []byte("BM"), Format: FormatBmp},
		Signature{Magic: []byte("<!DOCTYPE html"), Format: FormatHTML},
		Signature{Magic: []byte("<html"), Format: FormatHTML},
		Signature{Magic: []byte("<HTML"), Format: FormatHTML},
	),
}
