// Package builder loads target images from disk and converts them between
// the formats the loader understands.
package builder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/inhies/go-bytesize"
	"github.com/marcinbor85/gohex"
	"github.com/sigurn/crc16"
)

var (
	ErrEmptyImage    = errors.New("builder: image is empty")
	ErrImageTooLarge = errors.New("builder: image does not fit in RAM")
	ErrOutOfRange    = errors.New("builder: segment outside RAM")
)

// Format is an on-disk image format.
type Format int

const (
	FormatBinary Format = iota // raw bytes loaded at the RAM base
	FormatHex                  // Intel HEX with absolute addresses
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "bin"
	case FormatHex:
		return "hex"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatOf guesses the format of a file from its extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return FormatHex
	default:
		return FormatBinary
	}
}

var xmodem = crc16.MakeTable(crc16.CRC16_XMODEM)

// Image is a flat RAM image. Data[0] is loaded at Base.
type Image struct {
	Path   string
	Format Format
	Base   uint32
	Data   []byte
}

// Size returns the image size.
func (img *Image) Size() bytesize.ByteSize {
	return bytesize.New(float64(len(img.Data)))
}

// Checksum returns the CRC-16/XMODEM of the image contents.
func (img *Image) Checksum() uint16 {
	return crc16.Checksum(img.Data, xmodem)
}

// End returns the first address past the image.
func (img *Image) End() uint32 {
	return img.Base + uint32(len(img.Data))
}

// WriteHex writes the image as Intel HEX.
func (img *Image) WriteHex(w io.Writer) error {
	m := gohex.NewMemory()
	if err := m.AddBinary(img.Base, img.Data); err != nil {
		return fmt.Errorf("builder: %w", err)
	}
	return m.DumpIntelHex(w, 16)
}

// WriteBinary writes the raw image bytes.
func (img *Image) WriteBinary(w io.Writer) error {
	_, err := w.Write(img.Data)
	return err
}

// Load reads an image for a RAM of ramSize bytes at base. Binary images are
// placed at base; HEX images carry their own addresses, which must all fall
// inside RAM.
func Load(path string, base, ramSize uint32) (*Image, error) {
	img := &Image{Path: path, Format: FormatOf(path), Base: base}
	var err error
	switch img.Format {
	case FormatHex:
		img.Data, err = loadHex(path, base, ramSize)
	default:
		img.Data, err = readFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyImage, path)
	}
	if uint64(len(img.Data)) > uint64(ramSize) {
		return nil, fmt.Errorf("%w: %s is %s, RAM is %s", ErrImageTooLarge, path,
			img.Size(), bytesize.New(float64(ramSize)))
	}
	return img, nil
}

func loadHex(path string, base, ramSize uint32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := gohex.NewMemory()
	if err := m.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("builder: %s: %w", path, err)
	}
	var end uint64
	for _, seg := range m.GetDataSegments() {
		segEnd := uint64(seg.Address) + uint64(len(seg.Data))
		if seg.Address < base || segEnd > uint64(base)+uint64(ramSize) {
			return nil, fmt.Errorf("%w: %#08x+%d in %s", ErrOutOfRange, seg.Address, len(seg.Data), path)
		}
		end = max(end, segEnd-uint64(base))
	}
	if end == 0 {
		return nil, nil
	}
	return m.ToBinary(base, uint32(end), 0), nil
}
