package esp

import (
	"fmt"

	"github.com/sigurn/crc16"
)

const (
	// ImageMagic is the first byte of an ESP image header. A file starting with
	// it is a merged image containing bootloader, partition table and app.
	ImageMagic byte = 0xe9

	MergedImageAddress  uint32 = 0x0
	AppOnlyImageAddress uint32 = 0x10000

	FlashSectorSize = 0x1000
	FlashBlockSize  = 0x400
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Image is an immutable firmware buffer plus what can be derived from it.
type Image struct {
	data   []byte
	merged bool
}

// NewImage validates data and copies it. Empty images are rejected before
// any device interaction happens.
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img := &Image{data: make([]byte, len(data))}
	copy(img.data, data)
	img.merged = img.data[0] == ImageMagic
	return img, nil
}

func (img *Image) Len() int { return len(img.data) }

// Bytes returns the image contents. Callers must not modify them.
func (img *Image) Bytes() []byte { return img.data }

// IsMerged reports whether the image carries bootloader and partition table.
func (img *Image) IsMerged() bool { return img.merged }

// CRC16 is a short fingerprint of the image for logs and status lines.
func (img *Image) CRC16() uint16 {
	return crc16.Checksum(img.data, crcTable)
}

func (img *Image) Kind() string {
	if img.merged {
		return "merged"
	}
	return "app-only"
}

func (img *Image) String() string {
	return fmt.Sprintf("%s image, %d bytes, CRC %#04x", img.Kind(), len(img.data), img.CRC16())
}

// Region is the single write region derived from an image.
type Region struct {
	Address uint32
	Length  int
	// FullErase is only ever set for merged images. App-only images rely on
	// the sector erase done by each block write so the bootloader survives.
	FullErase bool
}

func (r Region) End() uint32 { return r.Address + uint32(r.Length) }

func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x) full erase: %v", r.Address, r.End(), r.FullErase)
}

func (img *Image) Layout() Region {
	if img.merged {
		return Region{Address: MergedImageAddress, Length: len(img.data), FullErase: true}
	}
	return Region{Address: AppOnlyImageAddress, Length: len(img.data)}
}

// Chunk is one contiguous slice of the image written by a single WriteChunk.
type Chunk struct {
	Address uint32
	Data    []byte
}

// Chunks splits the image into consecutive chunks of at most size bytes, in
// increasing address order, covering the layout region exactly once. size is
// rounded down to whole flash blocks so no block straddles two chunks.
func (img *Image) Chunks(size int) []Chunk {
	if size < FlashBlockSize {
		size = FlashBlockSize
	}
	size -= size % FlashBlockSize

	region := img.Layout()
	chunks := make([]Chunk, 0, (len(img.data)+size-1)/size)
	for off := 0; off < len(img.data); off += size {
		end := off + size
		if end > len(img.data) {
			end = len(img.data)
		}
		chunks = append(chunks, Chunk{
			Address: region.Address + uint32(off),
			Data:    img.data[off:end],
		})
	}
	return chunks
}
