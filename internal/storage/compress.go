package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Content blobs are stored as a framed lz4 block:
// 8-byte magic "ttLz4b0\x00", 1 encoding byte (0 raw, 1 lz4),
// 4-byte LE uint32 uncompressed size, then the block data.
var contentMagic = []byte("ttLz4b0\x00")

const (
	frameHeaderSize = 13 // 8 magic + 1 encoding + 4 size

	encRaw = 0x00
	encLz4 = 0x01
)

// compressContent frames and compresses page text for storage.
func compressContent(text string) ([]byte, error) {
	src := []byte(text)
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("compress content: %w", err)
	}

	enc := byte(encLz4)
	if n == 0 {
		// CompressBlock reports incompressible input as n == 0.
		enc = encRaw
		buf = src
		n = len(src)
	}

	out := make([]byte, 0, frameHeaderSize+n)
	out = append(out, contentMagic...)
	out = append(out, enc)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(src)))
	out = append(out, size[:]...)
	return append(out, buf[:n]...), nil
}

// decompressContent reverses compressContent.
func decompressContent(data []byte) (string, error) {
	if len(data) < frameHeaderSize {
		return "", fmt.Errorf("content frame too short (%d bytes)", len(data))
	}
	for i := range contentMagic {
		if data[i] != contentMagic[i] {
			return "", fmt.Errorf("invalid content frame magic")
		}
	}

	enc := data[8]
	size := binary.LittleEndian.Uint32(data[9:13])
	block := data[frameHeaderSize:]

	switch enc {
	case encRaw:
		return string(block), nil
	case encLz4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(block, dst)
		if err != nil {
			return "", fmt.Errorf("decompress content: %w", err)
		}
		return string(dst[:n]), nil
	default:
		return "", fmt.Errorf("unknown content encoding 0x%02x", enc)
	}
}
