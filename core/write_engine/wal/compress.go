package wal

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

// Compression selects how large entry payloads are packed inside a frame.
type Compression byte

const (
	CompressionNone   Compression = 0
	CompressionSnappy Compression = 1 // default
	CompressionLZ4    Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression maps a configuration value to a codec. Empty means snappy.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "snappy":
		return CompressionSnappy, nil
	case "none", "off":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("unknown journal compression %q", s)
	}
}

func compress(c Compression, in []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return in, nil
	case CompressionSnappy:
		return snappy.Encode(nil, in), nil
	case CompressionLZ4:
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

func decompress(c Compression, in []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return in, nil
	case CompressionSnappy:
		return snappy.Decode(nil, in)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(in)))
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}
