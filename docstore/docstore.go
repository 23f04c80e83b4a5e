// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package docstore persists uploaded documents for the lifetime of a
// session. Documents are content-addressed by BLAKE3 hash, so the id
// in a new_pdf broadcast is also an integrity check, and storing the
// same document twice is free. Payloads are compressed on disk; the
// algorithm is recorded per file, so a store directory survives a
// config change.
package docstore

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression selects the on-disk codec.
type Compression uint8

const (
	// CompressionNone stores raw bytes. For typical PDFs (already
	// deflate-compressed internally) this is often the right call.
	CompressionNone Compression = 0

	// CompressionLZ4 is block-mode LZ4: cheap, modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level: better ratio,
	// still fast. The default.
	CompressionZstd Compression = 2
)

// ParseCompression maps a config string to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("docstore: unknown compression %q", name)
	}
}

// headerLength is the per-file header: 1 byte compression tag + 8
// bytes big-endian uncompressed length.
const headerLength = 9

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("docstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("docstore: zstd decoder initialization failed: " + err.Error())
	}
}

// Store is a directory of content-addressed documents. Safe for
// concurrent use: writes go through a temp file + rename, and a
// content-addressed file never changes after creation.
type Store struct {
	dir         string
	compression Compression
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, compression Compression) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: creating %s: %w", dir, err)
	}
	return &Store{dir: dir, compression: compression}, nil
}

// Put stores data and returns its content id (hex BLAKE3 digest).
// Storing bytes already present is a no-op returning the same id.
func (s *Store) Put(data []byte) (string, error) {
	digest := blake3.Sum256(data)
	id := hex.EncodeToString(digest[:])
	path := filepath.Join(s.dir, id)

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	payload, tag, err := compress(data, s.compression)
	if err != nil {
		return "", fmt.Errorf("docstore: compressing %s: %w", id, err)
	}

	file := make([]byte, headerLength+len(payload))
	file[0] = byte(tag)
	binary.BigEndian.PutUint64(file[1:headerLength], uint64(len(data)))
	copy(file[headerLength:], payload)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, file, 0o644); err != nil {
		return "", fmt.Errorf("docstore: writing %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("docstore: publishing %s: %w", id, err)
	}
	return id, nil
}

// Get returns the document bytes for id, verifying the content hash.
func (s *Store) Get(id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	file, err := os.ReadFile(filepath.Join(s.dir, id))
	if err != nil {
		return nil, fmt.Errorf("docstore: reading %s: %w", id, err)
	}
	if len(file) < headerLength {
		return nil, fmt.Errorf("docstore: %s: truncated header", id)
	}

	tag := Compression(file[0])
	size := binary.BigEndian.Uint64(file[1:headerLength])
	data, err := decompress(file[headerLength:], tag, int(size))
	if err != nil {
		return nil, fmt.Errorf("docstore: %s: %w", id, err)
	}

	digest := blake3.Sum256(data)
	if hex.EncodeToString(digest[:]) != id {
		return nil, fmt.Errorf("docstore: %s: content hash mismatch", id)
	}
	return data, nil
}

// Delete removes the document for id. Missing documents are not an
// error.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("docstore: deleting %s: %w", id, err)
	}
	return nil
}

// validateID rejects ids that are not 64-character hex strings before
// they reach the filesystem.
func validateID(id string) error {
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("docstore: invalid document id %q", id)
	}
	return nil
}

func compress(data []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// Zero means incompressible; store raw instead of growing.
		if written == 0 || written >= len(data) {
			return data, CompressionNone, nil
		}
		return dst[:written], CompressionLZ4, nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression %d", c)
	}
}

func decompress(payload []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("raw payload is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil

	case CompressionLZ4:
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return dst, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag %d", c)
	}
}
