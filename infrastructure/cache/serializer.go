package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/HZeroxium/fleet-control/infrastructure/logging"
)

// gzip magic bytes distinguish compressed entries on the read path.
var gzipMagic = []byte{0x1f, 0x8b}

// Serializer encodes cache values as JSON, transparently gzip-compressing
// payloads at or above the threshold. Compression failure falls back to the
// uncompressed form with a warning; it never fails the write.
type Serializer struct {
	threshold int
	logger    *logging.Logger
}

// NewSerializer creates a Serializer. A threshold <= 0 disables compression.
func NewSerializer(threshold int, logger *logging.Logger) *Serializer {
	return &Serializer{threshold: threshold, logger: logger}
}

// Marshal encodes value, compressing when the serialized size reaches the threshold.
func (s *Serializer) Marshal(value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal cache value: %w", err)
	}
	if s.threshold <= 0 || len(raw) < s.threshold {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("cache compression failed, storing uncompressed")
		}
		return raw, nil
	}
	if err := zw.Close(); err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Warn("cache compression failed, storing uncompressed")
		}
		return raw, nil
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into out, detecting compressed entries by magic bytes.
func (s *Serializer) Unmarshal(data []byte, out interface{}) error {
	if len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("open gzip cache entry: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("decompress cache entry: %w", err)
		}
		data = raw
	}
	return json.Unmarshal(data, out)
}
