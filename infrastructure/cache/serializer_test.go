package cache

import (
	"bytes"
	"strings"
	"testing"
)

func TestSerializer_SmallValuesUncompressed(t *testing.T) {
	s := NewSerializer(1024, nil)

	data, err := s.Marshal(map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if bytes.HasPrefix(data, gzipMagic) {
		t.Error("small value should not be compressed")
	}

	var out map[string]string
	if err := s.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["a"] != "b" {
		t.Errorf("round trip mismatch: %v", out)
	}
}

func TestSerializer_LargeValuesCompressed(t *testing.T) {
	s := NewSerializer(64, nil)
	value := strings.Repeat("abcdefgh", 100)

	data, err := s.Marshal(value)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !bytes.HasPrefix(data, gzipMagic) {
		t.Fatal("expected gzip magic bytes on large value")
	}
	if len(data) >= len(value) {
		t.Errorf("compression did not shrink repetitive payload: %d >= %d", len(data), len(value))
	}

	var out string
	if err := s.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != value {
		t.Error("round trip mismatch on compressed value")
	}
}

func TestSerializer_ThresholdZeroDisablesCompression(t *testing.T) {
	s := NewSerializer(0, nil)

	data, err := s.Marshal(strings.Repeat("x", 4096))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if bytes.HasPrefix(data, gzipMagic) {
		t.Error("compression should be disabled at threshold 0")
	}
}

func TestSerializer_ReadsBothEncodings(t *testing.T) {
	compressing := NewSerializer(1, nil)
	plain := NewSerializer(0, nil)

	value := map[string]int{"n": 42}
	compressed, _ := compressing.Marshal(value)
	uncompressed, _ := plain.Marshal(value)

	for _, data := range [][]byte{compressed, uncompressed} {
		var out map[string]int
		if err := plain.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if out["n"] != 42 {
			t.Errorf("round trip mismatch: %v", out)
		}
	}
}
