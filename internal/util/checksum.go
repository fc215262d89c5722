package util

import (
	"encoding/json"
	"fmt"
	"hash/crc32"

	boterrors "github.com/devrev/tierbot/internal/errors"
)

// Checksums guard persisted entitlement documents and journal lines.
// CRC32 with the IEEE polynomial.

var crc32Table = crc32.MakeTable(crc32.IEEE)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// VerifyChecksum returns a CorruptedData error when data does not match
func VerifyChecksum(data []byte, expected uint32) error {
	if actual := ComputeChecksum(data); actual != expected {
		return boterrors.ChecksumMismatch(expected, actual)
	}
	return nil
}

// CanonicalChecksum encodes v as JSON and checksums the encoding.
// encoding/json sorts map keys, so equal values always hash equally.
func CanonicalChecksum(v interface{}) (uint32, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode for checksum: %w", err)
	}
	return ComputeChecksum(data), nil
}
