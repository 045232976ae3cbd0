package journal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// DomainRecord prefixes record checksums. The version suffix leaves room
// for a future algorithm change.
const DomainRecord = "memstate/record/v2"

// Checksum computes the integrity hash stored with each entry.
//
// Format: SHA256(domain 0x00 seq(8 bytes BE) recordedAt(UnixNano, 8 bytes BE)
// commandID 0x00 payload).
// Binding the sequence number, timestamp and command ID catches records
// that were moved, spliced or re-dated, not just flipped bits.
func Checksum(seq int64, recordedAt time.Time, commandID string, payload []byte) string {
	var buf [8]byte

	h := sha256.New()
	h.Write([]byte(DomainRecord))
	h.Write([]byte{0x00})
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(recordedAt.UnixNano()))
	h.Write(buf[:])
	h.Write([]byte(commandID))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether e carries a valid checksum.
func (e Entry) Verify() bool {
	return e.Checksum == Checksum(e.Sequence, e.Timestamp, e.CommandID, e.Payload)
}
