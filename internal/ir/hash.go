package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainHandles = "sealgauge/handles/v1"
	DomainEvent   = "sealgauge/event/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain || 0x00 || data)
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// HandlesDigest commits to an ordered list of ciphertext handles.
//
// Each handle is length-prefixed (uint64 big endian) so that no two distinct
// lists share an encoding. The digest is stored with the request and signed
// over by the oracle, binding a callback to exactly the ciphertexts it opened.
func HandlesDigest(handles [][]byte) string {
	var buf []byte
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(handles)))
	buf = append(buf, n[:]...)
	for _, h := range handles {
		binary.BigEndian.PutUint64(n[:], uint64(len(h)))
		buf = append(buf, n[:]...)
		buf = append(buf, h...)
	}
	return hex.EncodeToString(hashWithDomain(DomainHandles, buf))
}

// EventHash computes a stable hash of an event's logical content.
// At is excluded so that replays under a different wall clock hash equally.
func EventHash(ev Event) (string, error) {
	obj := map[string]any{
		"type": string(ev.Type),
		"seq":  ev.Seq,
	}
	if ev.RecordID != 0 {
		obj["record_id"] = int64(ev.RecordID)
	}
	if ev.RequestID != "" {
		obj["request_id"] = string(ev.RequestID)
	}
	if len(ev.Attrs) > 0 {
		obj["attrs"] = ev.Attrs
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	return hex.EncodeToString(hashWithDomain(DomainEvent, canonical)), nil
}
