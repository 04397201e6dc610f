package exec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashing. The version suffix
// enables future algorithm migration without ambiguity.
const (
	DomainEvent      = "helmsman/event/v1"
	DomainCheckpoint = "helmsman/checkpoint/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + data. The null
// separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventHash computes the content-addressed hash of one history event.
// Identical (execution, seq, kind, name, outcome, payload) always produce
// the same hash, which is what makes golden decision traces stable.
func EventHash(key string, seq int64, kind, name, outcome string, payload Payload) (string, error) {
	obj := Payload{
		"execution": key,
		"seq":       seq,
		"kind":      kind,
		"name":      name,
		"outcome":   outcome,
	}
	if payload != nil {
		obj["payload"] = payload
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("event hash: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// CheckpointHash computes the integrity hash of a checkpoint's data batch.
// Recorded alongside the checkpoint so a resumed run can detect a batch
// that changed underneath it.
func CheckpointHash(executionKey string, index int64, batch Payload) (string, error) {
	obj := Payload{
		"execution": executionKey,
		"index":     index,
		"batch":     batch,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("checkpoint hash: %w", err)
	}
	return hashWithDomain(DomainCheckpoint, canonical), nil
}
