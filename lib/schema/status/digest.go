// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/NaTo1000/infinite-server26/lib/codec"
)

// Digest is a 32-byte BLAKE3 digest of a snapshot.
//
// JSON uses 64-character lowercase hex text. CBOR uses a 32-byte
// binary string.
type Digest [32]byte

// snapshotDomainKey separates snapshot digests from any other BLAKE3
// use. ASCII "infinite-server26.snapshot", zero-padded to 32 bytes.
var snapshotDomainKey = [32]byte{
	'i', 'n', 'f', 'i', 'n', 'i', 't', 'e', '-', 's', 'e', 'r', 'v', 'e', 'r', '2',
	'6', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0, 0, 0, 0, 0, 0,
}

// digestInput is the part of a Snapshot the digest covers: everything
// except the digest itself.
type digestInput struct {
	Generation uint64                 `json:"generation"`
	Posture    Posture                `json:"posture"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Subsystems map[SubsystemID]Report `json:"subsystems"`
}

// ComputeDigest hashes the deterministic CBOR encoding of the
// snapshot's content. Two snapshots with equal content always have
// equal digests, regardless of map iteration order.
func ComputeDigest(snapshot *Snapshot) Digest {
	subsystems := snapshot.Subsystems
	if subsystems == nil {
		subsystems = map[SubsystemID]Report{}
	}
	encoded, err := codec.Marshal(digestInput{
		Generation: snapshot.Generation,
		Posture:    snapshot.Posture,
		UpdatedAt:  snapshot.UpdatedAt.UTC(),
		Subsystems: subsystems,
	})
	if err != nil {
		// Every field is a plain value type with a defined
		// encoding; failure here means the codec itself is broken.
		panic("status: snapshot encoding failed: " + err.Error())
	}

	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("status: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool { return d == Digest{} }

// String returns the 64-character lowercase hex representation.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := ParseDigest(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalCBOR implements cbor.Marshaler as a 32-byte byte string.
func (d Digest) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(d[:])
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (d *Digest) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid digest CBOR: %w", err)
	}
	if len(raw) != len(d) {
		return fmt.Errorf("invalid digest: expected %d bytes, got %d", len(d), len(raw))
	}
	copy(d[:], raw)
	return nil
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing snapshot digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("snapshot digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
