// Package crdt implements the mergeable document state the relay keeps
// per room. The state is a set of opaque update payloads addressed by
// content hash, so applying the same updates in any order, any number of
// times, converges: merging is set union, which is commutative and
// idempotent. Encode produces a deterministic byte form (payloads sorted
// by digest) that reconstructs an equivalent state when applied to an
// empty one.
package crdt

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyUpdate is returned for a zero-length update.
	ErrEmptyUpdate = errors.New("crdt: empty update")

	// ErrMalformedUpdate is returned when an update's framing is
	// inconsistent. The state is left untouched.
	ErrMalformedUpdate = errors.New("crdt: malformed update")
)

// Wire framing: an update is one or more frames, each a 4-byte
// big-endian payload length followed by the payload. A snapshot uses the
// same framing, so a snapshot is just a large update.
const frameHeaderSize = 4

// Payloads above this are rejected rather than trusted from the wire.
const maxPayloadSize = 16 * 1024 * 1024

type digest = [sha256.Size]byte

// State is one room's document state. Not safe for concurrent use; the
// owner serializes access.
type State struct {
	payloads map[digest][]byte
}

func NewState() *State {
	return &State{payloads: make(map[digest][]byte)}
}

// Apply merges an update into the state. The update is parsed fully
// before anything is committed: a malformed update changes nothing.
func (s *State) Apply(update []byte) error {
	payloads, err := SplitFrames(update)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		s.payloads[sha256.Sum256(p)] = p
	}
	return nil
}

// Encode returns a full snapshot of the state: every payload, framed,
// in digest order. Applying the result to an empty state reconstructs
// an equivalent state. Returns nil for an empty state.
func (s *State) Encode() []byte {
	if len(s.payloads) == 0 {
		return nil
	}

	digests := make([]digest, 0, len(s.payloads))
	total := 0
	for d, p := range s.payloads {
		digests = append(digests, d)
		total += frameHeaderSize + len(p)
	}
	sort.Slice(digests, func(i, j int) bool {
		return string(digests[i][:]) < string(digests[j][:])
	})

	out := make([]byte, 0, total)
	for _, d := range digests {
		out = AppendFrame(out, s.payloads[d])
	}
	return out
}

// Len returns the number of distinct payloads merged so far.
func (s *State) Len() int {
	return len(s.payloads)
}

// AppendFrame appends one framed payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// SplitFrames parses a framed update into its payloads, copying each
// out of the input buffer. The whole input must be consumed exactly.
func SplitFrames(update []byte) ([][]byte, error) {
	if len(update) == 0 {
		return nil, ErrEmptyUpdate
	}

	var payloads [][]byte
	for off := 0; off < len(update); {
		if off+frameHeaderSize > len(update) {
			return nil, fmt.Errorf("%w: truncated frame header at offset %d", ErrMalformedUpdate, off)
		}
		n := binary.BigEndian.Uint32(update[off : off+frameHeaderSize])
		off += frameHeaderSize

		if n == 0 {
			return nil, fmt.Errorf("%w: zero-length payload at offset %d", ErrMalformedUpdate, off)
		}
		if n > maxPayloadSize {
			return nil, fmt.Errorf("%w: payload length %d exceeds limit", ErrMalformedUpdate, n)
		}
		if off+int(n) > len(update) {
			return nil, fmt.Errorf("%w: payload overruns update (%d bytes declared, %d remain)", ErrMalformedUpdate, n, len(update)-off)
		}

		p := make([]byte, n)
		copy(p, update[off:off+int(n)])
		payloads = append(payloads, p)
		off += int(n)
	}
	return payloads, nil
}
