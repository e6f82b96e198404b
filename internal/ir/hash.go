package ir

import (
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainNode      = "weft/node/v1"
	DomainNodeEdges = "weft/node-edges/v1"
	DomainFunction  = "weft/function/v1"
)

// ContentHash is a BLAKE3-256 digest of semantic content.
type ContentHash [32]byte

// String returns the lower-case hex form (64 characters).
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for logs.
func (h ContentHash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether h is the zero value.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseContentHash parses a 64-character hex string. Case-insensitive.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	if len(s) != 2*len(h) {
		return h, fmt.Errorf("content hash must be %d hex characters, got %d", 2*len(h), len(s))
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return h, fmt.Errorf("content hash: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Digest accumulates a domain-separated BLAKE3 hash.
// Format: BLAKE3(domain + 0x00 + data...)
// The null byte separator prevents domain/data boundary ambiguity.
type Digest struct {
	h *blake3.Hasher
}

// NewDigest starts a digest under domain.
func NewDigest(domain string) *Digest {
	h := blake3.New(32, nil)
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	return &Digest{h: h}
}

// Write appends raw bytes.
func (d *Digest) Write(p []byte) {
	d.h.Write(p)
}

// WriteHash appends a child hash.
func (d *Digest) WriteHash(c ContentHash) {
	d.h.Write(c[:])
}

// Sum returns the digest. The Digest may continue to be written to.
func (d *Digest) Sum() ContentHash {
	var out ContentHash
	copy(out[:], d.h.Sum(nil))
	return out
}

// HashWithDomain hashes data under domain in one call.
func HashWithDomain(domain string, data []byte) ContentHash {
	d := NewDigest(domain)
	d.Write(data)
	return d.Sum()
}
