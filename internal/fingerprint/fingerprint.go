// Package fingerprint computes content digests used as deduplication keys.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// Size is the length of a hex encoded fingerprint
const Size = sha256.Size * 2

// Sum returns the fingerprint of data
func Sum(data []byte) domain.Fingerprint {
	sum := sha256.Sum256(data)
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

// FromReader hashes r until EOF. Chunk boundaries do not affect the result.
func FromReader(r io.Reader) (domain.Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// Read consumes r, returning both the fingerprint and the raw bytes so the
// caller can still build a job payload. Content larger than limit is
// rejected with an InputError; limit <= 0 disables the check.
func Read(r io.Reader, limit int64) (domain.Fingerprint, []byte, error) {
	h := sha256.New()
	var buf bytes.Buffer

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, err := io.Copy(io.MultiWriter(h, &buf), src)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read content: %w", err)
	}
	if limit > 0 && n > limit {
		return "", nil, domain.NewInputError("content exceeds %d bytes", limit)
	}
	if n == 0 {
		return "", nil, domain.NewInputError("content is empty")
	}

	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), buf.Bytes(), nil
}

// Valid reports whether fp looks like a fingerprint produced by this package
func Valid(fp domain.Fingerprint) bool {
	if len(fp) != Size {
		return false
	}
	_, err := hex.DecodeString(string(fp))
	return err == nil
}
