package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the algorithm
// to change without colliding with stored values.
const (
	DomainRecord  = "convlog/record/v1"
	DomainHistory = "convlog/history/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordDigest hashes the immutable content of a record.
//
// Status, read flag, seq and resolved contact are local state that
// changes after delivery, so they are excluded. Two devices holding the
// same message compute the same digest.
func RecordDigest(r Record) (string, error) {
	obj := IRObject{
		"identity":  IRString(r.Identity()),
		"timestamp": IRInt(r.Timestamp),
		"kind":      IRString(string(r.Kind)),
	}
	if r.ParentID != "" {
		obj["parent_id"] = IRString(r.ParentID)
	}
	if r.Author != "" {
		obj["author"] = IRString(r.Author)
	}
	if r.Body != nil {
		obj["body"] = r.Body
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RecordDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// HistoryDigest hashes an ordered list of identities. Replicas that
// converged on the same linearization produce the same digest.
func HistoryDigest(identities []string) string {
	canonical, err := MarshalCanonical(identities)
	if err != nil {
		// []string always marshals
		panic(err)
	}
	return hashWithDomain(DomainHistory, canonical)
}

// MustRecordDigest is like RecordDigest but panics on error.
// Use only in tests or when the body is known to be valid.
func MustRecordDigest(r Record) string {
	d, err := RecordDigest(r)
	if err != nil {
		panic(err)
	}
	return d
}
