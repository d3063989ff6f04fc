package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSnapshot is the hash domain for snapshot digests.
// The version suffix leaves room for a future algorithm change.
const DomainSnapshot = "nodeledger/snapshot/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes the content identity of a snapshot: key, fields, event
// timestamp and provenance.
//
// DbUpdatedTimestamp is excluded. It records when the row was written, not
// what the resource looked like, and would make digests differ between two
// ledgers that hold the same history.
func Digest(r Record) (string, error) {
	obj := map[string]any{
		"type":         r.Key.Type,
		"id":           r.Key.ID,
		"fields":       r.Fields,
		"last_chg_ts":  r.LastChgTimestamp,
		"adapter_type": r.LastChgAdapterType,
		"work_item_id": r.LastChgWorkItemID,
	}
	if r.Fields == nil {
		obj["fields"] = Fields{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", r.Key, err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustDigest is Digest for records known to be encodable. It panics on error.
func MustDigest(r Record) string {
	d, err := Digest(r)
	if err != nil {
		panic(err)
	}
	return d
}
