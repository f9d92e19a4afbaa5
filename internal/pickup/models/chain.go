package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrChainBroken is returned by VerifyChain when an entry's hash or link does not check out.
var ErrChainBroken = errors.New("pickup log chain broken")

// ComputeHash returns the hex SHA-256 of the entry's canonical form, which
// covers every field except Hash itself. Each field is length-prefixed so no
// two distinct entries share an encoding.
func ComputeHash(e *PickupLogEntry) string {
	fields := []string{
		e.ID.String(),
		e.AttendanceID.String(),
		e.ChildID.String(),
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
		e.PickupPersonName,
		string(e.Decision),
		string(e.MatchedLevel),
		e.StaffID.String(),
		e.OverrideJustification,
		strconv.FormatBool(e.ResultedInCheckout),
		e.IdempotencyKey,
		e.ClientIP,
		e.Device,
		e.PrevHash,
	}
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Seal links e to prev (nil for the first entry of a chain) and sets its hash.
func Seal(e *PickupLogEntry, prev *PickupLogEntry) {
	e.PrevHash = ""
	if prev != nil {
		e.PrevHash = prev.Hash
	}
	e.Hash = ComputeHash(e)
}

// VerifyChain checks one attendance record's entries in append order.
func VerifyChain(entries []PickupLogEntry) error {
	prevHash := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prevHash {
			return fmt.Errorf("%w: entry %d (%s) does not link to its predecessor", ErrChainBroken, i, e.ID)
		}
		if ComputeHash(e) != e.Hash {
			return fmt.Errorf("%w: entry %d (%s) hash mismatch", ErrChainBroken, i, e.ID)
		}
		prevHash = e.Hash
	}
	return nil
}
