// Package codehash checks presented pickup security codes against stored references.
//
// Two reference schemes are understood:
//
//	hmac-sha256:<hex>   HMAC-SHA256 of the code keyed with the deployment pepper
//	$2a$/$2b$/$2y$...   bcrypt hashes imported from older rosters
//
// Comparisons never short-circuit on a partial match.
package codehash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const hmacPrefix = "hmac-sha256:"

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

type Matcher struct {
	pepper []byte
}

func New(pepper string) (*Matcher, error) {
	if pepper == "" {
		return nil, errors.New("code pepper is required")
	}
	return &Matcher{pepper: []byte(pepper)}, nil
}

// Hash returns the hmac-sha256 reference for code. Used when seeding rosters.
func (m *Matcher) Hash(code string) string {
	return hmacPrefix + hex.EncodeToString(m.mac(code))
}

// Matches reports whether code corresponds to ref. Unknown schemes and
// malformed references never match but still cost one MAC so the time taken
// does not reveal which scheme a roster entry uses.
func (m *Matcher) Matches(ref, code string) bool {
	code = strings.TrimSpace(code)
	switch {
	case strings.HasPrefix(ref, hmacPrefix):
		want, err := hex.DecodeString(strings.TrimPrefix(ref, hmacPrefix))
		got := m.mac(code)
		if err != nil {
			return false
		}
		return hmac.Equal(want, got)
	case isBcrypt(ref):
		return bcrypt.CompareHashAndPassword([]byte(ref), []byte(code)) == nil
	default:
		_ = m.mac(code)
		return false
	}
}

func (m *Matcher) mac(code string) []byte {
	h := hmac.New(sha256.New, m.pepper)
	h.Write([]byte(code))
	return h.Sum(nil)
}

func isBcrypt(ref string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}
