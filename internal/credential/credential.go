// internal/credential/credential.go
//
// Password hashing and verification shared by user accounts and the admin
// password. Stored values are either bcrypt hashes or, for an ADMIN_PASSWORD
// that predates hashing, the plain secret itself.

package credential

import (
	"crypto/subtle"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor for every new hash.
const Cost = 12

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// HashPassword returns a bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsHash reports whether stored looks like a bcrypt hash.
func IsHash(stored string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}
	return false
}

// VerifyPassword checks plain against stored. Never short-circuits on the
// first differing byte.
func VerifyPassword(plain, stored string) bool {
	if stored == "" {
		return false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
	}
	return ConstantTimeEqual(plain, stored)
}

// ConstantTimeEqual compares a and b in time proportional to the longer of
// the two. Both inputs are padded to the same length before comparing and
// the length check is folded into the result.
func ConstantTimeEqual(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	pa := make([]byte, n)
	pb := make([]byte, n)
	copy(pa, a)
	copy(pb, b)
	same := subtle.ConstantTimeCompare(pa, pb)
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	return same&sameLen == 1
}

// dummyHash is compared against when a username does not exist so failed
// lookups cost about as much as failed passwords.
var (
	dummyOnce sync.Once
	dummyHash []byte
)

// BurnCompare spends one bcrypt comparison and discards the result.
func BurnCompare(plain string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("newsroom-timing-pad"), Cost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
}
