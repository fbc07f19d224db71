package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2 tuning parameters. Defaults per spec.md §4.5 ("defaults for
// memory/time/parallelism").
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// phcVersion pins the hash construction so that changing how the pepper
// is mixed in later is a new version rather than a silent reinterpretation
// of old hashes (spec.md §9: "document the chosen construction and do not
// mix constructions across versions").
const phcVersion = "fabric-argon2id-hmac-pepper-v1"

// HashWithPepper derives a PHC-style hash string for clear using pepper
// as an HMAC key applied before Argon2id hashing. golang.org/x/crypto's
// Argon2 implementation has no native "secret" parameter (unlike the
// reference Argon2 C library); spec.md §9 prescribes HMAC-ing the clear
// key with the pepper first as the equivalent construction.
//
// The random salt (spec.md §4.5's "salt=random") is embedded in the
// returned PHC string; spec.md's ProjectSecretCreated.salted_secret field
// stores the pepper itself, not this salt, since VerifySecret is never
// handed the pepper again and must recover it from the stored event.
func HashWithPepper(clear string, pepper []byte) (phc string, err error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hashed := hashWithPepper(clear, pepper, salt)
	return encodePHC(salt, hashed), nil
}

// VerifyWithPepper recomputes the hash of clear with pepper, using the
// salt embedded in phc, and compares it to phc's stored hash in constant
// time.
func VerifyWithPepper(clear string, pepper []byte, phc string) (bool, error) {
	salt, wantHash, err := decodePHC(phc)
	if err != nil {
		return false, fmt.Errorf("decoding stored phc: %w", err)
	}

	gotHash := hashWithPepper(clear, pepper, salt)
	return subtle.ConstantTimeCompare(gotHash, wantHash) == 1, nil
}

func hashWithPepper(clear string, pepper []byte, salt []byte) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(clear))
	peppered := mac.Sum(nil)

	return argon2.IDKey(peppered, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func encodePHC(salt, hash []byte) string {
	return fmt.Sprintf("$%s$m=%d,t=%d,p=%d$%s$%s",
		phcVersion,
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

func decodePHC(phc string) (salt, hash []byte, err error) {
	parts := strings.Split(phc, "$")
	// "$version$params$salt$hash" splits into ["", version, params, salt, hash].
	if len(parts) != 5 || parts[1] != phcVersion {
		return nil, nil, fmt.Errorf("unrecognised or incompatible phc construction")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, nil, fmt.Errorf("decoding salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, fmt.Errorf("decoding hash: %w", err)
	}
	return salt, hash, nil
}

// DeriveKey produces a deterministic raw key from ikm (input key
// material) and a fresh random salt, using Argon2id as a KDF. Used by
// the Resource Aggregate (C6) to derive per-resource status tokens
// (authToken, username, password) from project_id || resource_id.
func DeriveKey(ikm []byte, outLen int) (key, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generating salt: %w", err)
	}
	key = argon2.IDKey(ikm, salt, argon2Time, argon2Memory, argon2Threads, uint32(outLen))
	return key, salt, nil
}
