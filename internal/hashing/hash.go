// Package hashing implements the deterministic bucketing function shared
// by percentage rollouts, rule-level rollout percentages, and variant
// assignment. It is adapted from the reference bucketing helper, swapping
// its xxhash digest for SHA-256 so bucket assignment matches the
// specified algorithm bit for bit across implementations and languages.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
)

// Bucket returns a deterministic integer in [0, 100) for the given salt
// and subject: SHA-256(salt + ":" + subject), leading 32 bits as a
// big-endian unsigned integer h, floor(h / 2^32 * 100). The same
// (salt, subject) pair always yields the same bucket; distinct salts for
// the same subject are independent, which is what lets a flag's rollout
// and its variant split use distinct salts without correlating.
func Bucket(salt, subject string) int {
	sum := sha256.Sum256([]byte(salt + ":" + subject))
	h := binary.BigEndian.Uint32(sum[:4])
	return int(uint64(h) * 100 / (1 << 32))
}
