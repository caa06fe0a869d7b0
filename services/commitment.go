package services

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"fight-arena/models"
)

// CommitmentVersion names the digest scheme: SHA-256 over the exact string
// "MOVE:SALT", hex encoded. External clients compute the same value.
const CommitmentVersion = "sha256-v1"

// HashMove returns the commitment for a move string and salt.
func HashMove(move, salt string) string {
	sum := sha256.Sum256([]byte(move + ":" + salt))
	return hex.EncodeToString(sum[:])
}

// NormalizeCommitment lowercases a submitted hash and checks its shape.
func NormalizeCommitment(h string) (string, bool) {
	h = strings.ToLower(strings.TrimSpace(h))
	if len(h) != sha256.Size*2 {
		return "", false
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", false
	}
	return h, true
}

// VerifyCommitment checks a revealed move/salt against the stored hash.
func VerifyCommitment(stored, move, salt string) bool {
	got := HashMove(move, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(stored))) == 1
}

// NewSalt returns a random hex salt for server-synthesized commitments.
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// synthesizeCommitment draws a safe move and commits to it on the fighter's behalf.
func synthesizeCommitment() (move models.Move, salt, hash string, err error) {
	move, err = RandomSafeMove()
	if err != nil {
		return "", "", "", err
	}
	salt, err = NewSalt()
	if err != nil {
		return "", "", "", err
	}
	return move, salt, HashMove(string(move), salt), nil
}
