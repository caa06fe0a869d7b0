package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMove_MatchesWireFormat(t *testing.T) {
	sum := sha256.Sum256([]byte("HIGH_STRIKE:pepper"))
	assert.Equal(t, hex.EncodeToString(sum[:]), HashMove("HIGH_STRIKE", "pepper"))
}

func TestVerifyCommitment(t *testing.T) {
	stored := HashMove("GUARD_LOW", "s3cr3t")

	assert.True(t, VerifyCommitment(stored, "GUARD_LOW", "s3cr3t"))
	assert.True(t, VerifyCommitment(strings.ToUpper(stored), "GUARD_LOW", "s3cr3t"))

	assert.False(t, VerifyCommitment(stored, "GUARD_MID", "s3cr3t"))
	assert.False(t, VerifyCommitment(stored, "GUARD_LOW", "s3cr3T"))
	assert.False(t, VerifyCommitment(stored, "guard_low", "s3cr3t"))
	assert.False(t, VerifyCommitment(stored, "GUARD_LOW", "s3cr3t "))
	assert.False(t, VerifyCommitment("", "GUARD_LOW", "s3cr3t"))
}

func TestNormalizeCommitment(t *testing.T) {
	h := HashMove("DODGE", "x")

	got, ok := NormalizeCommitment("  " + strings.ToUpper(h) + "\n")
	require.True(t, ok)
	assert.Equal(t, h, got)

	_, ok = NormalizeCommitment(h[:63])
	assert.False(t, ok)
	_, ok = NormalizeCommitment(strings.Repeat("z", 64))
	assert.False(t, ok)
	_, ok = NormalizeCommitment("")
	assert.False(t, ok)
}

func TestSynthesizeCommitment_Verifies(t *testing.T) {
	move, salt, hash, err := synthesizeCommitment()
	require.NoError(t, err)
	assert.Len(t, salt, 32)
	assert.True(t, VerifyCommitment(hash, string(move), salt))

	_, salt2, _, err := synthesizeCommitment()
	require.NoError(t, err)
	assert.NotEqual(t, salt, salt2)
}
