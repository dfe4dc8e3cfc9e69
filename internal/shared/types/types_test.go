package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCaseNumber(t *testing.T) {
	n, err := ParseCaseNumber("2025-000123")
	require.NoError(t, err)
	assert.Equal(t, 2025, n.Year)
	assert.Equal(t, 123, n.Sequence)
	assert.Equal(t, "2025-000123", n.String())

	for _, bad := range []string{"", "2025", "2025-12", "25-000123", "2025-00012a", "2025-000000", "abcd-000001"} {
		_, err := ParseCaseNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestCaseNumberText(t *testing.T) {
	var n CaseNumber
	require.NoError(t, n.UnmarshalText([]byte("2026-999999")))
	b, err := n.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2026-999999", string(b))
}

func TestSeedIDIsStable(t *testing.T) {
	a := NewSeedID("archetype", "supervisor")
	b := NewSeedID("archetype", "supervisor")
	c := NewSeedID("role", "supervisor")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	_, err := ParseID(a.String())
	assert.NoError(t, err)
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
	assert.Nil(t, ID("").Ptr())
}
