package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTempID(t *testing.T) {
	a := NewTempID()
	b := NewTempID()

	assert.True(t, IsTempID(a))
	assert.True(t, IsTempID(b))
	assert.NotEqual(t, a, b)
	assert.False(t, IsTempID("srv-1"))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	orig := Record{
		ID:       "srv-1",
		Name:     "Granny Square",
		Tags:     []string{"beginner"},
		Sections: []Section{{Title: "motif", Steps: []string{"ch 4", "join"}}},
	}

	clone := orig.Clone()
	clone.Tags[0] = "advanced"
	clone.Sections[0].Steps[0] = "ch 6"
	clone.Sections[0].Title = "border"

	assert.Equal(t, "beginner", orig.Tags[0])
	assert.Equal(t, "ch 4", orig.Sections[0].Steps[0])
	assert.Equal(t, "motif", orig.Sections[0].Title)
}

func TestCloneSections_NilSafe(t *testing.T) {
	got := CloneSections(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}
