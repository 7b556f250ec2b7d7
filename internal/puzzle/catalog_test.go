package puzzle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPuzzles() []Puzzle {
	return []Puzzle{
		{ID: "p1", Prompt: "2+2?", Options: []string{"3", "4", "5"}, AnswerIndex: 1},
		{ID: "p2", Prompt: "capital of France?", Options: []string{"Paris", "Lyon"}, AnswerIndex: 0},
	}
}

func TestCatalogLookupAndGrade(t *testing.T) {
	c, err := New(testPuzzles())
	require.NoError(t, err)

	p, err := c.Lookup("p1")
	require.NoError(t, err)
	assert.Equal(t, "2+2?", p.Prompt)

	_, err = c.Lookup("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := c.Grade("p1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Grade("p1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// The timeout auto-submit index is wrong, never an error.
	ok, err = c.Grade("p1", -1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Grade("p1", 99)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Grade("nope", 0)
	assert.Error(t, err)
}

func TestCatalogPickPuzzle(t *testing.T) {
	c, err := New(testPuzzles())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		ref, err := c.PickPuzzle()
		require.NoError(t, err)
		_, err = c.Lookup(ref)
		require.NoError(t, err)
	}
}

func TestCatalogValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]Puzzle{{ID: "", Options: []string{"a"}, AnswerIndex: 0}})
	assert.Error(t, err)

	_, err = New([]Puzzle{{ID: "p", Options: []string{"a"}, AnswerIndex: 3}})
	assert.Error(t, err)

	dup := testPuzzles()
	dup[1].ID = dup[0].ID
	_, err = New(dup)
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "puzzles.yaml")
	doc := `puzzles:
  - id: p1
    prompt: "2+2?"
    options: ["3", "4"]
    answerIndex: 1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	p, err := c.Lookup("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, p.Options)
	assert.Equal(t, 1, p.AnswerIndex)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
