package stats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzleduel/internal/duel"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := Open(path)
	require.NoError(t, err)

	got, err := s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, got, "unknown user starts at zero")

	_, err = s.Record("u1", duel.OutcomeWin)
	require.NoError(t, err)
	_, err = s.Record("u1", duel.OutcomeWin)
	require.NoError(t, err)
	_, err = s.Record("u1", duel.OutcomeLoss)
	require.NoError(t, err)
	got, err = s.Record("u1", duel.OutcomeDraw)
	require.NoError(t, err)
	assert.Equal(t, Stats{Wins: 2, Losses: 1, Draws: 1}, got)

	// Other users are independent.
	other, err := s.Load("u2")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, other)

	// Counters survive reopen.
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err = s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Wins: 2, Losses: 1, Draws: 1}, got)
}

func TestUserIDStableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.UserID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := s.UserID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// A restarted process keys its counters under the same id.
	_, err = s.Record(id, duel.OutcomeWin)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	reopened, err := s.UserID()
	require.NoError(t, err)
	assert.Equal(t, id, reopened)
	got, err := s.Load(reopened)
	require.NoError(t, err)
	assert.Equal(t, Stats{Wins: 1}, got)
}

func TestStoreRejectsUnknownOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Record("u1", duel.Outcome("banana"))
	require.Error(t, err)
	got, err := s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, got, "failed record must not move counters")
}

func TestRecorderBindsUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	r := NewRecorder(s, "u1")
	require.NoError(t, r.Record(duel.OutcomeWin))

	got, err := s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Wins: 1}, got)
}
