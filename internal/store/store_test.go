package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "juma", "hash", Profile{FullName: "Juma Otieno"})
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	_, err = s.CreateUser(ctx, "juma", "hash2", Profile{FullName: "Another Juma"})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUserLookupAndProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "akoth", "hash", Profile{FullName: "Akoth A.", Details: "from Matoso"})
	require.NoError(t, err)

	byName, err := s.UserByUsername(ctx, "akoth")
	require.NoError(t, err)
	require.Equal(t, created.ID, byName.ID)

	byID, err := s.UserByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "akoth", byID.Username)

	profile, err := s.ProfileByUserID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Akoth A.", profile.FullName)
	require.Equal(t, "from Matoso", profile.Details)

	_, err = s.UserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecentTurns_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "juma", "hash", Profile{FullName: "Juma"})
	require.NoError(t, err)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := s.AppendTurn(ctx, u.ID, SenderUser, msg)
		require.NoError(t, err)
	}

	turns, err := s.RecentTurns(ctx, u.ID, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	// Most recent first.
	require.Equal(t, "three", turns[0].Message)
	require.Equal(t, "two", turns[1].Message)
}

func TestRecentTurns_ScopedToUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateUser(ctx, "a", "hash", Profile{FullName: "A"})
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, "b", "hash", Profile{FullName: "B"})
	require.NoError(t, err)

	_, err = s.AppendTurn(ctx, a.ID, SenderUser, "from a")
	require.NoError(t, err)
	_, err = s.AppendTurn(ctx, b.ID, SenderAssistant, "from b")
	require.NoError(t, err)

	turns, err := s.RecentTurns(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "from a", turns[0].Message)
}

func TestProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "juma", "hash", Profile{FullName: "Juma"})
	require.NoError(t, err)

	p, err := s.AddProgress(ctx, u.ID, "Learned greetings", "Niaje, habari")
	require.NoError(t, err)
	require.Equal(t, "Learned greetings", p.Milestone)

	entries, err := s.ListProgress(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Niaje, habari", entries[0].Notes)
}

func TestSessions_Expiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "juma", "hash", Profile{FullName: "Juma"})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, Session{
		Token: "live", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.NoError(t, s.CreateSession(ctx, Session{
		Token: "stale", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour),
	}))

	sess, err := s.SessionByToken(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, u.ID, sess.UserID)

	_, err = s.SessionByToken(ctx, "stale")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "live"))
	_, err = s.SessionByToken(ctx, "live")
	require.ErrorIs(t, err, ErrNotFound)
}
