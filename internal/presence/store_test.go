package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dayplan-app/waypoint/internal/domain"
)

type fakeCache struct {
	mu      sync.Mutex
	entries []*domain.Member
}

func (c *fakeCache) Members(ctx context.Context, room domain.RoomKey) ([]*domain.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries, nil
}

func (c *fakeCache) SaveMember(ctx context.Context, room domain.RoomKey, m *domain.Member) error {
	return nil
}

func (c *fakeCache) DeleteMember(ctx context.Context, room domain.RoomKey, id domain.MemberID) error {
	return nil
}

func (c *fakeCache) ReplaceRoom(ctx context.Context, room domain.RoomKey, members []*domain.Member) error {
	return nil
}

func member(id string, joinedAt time.Time) *domain.Member {
	return &domain.Member{ID: domain.MemberID(id), Nickname: id, JoinedAt: joinedAt}
}

func TestSnapshotKeepsOriginalJoinOrder(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)

	// A joins at t=0, B at t=1000ms.
	s.ApplyServerSnapshot([]*domain.Member{member("a", base)})
	s.ApplyServerSnapshot([]*domain.Member{
		member("a", base),
		member("b", base.Add(time.Second)),
	})

	// Later snapshot lists B before A, and even lies about A's join time.
	s.ApplyServerSnapshot([]*domain.Member{
		member("b", base.Add(time.Second)),
		member("a", base.Add(10*time.Second)),
	})

	got := s.Members()
	require.Len(t, got, 2)
	require.Equal(t, domain.MemberID("a"), got[0].ID)
	require.Equal(t, domain.MemberID("b"), got[1].ID)
	require.True(t, got[0].JoinedAt.Equal(base), "first-known joinedAt must survive")
}

func TestSnapshotIdempotent(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)

	snap := []*domain.Member{member("a", base), member("b", base.Add(time.Minute))}
	s.ApplyServerSnapshot(snap)
	first := s.Members()
	s.ApplyServerSnapshot(snap)
	second := s.Members()

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].ID, second[i].ID)
		require.True(t, first[i].JoinedAt.Equal(second[i].JoinedAt))
	}
}

func TestSnapshotRemovesDepartedKeepsCosmetics(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)

	s.ApplyServerSnapshot([]*domain.Member{member("a", base), member("b", base.Add(time.Second))})
	s.ApplyServerSnapshot([]*domain.Member{member("b", base.Add(time.Hour))})

	got := s.Members()
	require.Len(t, got, 1)
	require.Equal(t, domain.MemberID("b"), got[0].ID)
	require.True(t, got[0].JoinedAt.Equal(base.Add(time.Second)), "kept id keeps first-known joinedAt")
}

func TestJoinChimeRateLimited(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	var chimes int
	s := NewStore("trip42", "self", nil,
		WithJoinNotifier(func(*domain.Member) { chimes++ }),
		WithClock(func() time.Time { return now }),
	)

	// Bursty snapshot delivery: three snapshots within 500ms, each revealing
	// a new member, chime once.
	s.ApplyServerSnapshot([]*domain.Member{member("a", base)})
	now = now.Add(100 * time.Millisecond)
	s.ApplyServerSnapshot([]*domain.Member{member("a", base), member("b", base)})
	now = now.Add(100 * time.Millisecond)
	s.ApplyServerSnapshot([]*domain.Member{member("a", base), member("b", base), member("c", base)})
	require.Equal(t, 1, chimes)

	now = now.Add(time.Second)
	s.ApplyServerSnapshot([]*domain.Member{member("a", base), member("b", base), member("c", base), member("d", base)})
	require.Equal(t, 2, chimes)
}

func TestOwnJoinDoesNotChime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var chimes int
	s := NewStore("trip42", "self", nil, WithJoinNotifier(func(*domain.Member) { chimes++ }))

	s.ApplyServerSnapshot([]*domain.Member{member("self", base)})
	require.Zero(t, chimes)
}

func TestJoinRefreshKeepsJoinedAt(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)

	s.Join(member("self", base))
	s.Join(member("self", base.Add(time.Hour))) // refresh must not reshuffle
	got, ok := s.Get("self")
	require.True(t, ok)
	require.True(t, got.JoinedAt.Equal(base))
}

func TestLeaveRemovesMember(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)
	s.ApplyServerSnapshot([]*domain.Member{member("a", base)})
	s.Leave("a")
	require.Empty(t, s.Members())
}

func TestMergeCachedNeverOverridesLive(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)
	s.Join(member("self", base))

	s.mergeCached([]*domain.Member{
		member("self", base.Add(time.Hour)), // stale cache entry for a live id
		member("cached", base.Add(time.Second)),
	})

	got := s.Members()
	require.Len(t, got, 2)
	self, ok := s.Get("self")
	require.True(t, ok)
	require.True(t, self.JoinedAt.Equal(base))

	// Once authoritative, cached entries are ignored entirely.
	s.ApplyServerSnapshot([]*domain.Member{member("self", base)})
	s.mergeCached([]*domain.Member{member("ghost", base)})
	require.Len(t, s.Members(), 1)
}

func TestWarmPollRendersCacheThenStops(t *testing.T) {
	base := time.Unix(1700000000, 0)
	fc := &fakeCache{entries: []*domain.Member{member("cached", base)}}
	s := NewStore("trip42", "self", fc)
	s.pollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.WarmPoll(ctx)
		close(done)
	}()

	// The cached entry renders before any server snapshot arrives.
	require.Eventually(t, func() bool {
		_, ok := s.Get("cached")
		return ok
	}, time.Second, time.Millisecond)
	require.False(t, s.Authoritative())

	// The first authoritative snapshot ends the warm phase: polling stops
	// and the cached ghost never comes back.
	s.ApplyServerSnapshot([]*domain.Member{member("a", base)})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("warm poll kept running after the first snapshot")
	}
	_, ok := s.Get("cached")
	require.False(t, ok)
	require.Len(t, s.Members(), 1)
}

func TestApplyColor(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewStore("trip42", "self", nil)
	s.ApplyServerSnapshot([]*domain.Member{member("a", base)})

	s.ApplyColor("a", "#ff4d4f")
	got, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, domain.Color("#ff4d4f"), got.Color)

	// Unknown member: ignored, not created.
	s.ApplyColor("nobody", "#40a9ff")
	_, ok = s.Get("nobody")
	require.False(t, ok)
}
