package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventStoreFactory func(t *testing.T, clk *fakeClock) EventStore
type alertStoreFactory func(t *testing.T, clk *fakeClock) AlertStore

func memoryEvents(t *testing.T, clk *fakeClock) EventStore {
	return NewMemory(WithClock(clk.Now))
}

func memoryAlerts(t *testing.T, clk *fakeClock) AlertStore {
	return NewMemory(WithClock(clk.Now))
}

func sqliteStore(t *testing.T, clk *fakeClock) *SQLite {
	t.Helper()
	s, err := NewSQLite(t.TempDir()+"/uebax.db", WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sqliteEvents(t *testing.T, clk *fakeClock) EventStore { return sqliteStore(t, clk) }
func sqliteAlerts(t *testing.T, clk *fakeClock) AlertStore { return sqliteStore(t, clk) }

func redisAlerts(t *testing.T, clk *fakeClock) AlertStore {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedisAlerts(RedisOptions{Addr: mr.Addr(), Prefix: "test"}, WithClock(clk.Now))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestEventStores(t *testing.T) {
	backends := map[string]eventStoreFactory{
		"memory": memoryEvents,
		"sqlite": sqliteEvents,
	}
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("append assigns id and time", func(t *testing.T) {
				clk := newFakeClock()
				s := factory(t, clk)
				ctx := context.Background()

				ev, err := s.Append(ctx, &event.Event{Actor: "alice", Kind: event.KindFileAccess, Detail: "confidential.pdf"})
				require.NoError(t, err)
				assert.NotEmpty(t, ev.ID)
				assert.True(t, ev.OccurredAt.Equal(clk.Now()))
				assert.Equal(t, "confidential.pdf", ev.Detail)

				got, err := s.GetEvent(ctx, ev.ID)
				require.NoError(t, err)
				assert.Equal(t, ev.ID, got.ID)
				assert.Equal(t, event.KindFileAccess, got.Kind)
				assert.True(t, got.OccurredAt.Equal(ev.OccurredAt))
			})

			t.Run("get missing", func(t *testing.T) {
				s := factory(t, newFakeClock())
				_, err := s.GetEvent(context.Background(), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("count since is a trailing window", func(t *testing.T) {
				clk := newFakeClock()
				s := factory(t, clk)
				ctx := context.Background()

				for i := 0; i < 4; i++ {
					_, err := s.Append(ctx, &event.Event{Actor: "bob", Kind: event.KindLoginFailure})
					require.NoError(t, err)
					clk.Advance(30 * time.Second)
				}
				_, err := s.Append(ctx, &event.Event{Actor: "bob", Kind: event.KindLogin})
				require.NoError(t, err)
				_, err = s.Append(ctx, &event.Event{Actor: "carol", Kind: event.KindLoginFailure})
				require.NoError(t, err)

				n, err := s.CountSince(ctx, "bob", event.KindLoginFailure, clk.Now().Add(-10*time.Minute))
				require.NoError(t, err)
				assert.Equal(t, 4, n)

				// The first failure sits exactly on the boundary and is included.
				n, err = s.CountSince(ctx, "bob", event.KindLoginFailure, clk.Now().Add(-2*time.Minute))
				require.NoError(t, err)
				assert.Equal(t, 4, n)

				n, err = s.CountSince(ctx, "bob", event.KindLoginFailure, clk.Now().Add(-time.Minute))
				require.NoError(t, err)
				assert.Equal(t, 2, n)
			})

			t.Run("list filters newest first", func(t *testing.T) {
				clk := newFakeClock()
				s := factory(t, clk)
				ctx := context.Background()
				start := clk.Now()

				kinds := []event.Kind{event.KindLogin, event.KindFileAccess, event.KindLogin, event.KindLogout}
				for _, k := range kinds {
					_, err := s.Append(ctx, &event.Event{Actor: "dave", Kind: k})
					require.NoError(t, err)
					clk.Advance(time.Hour)
				}

				all, err := s.ListEvents(ctx, Filter{})
				require.NoError(t, err)
				require.Len(t, all, 4)
				assert.Equal(t, event.KindLogout, all[0].Kind)

				logins, err := s.ListEvents(ctx, Filter{Kind: string(event.KindLogin)})
				require.NoError(t, err)
				assert.Len(t, logins, 2)

				window, err := s.ListEvents(ctx, Filter{Since: start.Add(time.Hour), Until: start.Add(3 * time.Hour)})
				require.NoError(t, err)
				require.Len(t, window, 2)
				assert.Equal(t, event.KindLogin, window[0].Kind)
				assert.Equal(t, event.KindFileAccess, window[1].Kind)

				limited, err := s.ListEvents(ctx, Filter{Limit: 1})
				require.NoError(t, err)
				assert.Len(t, limited, 1)
			})
		})
	}
}

func TestAlertStores(t *testing.T) {
	backends := map[string]alertStoreFactory{
		"memory": memoryAlerts,
		"sqlite": sqliteAlerts,
		"redis":  redisAlerts,
	}
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("create never deduplicates", func(t *testing.T) {
				clk := newFakeClock()
				s := factory(t, clk)
				ctx := context.Background()

				for i := 0; i < 2; i++ {
					a, err := s.Create(ctx, &alert.Alert{Actor: "alice", Kind: alert.KindOffHoursAccess, Detail: "login outside business hours at hour 3"})
					require.NoError(t, err)
					assert.NotEmpty(t, a.ID)
					clk.Advance(time.Second)
				}
				list, err := s.ListAlerts(ctx, Filter{Kind: string(alert.KindOffHoursAccess)})
				require.NoError(t, err)
				assert.Len(t, list, 2)
			})

			t.Run("create if absent latches per actor and kind", func(t *testing.T) {
				clk := newFakeClock()
				s := factory(t, clk)
				ctx := context.Background()
				build := func(detail string) func() *alert.Alert {
					return func() *alert.Alert { return &alert.Alert{Detail: detail} }
				}

				first, created, err := s.CreateIfAbsent(ctx, "bob", alert.KindMultipleLoginFailures, build("5 failures in 10 minutes"))
				require.NoError(t, err)
				assert.True(t, created)
				assert.Equal(t, "bob", first.Actor)
				assert.Equal(t, alert.KindMultipleLoginFailures, first.Kind)

				clk.Advance(time.Minute)
				again, created, err := s.CreateIfAbsent(ctx, "bob", alert.KindMultipleLoginFailures, build("6 failures in 10 minutes"))
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, first.ID, again.ID)
				assert.Equal(t, "5 failures in 10 minutes", again.Detail)

				other, created, err := s.CreateIfAbsent(ctx, "carol", alert.KindMultipleLoginFailures, build("5 failures in 10 minutes"))
				require.NoError(t, err)
				assert.True(t, created)
				assert.NotEqual(t, first.ID, other.ID)

				list, err := s.ListAlerts(ctx, Filter{Actor: "bob"})
				require.NoError(t, err)
				assert.Len(t, list, 1)
			})

			t.Run("concurrent create if absent yields one alert", func(t *testing.T) {
				s := factory(t, newFakeClock())
				ctx := context.Background()

				var (
					wg      sync.WaitGroup
					mu      sync.Mutex
					winners int
				)
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, created, err := s.CreateIfAbsent(ctx, "eve", alert.KindMultipleLoginFailures, func() *alert.Alert {
							return &alert.Alert{Detail: "5 failures in 10 minutes"}
						})
						assert.NoError(t, err)
						if created {
							mu.Lock()
							winners++
							mu.Unlock()
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, 1, winners)

				list, err := s.ListAlerts(ctx, Filter{Actor: "eve"})
				require.NoError(t, err)
				assert.Len(t, list, 1)
			})

			t.Run("list by time range", func(t *testing.T) {
				clk := newFakeClock()
				s := factory(t, clk)
				ctx := context.Background()
				start := clk.Now()

				for i := 0; i < 3; i++ {
					_, err := s.Create(ctx, &alert.Alert{Actor: "frank", Kind: alert.KindOffHoursAccess, Detail: "x"})
					require.NoError(t, err)
					clk.Advance(time.Hour)
				}
				list, err := s.ListAlerts(ctx, Filter{Since: start.Add(time.Hour)})
				require.NoError(t, err)
				assert.Len(t, list, 2)

				list, err = s.ListAlerts(ctx, Filter{Until: start.Add(time.Hour)})
				require.NoError(t, err)
				assert.Len(t, list, 1)

				list, err = s.ListAlerts(ctx, Filter{Limit: 2})
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.True(t, list[0].OccurredAt.After(list[1].OccurredAt))
			})
		})
	}
}

func TestMemory_CancelledContextIsUnavailable(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Append(ctx, &event.Event{Actor: "a", Kind: event.KindLogin})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ev, err := s.Append(ctx, &event.Event{Actor: "a", Kind: event.KindLogin})
	require.NoError(t, err)
	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Detail)
	require.NoError(t, s.Ping(ctx))
}

func TestRedisAlerts_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisAlerts(RedisOptions{Addr: mr.Addr()})
	defer r.Close()
	mr.Close()

	_, err := r.Create(context.Background(), &alert.Alert{Actor: "a", Kind: alert.KindOffHoursAccess})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisAlerts_FailedIndexReleasesLatch(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisAlerts(RedisOptions{Addr: mr.Addr()})
	defer r.Close()
	ctx := context.Background()
	build := func() *alert.Alert { return &alert.Alert{Detail: "5 failures in 10 minutes"} }

	// A string at the index key makes ZADD fail with WRONGTYPE.
	require.NoError(t, mr.Set("uebax:alerts", "not-a-zset"))
	_, _, err := r.CreateIfAbsent(ctx, "bob", alert.KindMultipleLoginFailures, build)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, []string{"uebax:alerts"}, mr.Keys(), "no latch or body may survive a failed create")

	mr.Del("uebax:alerts")
	a, created, err := r.CreateIfAbsent(ctx, "bob", alert.KindMultipleLoginFailures, build)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := r.ListAlerts(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

// flakyEvents fails every call with ErrUnavailable while down is set.
type flakyEvents struct {
	*Memory
	down  bool
	calls int
}

func (f *flakyEvents) Append(ctx context.Context, ev *event.Event) (*event.Event, error) {
	f.calls++
	if f.down {
		return nil, ErrUnavailable
	}
	return f.Memory.Append(ctx, ev)
}

func TestBreakerEvents_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyEvents{Memory: NewMemory(), down: true}
	b := NewBreakerEvents(inner, BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Append(ctx, &event.Event{Actor: "a", Kind: event.KindLogin})
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, "open", b.State())

	inner.down = false
	_, err := b.Append(ctx, &event.Event{Actor: "a", Kind: event.KindLogin})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the store")
}

func TestBreakerEvents_CallerGivingUpDoesNotTrip(t *testing.T) {
	b := NewBreakerEvents(NewMemory(), BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()

	for _, ctx := range []context.Context{cancelled, expired, cancelled, expired, cancelled} {
		_, err := b.Append(ctx, &event.Event{Actor: "a", Kind: event.KindLogin})
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, "closed", b.State())

	ev, err := b.Append(context.Background(), &event.Event{Actor: "a", Kind: event.KindLogin})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
}

func TestBreakerEvents_NotFoundDoesNotTrip(t *testing.T) {
	b := NewBreakerEvents(NewMemory(), BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	_, err := b.GetEvent(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "closed", b.State())
}

func TestBreakerAlerts_PassesLatchThrough(t *testing.T) {
	b := NewBreakerAlerts(NewMemory(), BreakerConfig{})
	ctx := context.Background()
	build := func() *alert.Alert { return &alert.Alert{Detail: "5 failures in 10 minutes"} }

	_, created, err := b.CreateIfAbsent(ctx, "a", alert.KindMultipleLoginFailures, build)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = b.CreateIfAbsent(ctx, "a", alert.KindMultipleLoginFailures, build)
	require.NoError(t, err)
	assert.False(t, created)
}
