package vault

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSalt = []byte("0123456789abcdef")

// gatedDeriver blocks each derivation until its secret is released.
type gatedDeriver struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	calls   atomic.Int32
	started chan string
}

func newGatedDeriver() *gatedDeriver {
	return &gatedDeriver{gates: map[string]chan struct{}{}, started: make(chan string, 16)}
}

func (g *gatedDeriver) gate(secret string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[secret]
	if !ok {
		ch = make(chan struct{})
		g.gates[secret] = ch
	}
	return ch
}

func (g *gatedDeriver) release(secret string) { close(g.gate(secret)) }

func (g *gatedDeriver) derive(secret string, salt []byte) (*cryptox.DerivedKey, error) {
	g.calls.Add(1)
	g.started <- secret
	<-g.gate(secret)
	if secret == "bad" {
		return nil, errors.New("derivation failed")
	}
	return fakeKey(secret), nil
}

func fakeKey(secret string) *cryptox.DerivedKey {
	sum := sha256.Sum256([]byte(secret))
	k, _ := cryptox.NewDerivedKey(sum[:])
	return k
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) reasons() []Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reason, len(r.events))
	for i, e := range r.events {
		out[i] = e.Reason
	}
	return out
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeClock, *recorder) {
	t.Helper()
	clk := newFakeClock()
	s := NewSession(append([]Option{WithClock(clk)}, opts...)...)
	rec := &recorder{}
	s.Subscribe(rec.record)
	return s, clk, rec
}

func waiters(s *Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return 0
	}
	return s.attempt.waiters
}

func TestSession_StartsLocked(t *testing.T) {
	s, _, _ := newTestSession(t)

	assert.Equal(t, Locked, s.Status())
	assert.False(t, s.IsUnlocked())
	assert.Zero(t, s.TimeRemaining())

	_, err := s.Key()
	assert.ErrorIs(t, err, ErrSessionLocked)
	_, err = s.EncryptVariable("A", "1")
	assert.ErrorIs(t, err, ErrSessionLocked)
}

func TestSession_UnlockLockCycle(t *testing.T) {
	s, _, rec := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Unlock(ctx, "P-master-Password1", testSalt))
	assert.True(t, s.IsUnlocked())
	assert.Equal(t, DefaultAutoLock, s.TimeRemaining())

	ev, err := s.EncryptVariable("DB_URL", "postgres://x")
	require.NoError(t, err)

	s.Lock()
	assert.False(t, s.IsUnlocked())
	_, err = s.DecryptVariable(ev)
	assert.ErrorIs(t, err, ErrSessionLocked)

	require.NoError(t, s.Unlock(ctx, "P-master-Password1", testSalt))
	p, err := s.DecryptVariable(ev)
	require.NoError(t, err)
	assert.Equal(t, cryptox.Pair{Name: "DB_URL", Value: "postgres://x"}, p)

	assert.Equal(t, []Reason{
		ReasonUnlockStarted, ReasonUnlocked, ReasonLock,
		ReasonUnlockStarted, ReasonUnlocked,
	}, rec.reasons())
}

func TestSession_WrongPasswordCannotDecrypt(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Unlock(ctx, "P-master-Password1", testSalt))
	ev, err := s.EncryptVariable("DB_URL", "postgres://x")
	require.NoError(t, err)
	s.Lock()

	require.NoError(t, s.Unlock(ctx, "P-other-Password2", testSalt))
	_, err = s.DecryptVariable(ev)
	assert.ErrorIs(t, err, cryptox.ErrIntegrity)
}

func TestSession_UnlockFailureReturnsToLocked(t *testing.T) {
	s, _, rec := newTestSession(t)

	err := s.Unlock(context.Background(), "pw", []byte("short"))
	assert.ErrorIs(t, err, cryptox.ErrInvalidSalt)
	assert.Equal(t, Locked, s.Status())
	assert.Equal(t, []Reason{ReasonUnlockStarted, ReasonUnlockFailed}, rec.reasons())
}

func TestSession_UnlockWhenUnlockedIsNoop(t *testing.T) {
	g := newGatedDeriver()
	s, _, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })
	g.release("a")

	require.NoError(t, s.Unlock(context.Background(), "a", testSalt))
	require.NoError(t, s.Unlock(context.Background(), "b", testSalt))

	assert.Equal(t, int32(1), g.calls.Load())
	k, err := s.Key()
	require.NoError(t, err)
	assert.True(t, k.Equal(fakeKey("a")))
	assert.Len(t, rec.reasons(), 2)
}

func TestSession_ConcurrentIdenticalUnlocksCoalesce(t *testing.T) {
	g := newGatedDeriver()
	s, _, _ := newTestSession(t, func(s *Session) { s.derive = g.derive })

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Unlock(context.Background(), "same", testSalt)
		}(i)
	}

	require.Eventually(t, func() bool { return waiters(s) == n }, time.Second, time.Millisecond)
	g.release("same")
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), g.calls.Load(), "only one derivation may run")
	assert.True(t, s.IsUnlocked())
}

func TestSession_NewerUnlockSupersedesOlder(t *testing.T) {
	g := newGatedDeriver()
	s, _, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })

	first := make(chan error, 1)
	go func() { first <- s.Unlock(context.Background(), "old", testSalt) }()
	assert.Equal(t, "old", <-g.started)

	second := make(chan error, 1)
	go func() { second <- s.Unlock(context.Background(), "new", testSalt) }()
	assert.Equal(t, "new", <-g.started)

	assert.ErrorIs(t, <-first, ErrSuperseded)

	g.release("new")
	require.NoError(t, <-second)

	// the stale derivation finishing late must not replace the key
	g.release("old")
	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, time.Millisecond)

	k, err := s.Key()
	require.NoError(t, err)
	assert.True(t, k.Equal(fakeKey("new")))
	assert.Equal(t, []Reason{ReasonUnlockStarted, ReasonUnlocked}, rec.reasons())
}

func TestSession_StaleDerivationAfterAbandonIsDiscarded(t *testing.T) {
	g := newGatedDeriver()
	s, _, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Unlock(ctx, "slow", testSalt) }()
	<-g.started

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, Locked, s.Status())

	g.release("slow")
	time.Sleep(10 * time.Millisecond)

	assert.False(t, s.IsUnlocked())
	assert.Equal(t, []Reason{ReasonUnlockStarted, ReasonUnlockAbandoned}, rec.reasons())
}

func TestSession_AbandonByOneWaiterKeepsAttempt(t *testing.T) {
	g := newGatedDeriver()
	s, _, _ := newTestSession(t, func(s *Session) { s.derive = g.derive })

	ctx, cancel := context.WithCancel(context.Background())
	quitter := make(chan error, 1)
	go func() { quitter <- s.Unlock(ctx, "pw", testSalt) }()
	<-g.started

	stayer := make(chan error, 1)
	go func() { stayer <- s.Unlock(context.Background(), "pw", testSalt) }()
	require.Eventually(t, func() bool { return waiters(s) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-quitter, context.Canceled)
	assert.Equal(t, Unlocking, s.Status())

	g.release("pw")
	assert.NoError(t, <-stayer)
	assert.True(t, s.IsUnlocked())
}

func TestSession_LockCancelsUnlocking(t *testing.T) {
	g := newGatedDeriver()
	s, _, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })

	done := make(chan error, 1)
	go func() { done <- s.Unlock(context.Background(), "pw", testSalt) }()
	<-g.started

	s.Lock()
	assert.ErrorIs(t, <-done, ErrSuperseded)

	g.release("pw")
	time.Sleep(10 * time.Millisecond)
	assert.False(t, s.IsUnlocked())
	assert.Equal(t, []Reason{ReasonUnlockStarted, ReasonLock}, rec.reasons())
}

func TestSession_CancelledContextBeforeUnlock(t *testing.T) {
	s, _, rec := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Unlock(ctx, "pw", testSalt), context.Canceled)
	assert.Empty(t, rec.reasons())
}

func TestSession_AutoLockAfterInactivity(t *testing.T) {
	g := newGatedDeriver()
	s, clk, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })
	g.release("pw")
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))

	clk.Advance(DefaultAutoLock - time.Second)
	assert.True(t, s.IsUnlocked())
	assert.Equal(t, time.Second, s.TimeRemaining())

	clk.Advance(time.Second)
	assert.False(t, s.IsUnlocked())
	_, err := s.Key()
	assert.ErrorIs(t, err, ErrSessionLocked)
	assert.Equal(t, []Reason{ReasonUnlockStarted, ReasonUnlocked, ReasonTimeout}, rec.reasons())
}

func TestSession_TouchPostponesAutoLock(t *testing.T) {
	g := newGatedDeriver()
	s, clk, _ := newTestSession(t, func(s *Session) { s.derive = g.derive })
	g.release("pw")
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))

	for i := 0; i < 3; i++ {
		clk.Advance(4 * time.Minute)
		s.Touch()
	}
	assert.True(t, s.IsUnlocked())
	assert.Equal(t, 1, clk.active(), "re-arming must stop the previous timer")

	clk.Advance(DefaultAutoLock)
	assert.False(t, s.IsUnlocked())
}

func TestSession_TouchWhileLockedDoesNothing(t *testing.T) {
	s, clk, rec := newTestSession(t)
	s.Touch()
	assert.Zero(t, clk.active())
	assert.Empty(t, rec.reasons())
}

func TestSession_SetAutoLock(t *testing.T) {
	g := newGatedDeriver()
	s, clk, _ := newTestSession(t, func(s *Session) { s.derive = g.derive })

	assert.ErrorIs(t, s.SetAutoLock(30*time.Second), ErrInvalidAutoLock)
	assert.ErrorIs(t, s.SetAutoLock(61*time.Minute), ErrInvalidAutoLock)
	require.NoError(t, s.SetAutoLock(10*time.Minute))
	assert.Equal(t, 10*time.Minute, s.AutoLock())

	g.release("pw")
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))
	clk.Advance(3 * time.Minute)

	// shortening while unlocked reschedules from now, not from the next activity
	require.NoError(t, s.SetAutoLock(time.Minute))
	assert.Equal(t, time.Minute, s.TimeRemaining())

	clk.Advance(59 * time.Second)
	assert.True(t, s.IsUnlocked())
	clk.Advance(time.Second)
	assert.False(t, s.IsUnlocked())
}

func TestWithAutoLock_Clamps(t *testing.T) {
	assert.Equal(t, MinAutoLock, NewSession(WithAutoLock(time.Second)).AutoLock())
	assert.Equal(t, MaxAutoLock, NewSession(WithAutoLock(24*time.Hour)).AutoLock())
	assert.Equal(t, 15*time.Minute, NewSession(WithAutoLock(15*time.Minute)).AutoLock())
}

func TestSession_OverdueDeadlineLocksWithoutTimer(t *testing.T) {
	g := newGatedDeriver()
	s, clk, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })
	g.release("pw")
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))

	// move time without firing timers, as when a timer callback is late
	clk.mu.Lock()
	clk.now = clk.now.Add(DefaultAutoLock)
	clk.mu.Unlock()

	_, err := s.Key()
	assert.ErrorIs(t, err, ErrSessionLocked)
	assert.Equal(t, Locked, s.Status())
	assert.Equal(t, ReasonTimeout, rec.reasons()[len(rec.reasons())-1])

	// the late timer firing afterwards is a no-op
	clk.Advance(0)
	assert.Len(t, rec.reasons(), 3)
}

func TestSession_SetAutoLockAfterDeadlineLocks(t *testing.T) {
	g := newGatedDeriver()
	s, clk, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })
	g.release("pw")
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))

	clk.mu.Lock()
	clk.now = clk.now.Add(DefaultAutoLock + time.Minute)
	clk.mu.Unlock()

	require.NoError(t, s.SetAutoLock(30*time.Minute))
	assert.False(t, s.IsUnlocked())
	assert.Zero(t, s.TimeRemaining())
	assert.Equal(t, 30*time.Minute, s.AutoLock())
	assert.Equal(t, ReasonTimeout, rec.reasons()[len(rec.reasons())-1])
	assert.Len(t, rec.reasons(), 3)
}

func TestSession_SubscriberMayLockReentrantly(t *testing.T) {
	g := newGatedDeriver()
	s, _, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })
	unsubscribe := s.Subscribe(func(e Event) {
		if e.To == Unlocked {
			s.Lock()
		}
	})
	g.release("pw")

	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))
	assert.False(t, s.IsUnlocked())
	assert.Equal(t, []Reason{ReasonUnlockStarted, ReasonUnlocked, ReasonLock}, rec.reasons())

	unsubscribe()
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))
	assert.True(t, s.IsUnlocked())
}

func TestSession_EventsCarryFromToAndTime(t *testing.T) {
	g := newGatedDeriver()
	s, clk, rec := newTestSession(t, func(s *Session) { s.derive = g.derive })
	g.release("pw")
	require.NoError(t, s.Unlock(context.Background(), "pw", testSalt))
	s.Lock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 3)
	assert.Equal(t, Event{From: Locked, To: Unlocking, Reason: ReasonUnlockStarted, At: clk.Now()}, rec.events[0])
	assert.Equal(t, Event{From: Unlocking, To: Unlocked, Reason: ReasonUnlocked, At: clk.Now()}, rec.events[1])
	assert.Equal(t, Event{From: Unlocked, To: Locked, Reason: ReasonLock, At: clk.Now()}, rec.events[2])
}

func TestSession_KeySourceFollowsLock(t *testing.T) {
	s, _, _ := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, s.Unlock(ctx, "P-master-Password1", testSalt))

	enc, err := cryptox.EncryptAll(ctx, []cryptox.Pair{{Name: "A", Value: "1"}}, s.KeySource())
	require.NoError(t, err)

	s.Lock()
	_, err = cryptox.DecryptAll(ctx, enc, s.KeySource())
	assert.ErrorIs(t, err, ErrSessionLocked)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "locked", Locked.String())
	assert.Equal(t, "unlocking", Unlocking.String())
	assert.Equal(t, "unlocked", Unlocked.String())
	assert.Equal(t, "unknown", Status(42).String())
}
