package vault

import (
	"bytes"
	"context"
	"crypto/subtle"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/logging"
)

// Status is the session state.
type Status int32

const (
	Locked Status = iota
	Unlocking
	Unlocked
)

func (s Status) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Reason tells subscribers why a transition happened.
type Reason string

const (
	ReasonUnlockStarted   Reason = "unlock_started"
	ReasonUnlocked        Reason = "unlocked"
	ReasonUnlockFailed    Reason = "unlock_failed"
	ReasonUnlockAbandoned Reason = "unlock_abandoned"
	ReasonLock            Reason = "lock"
	ReasonTimeout         Reason = "timeout"
	ReasonRotation        Reason = "rotation"
)

// Event describes one state transition.
type Event struct {
	From   Status
	To     Status
	Reason Reason
	At     time.Time
}

// Auto-lock bounds.
const (
	MinAutoLock     = time.Minute
	MaxAutoLock     = 60 * time.Minute
	DefaultAutoLock = 5 * time.Minute
)

type deriveFunc func(secret string, salt []byte) (*cryptox.DerivedKey, error)

// Option configures a Session.
type Option func(*Session)

func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithAutoLock sets the initial auto-lock duration, clamped to
// [MinAutoLock, MaxAutoLock].
func WithAutoLock(d time.Duration) Option {
	return func(s *Session) { s.autoLock = min(max(d, MinAutoLock), MaxAutoLock) }
}

type subscription struct {
	id uint64
	fn func(Event)
}

// unlockAttempt is one in-flight derivation. Callers unlocking with the same
// secret and salt while it runs share it instead of deriving again.
type unlockAttempt struct {
	gen     uint64
	secret  []byte
	salt    []byte
	waiters int
	done    chan struct{}
	err     error
}

func (a *unlockAttempt) matches(secret string, salt []byte) bool {
	return subtle.ConstantTimeCompare(a.secret, []byte(secret)) == 1 && bytes.Equal(a.salt, salt)
}

// Session holds the derived key while the vault is unlocked.
//
// The key slot is an atomic pointer: readers never take the state mutex and
// never observe a half-written key. Every transition is queued under the
// mutex and delivered to subscribers in order, outside of it, so subscribers
// may call back into the session.
type Session struct {
	clock  Clock
	log    logging.Logger
	derive deriveFunc

	key      atomic.Pointer[cryptox.DerivedKey]
	deadline atomic.Int64 // unix nanos of the auto-lock deadline, 0 when not unlocked

	mu       sync.Mutex
	status   Status
	gen      uint64
	attempt  *unlockAttempt
	autoLock time.Duration
	timer    Timer
	timerSeq uint64
	subs     []subscription
	nextSub  uint64
	pending  []Event
	resolved []*unlockAttempt
	flushing bool
}

// NewSession returns a Locked session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		clock:    SystemClock{},
		log:      logging.Nop{},
		derive:   cryptox.DeriveKey,
		autoLock: DefaultAutoLock,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "vault")
	return s
}

// Unlock derives the key from secret and salt and moves the session to
// Unlocked. It blocks until the derivation finishes, ctx is done, or the
// attempt is superseded.
//
// A call made while an identical attempt is in flight waits for that attempt.
// A call with a different secret or salt supersedes it: earlier waiters get
// ErrSuperseded and the earlier derivation result is discarded. Unlocking an
// already unlocked session is a no-op.
func (s *Session) Unlock(ctx context.Context, secret string, salt []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.status == Unlocked {
		s.mu.Unlock()
		return nil
	}

	a := s.attempt
	if a == nil || !a.matches(secret, salt) {
		if a != nil {
			s.resolveLocked(a, ErrSuperseded)
		}
		s.gen++
		a = &unlockAttempt{
			gen:    s.gen,
			secret: []byte(secret),
			salt:   bytes.Clone(salt),
			done:   make(chan struct{}),
		}
		s.attempt = a
		if s.status != Unlocking {
			s.transitionLocked(Unlocking, ReasonUnlockStarted)
		}
		go s.run(a, secret)
	}
	a.waiters++
	s.mu.Unlock()
	s.flush()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return s.abandon(a, ctx.Err())
	}
}

func (s *Session) run(a *unlockAttempt, secret string) {
	key, err := s.derive(secret, a.salt)

	s.mu.Lock()
	if s.attempt != a || s.gen != a.gen {
		s.mu.Unlock()
		s.log.Debug(context.Background(), "discarded stale key derivation", "generation", a.gen)
		return
	}
	if err != nil {
		s.transitionLocked(Locked, ReasonUnlockFailed)
		s.resolveLocked(a, err)
	} else {
		s.key.Store(key)
		s.transitionLocked(Unlocked, ReasonUnlocked)
		s.armLocked()
		s.resolveLocked(a, nil)
	}
	s.mu.Unlock()
	s.flush()
}

// abandon withdraws one waiter from a. When the last waiter leaves, the
// attempt is dropped and the session returns to Locked; a derivation that
// completes later is discarded.
func (s *Session) abandon(a *unlockAttempt, cause error) error {
	s.mu.Lock()
	if s.attempt != a {
		s.mu.Unlock()
		<-a.done
		return a.err
	}
	a.waiters--
	if a.waiters == 0 {
		s.gen++
		s.transitionLocked(Locked, ReasonUnlockAbandoned)
		s.resolveLocked(a, cause)
	}
	s.mu.Unlock()
	s.flush()
	return cause
}

// resolveLocked settles a. Its waiters are released by flush only after the
// events queued so far have been delivered, so an Unlock that returns has
// already been observed by every subscriber.
func (s *Session) resolveLocked(a *unlockAttempt, err error) {
	a.err = err
	common.WipeByteArray(a.secret)
	if s.attempt == a {
		s.attempt = nil
	}
	s.resolved = append(s.resolved, a)
}

// Lock drops the key before returning. An in-flight unlock is cancelled and
// its waiters get ErrSuperseded. The lock event reaches subscribers before
// Lock returns unless another goroutine is already draining events, in which
// case that goroutine delivers it.
func (s *Session) Lock() {
	s.lock(ReasonLock)
}

func (s *Session) lock(r Reason) {
	s.mu.Lock()
	s.lockLocked(r)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) lockLocked(r Reason) {
	switch s.status {
	case Unlocked:
		s.key.Store(nil)
		s.disarmLocked()
	case Unlocking:
		s.gen++
		s.resolveLocked(s.attempt, ErrSuperseded)
	default:
		return
	}
	s.transitionLocked(Locked, r)
}

// Key returns the live key, or ErrSessionLocked. Callers must fetch the key
// right before each cryptographic call instead of holding on to it.
func (s *Session) Key() (*cryptox.DerivedKey, error) {
	k := s.key.Load()
	if k == nil {
		return nil, ErrSessionLocked
	}
	if s.overdue() {
		s.expireOverdue()
		return nil, ErrSessionLocked
	}
	return k, nil
}

// KeySource adapts the session to batch operations that fetch the key per item.
func (s *Session) KeySource() cryptox.KeySource {
	return s.Key
}

// EncryptVariable seals a name/value pair under the session key.
func (s *Session) EncryptVariable(name, value string) (cryptox.EncryptedPair, error) {
	key, err := s.Key()
	if err != nil {
		return cryptox.EncryptedPair{}, err
	}
	return cryptox.EncryptVariable(name, value, key)
}

// DecryptVariable opens p under the session key.
func (s *Session) DecryptVariable(p cryptox.EncryptedPair) (cryptox.Pair, error) {
	key, err := s.Key()
	if err != nil {
		return cryptox.Pair{}, err
	}
	return cryptox.DecryptVariable(p, key)
}

func (s *Session) IsUnlocked() bool {
	_, err := s.Key()
	return err == nil
}

func (s *Session) Status() Status {
	s.expireOverdue()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TimeRemaining reports how long until auto-lock, or 0 when not unlocked.
func (s *Session) TimeRemaining() time.Duration {
	d := s.deadline.Load()
	if d == 0 {
		return 0
	}
	return max(time.Unix(0, d).Sub(s.clock.Now()), 0)
}

// Touch records user activity and pushes the auto-lock deadline forward.
func (s *Session) Touch() {
	s.mu.Lock()
	if s.status == Unlocked {
		if s.overdue() {
			s.lockLocked(ReasonTimeout)
		} else {
			s.armLocked()
		}
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) AutoLock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoLock
}

// SetAutoLock changes the auto-lock duration. When unlocked, the deadline is
// rescheduled immediately from now. A session already past its deadline
// locks instead.
func (s *Session) SetAutoLock(d time.Duration) error {
	if d < MinAutoLock || d > MaxAutoLock {
		return ErrInvalidAutoLock
	}
	s.mu.Lock()
	s.autoLock = d
	if s.status == Unlocked {
		if s.overdue() {
			s.lockLocked(ReasonTimeout)
		} else {
			s.armLocked()
		}
	}
	s.mu.Unlock()
	s.flush()
	return nil
}

// Subscribe registers fn for every transition. The returned func removes it.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
	}
}

func (s *Session) transitionLocked(to Status, r Reason) {
	from := s.status
	s.status = to
	s.pending = append(s.pending, Event{From: from, To: to, Reason: r, At: s.clock.Now()})
}

// flush delivers queued events in order and then releases settled unlock
// attempts. Only one goroutine drains the queue at a time; a transition made
// from inside a subscriber is queued and delivered by the same loop, so a
// caller that finds the queue already draining returns before its own event
// reaches subscribers. Subscribers must not call Unlock.
func (s *Session) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	defer func() {
		s.flushing = false
		s.mu.Unlock()
	}()

	for len(s.pending) > 0 || len(s.resolved) > 0 {
		if len(s.pending) == 0 {
			for _, a := range s.resolved {
				close(a.done)
			}
			s.resolved = nil
			continue
		}

		ev := s.pending[0]
		s.pending = s.pending[1:]
		subs := slices.Clone(s.subs)
		s.mu.Unlock()

		s.log.Info(context.Background(), "vault state changed",
			"from", ev.From.String(), "to", ev.To.String(), "reason", string(ev.Reason))
		for _, sub := range subs {
			sub.fn(ev)
		}

		s.mu.Lock()
	}
}

func (s *Session) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++
	seq := s.timerSeq
	s.deadline.Store(s.clock.Now().Add(s.autoLock).UnixNano())
	s.timer = s.clock.AfterFunc(s.autoLock, func() { s.expire(seq) })
}

func (s *Session) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
	s.deadline.Store(0)
}

// expire is the timer callback; seq guards against a timer that fired after
// it was re-armed or stopped.
func (s *Session) expire(seq uint64) {
	s.mu.Lock()
	if seq != s.timerSeq || s.status != Unlocked {
		s.mu.Unlock()
		return
	}
	s.lockLocked(ReasonTimeout)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) overdue() bool {
	d := s.deadline.Load()
	return d != 0 && !s.clock.Now().Before(time.Unix(0, d))
}

// expireOverdue locks a session whose deadline passed before its timer ran.
func (s *Session) expireOverdue() {
	if !s.overdue() {
		return
	}
	s.mu.Lock()
	if s.status == Unlocked && s.overdue() {
		s.lockLocked(ReasonTimeout)
	}
	s.mu.Unlock()
	s.flush()
}
