package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// ErrSessionNotFound is returned for unknown or already closed session ids.
var ErrSessionNotFound = errors.New("app: session not found")

// finishedRetention is how long a finished session stays readable before it
// is closed and forgotten.
const finishedRetention = 10 * time.Minute

// unfinishedTTL is how long a session that has not finished may go without
// a client request before it is closed and forgotten. It bounds sessions
// whose start failed and was abandoned or whose engine never answers.
const unfinishedTTL = time.Hour

// managed is one live session plus the channel its navigation decisions are
// published on.
type managed struct {
	session  *interview.Session
	navigate chan interview.Destination
	evict    *time.Timer
	idle     *time.Timer
	released chan struct{}
}

// release stops the timers and the watcher goroutine. Callers hold the
// manager lock and have already removed m from the map.
func (m *managed) release() {
	if m.evict != nil {
		m.evict.Stop()
	}
	m.idle.Stop()
	close(m.released)
}

// SessionManager keeps the live sessions keyed by their public id. Retry
// swaps in a fresh session under the same id. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	factory   *interview.Factory
	retention time.Duration
	idleTTL   time.Duration

	mu       sync.Mutex
	sessions map[string]*managed
}

// NewSessionManager creates a manager whose sessions run on p. opts configure
// the underlying [interview.Factory]; the manager is always its navigator.
func NewSessionManager(p voice.Provider, opts ...interview.Option) *SessionManager {
	sm := &SessionManager{
		retention: finishedRetention,
		idleTTL:   unfinishedTTL,
		sessions:  make(map[string]*managed),
	}
	sm.factory = interview.NewFactory(p, append(opts, interview.WithNavigator(sm))...)
	return sm
}

// Navigate publishes d to whoever watches the session (the audio bridge).
func (sm *SessionManager) Navigate(_ context.Context, sessionID string, d interview.Destination) {
	sm.mu.Lock()
	m, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return
	}
	select {
	case m.navigate <- d:
	default:
	}
	slog.Debug("session navigated", "session_id", sessionID, "destination", d)
}

// Start creates a session and starts its call. The session is kept even when
// the start fails so the caller can read the error and start again.
func (sm *SessionManager) Start(ctx context.Context, p interview.Params) (snap interview.Snapshot, err error) {
	ctx, span := observe.StartSpan(ctx, "session.start", attribute.String("interview.mode", string(p.Mode)))
	defer func() { observe.EndSpan(span, err) }()

	s, err := sm.factory.New(p)
	if err != nil {
		return interview.Snapshot{}, err
	}
	sm.track(s)
	err = s.StartCall(observe.WithSessionID(ctx, s.ID()))
	return s.Snapshot(), err
}

// StartAgain starts a new call on an idle session after a failed start.
func (sm *SessionManager) StartAgain(ctx context.Context, id string) (interview.Snapshot, error) {
	m, err := sm.get(id)
	if err != nil {
		return interview.Snapshot{}, err
	}
	err = m.session.StartCall(ctx)
	return m.session.Snapshot(), err
}

// Stop asks the engine to end the call.
func (sm *SessionManager) Stop(id string) (interview.Snapshot, error) {
	m, err := sm.get(id)
	if err != nil {
		return interview.Snapshot{}, err
	}
	err = m.session.StopCall()
	return m.session.Snapshot(), err
}

// Retry discards the session under id, replaces it with a fresh one with the
// same parameters and starts its call.
func (sm *SessionManager) Retry(ctx context.Context, id string) (snap interview.Snapshot, err error) {
	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, id), "session.retry")
	defer func() { observe.EndSpan(span, err) }()

	sm.mu.Lock()
	old, ok := sm.sessions[id]
	if !ok {
		sm.mu.Unlock()
		return interview.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(sm.sessions, id)
	old.release()
	sm.mu.Unlock()

	s, err := sm.factory.Retry(old.session)
	if err != nil {
		return interview.Snapshot{}, err
	}
	sm.track(s)
	err = s.StartCall(ctx)
	return s.Snapshot(), err
}

// Get returns a snapshot of the session.
func (sm *SessionManager) Get(id string) (interview.Snapshot, error) {
	m, err := sm.get(id)
	if err != nil {
		return interview.Snapshot{}, err
	}
	return m.session.Snapshot(), nil
}

// Session returns the live session and its navigation channel.
func (sm *SessionManager) Session(id string) (*interview.Session, <-chan interview.Destination, error) {
	m, err := sm.get(id)
	if err != nil {
		return nil, nil, err
	}
	return m.session, m.navigate, nil
}

// Close ends and forgets the session.
func (sm *SessionManager) Close(id string) error {
	sm.mu.Lock()
	m, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
		m.release()
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.session.Close()
	return nil
}

// CloseAll ends every session. Used during shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*managed)
	for _, m := range all {
		m.release()
	}
	sm.mu.Unlock()

	for _, m := range all {
		m.session.Close()
	}
	if len(all) > 0 {
		slog.Info("closed all sessions", "count", len(all))
	}
}

// Len returns the number of tracked sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// get looks up id and counts the lookup as client activity.
func (sm *SessionManager) get(id string) (*managed, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	m, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if m.evict == nil {
		m.idle.Reset(sm.idleTTL)
	}
	return m, nil
}

// track registers s. An unfinished session is dropped after idleTTL without
// client activity; a finished one is dropped retention after it finished.
func (sm *SessionManager) track(s *interview.Session) {
	m := &managed{
		session:  s,
		navigate: make(chan interview.Destination, 1),
		released: make(chan struct{}),
	}
	sm.mu.Lock()
	m.idle = time.AfterFunc(sm.idleTTL, func() {
		slog.Info("closing idle session", "session_id", s.ID(), "state", s.Snapshot().State)
		sm.drop(s.ID(), m)
	})
	sm.sessions[s.ID()] = m
	sm.mu.Unlock()

	go func() {
		select {
		case <-s.Done():
		case <-m.released:
			return
		}
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if sm.sessions[s.ID()] != m {
			return
		}
		m.idle.Stop()
		m.evict = time.AfterFunc(sm.retention, func() { sm.drop(s.ID(), m) })
	}()
}

// drop forgets and closes m if it is still the session tracked under id.
func (sm *SessionManager) drop(id string, m *managed) {
	sm.mu.Lock()
	current := sm.sessions[id] == m
	if current {
		delete(sm.sessions, id)
		m.release()
	}
	sm.mu.Unlock()
	if current {
		m.session.Close()
	}
}
