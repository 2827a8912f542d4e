// Package memory is an in-process implementation of the session layer
// contracts. It backs the debug routes of the bridge server and the tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/session"
)

type ServiceOption func(*Service)

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service tracks the live in-memory sessions.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session
	onStart  *events.Emitter[session.Session]
	now      func() time.Time
	logger   zerolog.Logger
}

var _ session.Service = &Service{}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		sessions: map[string]*Session{},
		onStart:  events.NewEmitter[session.Session](),
		now:      time.Now,
		logger:   log.With().Str("component", "session-memory").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession registers a session, drives it to ready and fires the start
// event. An empty SessionID is replaced with a generated one.
func (s *Service) StartSession(_ context.Context, md session.Metadata) (*Session, error) {
	md.SessionID = strings.TrimSpace(md.SessionID)
	if md.SessionID == "" {
		md.SessionID = uuid.NewString()
	}
	if md.Mode == "" {
		md.Mode = session.ModeInteractive
	}
	if md.Mode == session.ModeNotebook && strings.TrimSpace(md.NotebookURI) == "" {
		return nil, errors.New("notebook session requires a notebook uri")
	}
	if md.CreatedAt.IsZero() {
		md.CreatedAt = s.now()
	}

	s.mu.Lock()
	if _, ok := s.sessions[md.SessionID]; ok {
		s.mu.Unlock()
		return nil, errors.Errorf("session %s already exists", md.SessionID)
	}
	sess := newSession(s, md, s.now)
	s.sessions[md.SessionID] = sess
	s.mu.Unlock()

	sess.SetState(session.StateStarting)
	sess.SetState(session.StateReady)
	s.logger.Debug().Str("session_id", md.SessionID).Str("mode", string(md.Mode)).Msg("session started")
	s.onStart.Fire(sess)
	return sess, nil
}

func (s *Service) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// EndSession ends the session with the given id.
func (s *Service) EndSession(id, reason string) error {
	sess, ok := s.Session(id)
	if !ok {
		return errors.Wrapf(session.ErrSessionUnknown, "session %s", id)
	}
	sess.EndSession(reason)
	return nil
}

func (s *Service) ActiveSessions() []session.Session {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.sessions[id])
	}
	s.mu.Unlock()
	return out
}

func (s *Service) OnDidStartRuntime(fn func(session.Session)) events.Subscription {
	return s.onStart.Subscribe(fn)
}

// ListenerCount reports listeners on the start event.
func (s *Service) ListenerCount() int {
	return s.onStart.ListenerCount()
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
