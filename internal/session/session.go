package session

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
)

// Session is one annotation surface: an engine, its event sequence and at
// most one attached editor.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	engine     *engine.Engine
	seq        int64
	client     *Client
	background image.Image
}

func newSession(id string, eng *engine.Engine) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		engine:    eng,
	}
}

// apply dispatches ev from sender and returns the state after it. Only the
// attached editor may change the session.
func (s *Session) apply(sender *Client, ev engine.Event) (engine.State, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender == nil || s.client != sender {
		return engine.State{}, s.seq, false, ErrNotAttached
	}

	commit, err := s.engine.Dispatch(ev)
	if err != nil {
		return engine.State{}, s.seq, false, err
	}
	s.seq++
	return s.engine.State(), s.seq, commit, nil
}

// State returns the current editor state and sequence number.
func (s *Session) State() (engine.State, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State(), s.seq
}

// Config returns the session configuration.
func (s *Session) Config() *document.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Config()
}

// Connected reports whether an editor is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// loadBackground returns the background image, fetching it once. fetched
// reports whether this call did the fetch.
func (s *Session) loadBackground(ctx context.Context, images ImageSource) (image.Image, bool, error) {
	s.mu.Lock()
	bg := s.background
	url := s.engine.Config().ImageURL
	s.mu.Unlock()
	if bg != nil {
		return bg, false, nil
	}

	img, err := images.Load(ctx, url)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.background != nil {
		return s.background, false, nil
	}
	s.background = img
	return img, true, nil
}
