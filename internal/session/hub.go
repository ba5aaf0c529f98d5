package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/boxmark/boxmark/internal/db"
	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
	"github.com/boxmark/boxmark/internal/snapshot"
	"github.com/boxmark/boxmark/internal/typeid"
)

const snapshotName = "annotation.png"

var (
	ErrNotFound        = errors.New("session not found")
	ErrInvalidConfig   = errors.New("invalid session config")
	ErrEditorConnected = errors.New("session already has an editor")
	ErrImageSize       = errors.New("could not determine image size")
	ErrInvalidID       = errors.New("invalid session id")
	ErrNotAttached     = errors.New("client is not the session editor")
)

// ImageSource loads background images by URL.
type ImageSource interface {
	Load(ctx context.Context, url string) (image.Image, error)
	Probe(ctx context.Context, url string) (int, int, error)
}

// Options configures a Hub.
type Options struct {
	Store              db.CommitStore
	Images             ImageSource
	Renderer           *snapshot.Renderer
	Logger             *slog.Logger
	SnapshotTimeout    time.Duration
	DefaultDeleteLabel string
}

// Hub owns all live sessions and routes editor connections to them.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]*Session // sessionID -> session
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	store              db.CommitStore
	images             ImageSource
	renderer           *snapshot.Renderer
	logger             *slog.Logger
	snapshotTimeout    time.Duration
	defaultDeleteLabel string
}

func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SnapshotTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hub{
		sessions:           make(map[string]*Session),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		stop:               make(chan struct{}),
		store:              opts.Store,
		images:             opts.Images,
		renderer:           opts.Renderer,
		logger:             logger,
		snapshotTimeout:    timeout,
		defaultDeleteLabel: opts.DefaultDeleteLabel,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.stop:
			return
		}
	}
}

// Stop ends Run and disconnects every editor.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)

		h.mu.RLock()
		var clients []*Client
		for _, sess := range h.sessions {
			sess.mu.Lock()
			if sess.client != nil {
				clients = append(clients, sess.client)
			}
			sess.mu.Unlock()
		}
		h.mu.RUnlock()

		for _, c := range clients {
			c.finish(websocket.StatusGoingAway, "server shutting down")
		}
	})
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
		client.finish(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Create validates cfg, fills in the image size if the host left it out,
// and starts a new session.
func (h *Hub) Create(ctx context.Context, cfg *document.SessionConfig) (*Session, error) {
	if cfg.DeleteLabel == "" {
		cfg.DeleteLabel = h.defaultDeleteLabel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if !cfg.HasImageSize() {
		if h.images == nil {
			return nil, fmt.Errorf("%w: no image source", ErrImageSize)
		}
		w, ht, err := h.images.Probe(ctx, cfg.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageSize, err)
		}
		cfg.ImageSize = []int{w, ht}
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	sess := newSession(typeid.NewSessionID(), eng)
	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.mu.Unlock()

	h.logger.Info("session created", "session", sess.ID, "boxes", len(cfg.BBoxInfo), "labels", len(cfg.LabelList))
	return sess, nil
}

func (h *Hub) Get(id string) (*Session, error) {
	if err := typeid.Validate(id, typeid.PrefixSession); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes a session and drops its editor connection.
func (h *Hub) Delete(id string) error {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	client := sess.client
	sess.mu.Unlock()
	if client != nil {
		client.finish(websocket.StatusGoingAway, "session deleted")
	}

	h.logger.Info("session deleted", "session", id)
	return nil
}

// Commit captures the session's rectangles, renders a snapshot when the
// session asks for one and stores the result. A failed snapshot never
// blocks the commit.
func (h *Hub) Commit(ctx context.Context, id string) (*document.Commit, error) {
	sess, err := h.Get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	c := sess.engine.Commit()
	cfg := sess.engine.Config()
	scene := snapshot.Scene{
		Rectangles:  sess.engine.Views(),
		Palette:     sess.engine.Palette(),
		StrokeWidth: cfg.LineWidth,
		Scale:       sess.engine.Scale(),
		ImageWidth:  cfg.ImageWidth(),
		ImageHeight: cfg.ImageHeight(),
	}
	sess.mu.Unlock()

	c.ID = typeid.NewCommitID()
	c.SessionID = id
	if cfg.IncludeSnapshot {
		c.Image = h.renderSnapshot(ctx, sess, scene)
	}

	if h.store != nil {
		if err := h.store.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("save commit: %w", err)
		}
	}

	h.logger.Info("session committed", "session", id, "commit", c.ID, "boxes", len(c.Boxes), "snapshot", c.Image != nil)
	return c, nil
}

// Latest returns the most recent stored commit of a session.
func (h *Hub) Latest(ctx context.Context, id string) (*document.Commit, error) {
	if h.store == nil {
		return nil, db.ErrNoCommits
	}
	return h.store.Latest(ctx, id)
}

// Scene assembles the current drawing of a session at the given scale.
func (h *Hub) Scene(ctx context.Context, id string, scale float64) (snapshot.Scene, error) {
	sess, err := h.Get(id)
	if err != nil {
		return snapshot.Scene{}, err
	}
	if h.images == nil {
		return snapshot.Scene{}, snapshot.ErrNoImage
	}
	bg, err := h.background(ctx, sess)
	if err != nil {
		return snapshot.Scene{}, fmt.Errorf("load background: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	cfg := sess.engine.Config()
	return snapshot.Scene{
		Background:  bg,
		Rectangles:  sess.engine.Views(),
		Palette:     sess.engine.Palette(),
		StrokeWidth: cfg.LineWidth,
		Scale:       scale,
		ImageWidth:  cfg.ImageWidth(),
		ImageHeight: cfg.ImageHeight(),
	}, nil
}

// background loads the session's background image. Rectangles are placed
// against image_size, so a fetched image of another size gets stretched.
func (h *Hub) background(ctx context.Context, sess *Session) (image.Image, error) {
	bg, fetched, err := sess.loadBackground(ctx, h.images)
	if err != nil {
		return nil, err
	}
	if fetched {
		cfg := sess.Config()
		b := bg.Bounds()
		if float64(b.Dx()) != cfg.ImageWidth() || float64(b.Dy()) != cfg.ImageHeight() {
			h.logger.Warn("background size differs from image_size",
				"session", sess.ID,
				"fetched", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
				"configured", fmt.Sprintf("%vx%v", cfg.ImageWidth(), cfg.ImageHeight()))
		}
	}
	return bg, nil
}

func (h *Hub) renderSnapshot(ctx context.Context, sess *Session, scene snapshot.Scene) *document.Snapshot {
	if h.renderer == nil || h.images == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.snapshotTimeout)
	defer cancel()

	bg, err := h.background(ctx, sess)
	if err != nil {
		h.logger.Warn("snapshot background unavailable", "session", sess.ID, "error", err)
		return nil
	}
	scene.Background = bg

	snap, err := h.renderer.Encode(ctx, snapshotName, scene)
	if err != nil {
		h.logger.Warn("snapshot render failed", "session", sess.ID, "error", err)
		return nil
	}
	return snap
}

func (h *Hub) addClient(client *Client) {
	sess, err := h.Get(client.SessionID)
	if err != nil {
		client.Send(errorMessage(client.SessionID, err))
		client.finish(websocket.StatusPolicyViolation, "session not found")
		return
	}

	sess.mu.Lock()
	if sess.client != nil {
		sess.mu.Unlock()
		client.Send(errorMessage(client.SessionID, ErrEditorConnected))
		client.finish(websocket.StatusPolicyViolation, ErrEditorConnected.Error())
		h.logger.Warn("editor refused", "session", sess.ID, "client", client.ClientID)
		return
	}
	sess.client = client
	client.attached.Store(true)
	st, seq := sess.engine.State(), sess.seq
	sess.mu.Unlock()

	client.Send(newMessage(TypeWelcome, sess.ID, seq, WelcomePayload{
		ClientID: client.ClientID,
		State:    st,
	}))

	h.logger.Info("editor joined", "session", sess.ID, "client", client.ClientID)
}

func (h *Hub) removeClient(client *Client) {
	client.finish(websocket.StatusNormalClosure, "")

	sess, err := h.Get(client.SessionID)
	if err != nil {
		return
	}

	sess.mu.Lock()
	if sess.client != client {
		sess.mu.Unlock()
		return
	}
	sess.client = nil
	sess.mu.Unlock()

	h.logger.Info("editor left", "session", sess.ID, "client", client.ClientID)
}

func (h *Hub) handleMessage(ctx context.Context, sender *Client, msg *Message) {
	sess, err := h.Get(sender.SessionID)
	if err != nil {
		sender.Send(errorMessage(sender.SessionID, err))
		return
	}

	ev, err := decodeEvent(msg)
	if err != nil {
		h.logger.Warn("invalid event payload", "error", err, "type", msg.Type)
		sender.Send(errorMessage(sess.ID, fmt.Errorf("invalid %s payload", msg.Type)))
		return
	}

	st, seq, commitRequested, err := sess.apply(sender, ev)
	if errors.Is(err, ErrNotAttached) {
		h.logger.Warn("dropping message from detached client", "type", msg.Type, "session", sess.ID, "client", sender.ClientID)
		return
	}
	if err != nil {
		h.logger.Warn("event rejected", "error", err, "type", msg.Type, "session", sess.ID)
		sender.Send(errorMessage(sess.ID, err))
		return
	}
	sender.Send(newMessage(TypeState, sess.ID, seq, st))

	if !commitRequested {
		return
	}
	c, err := h.Commit(ctx, sess.ID)
	if err != nil {
		h.logger.Error("commit failed", "error", err, "session", sess.ID)
		sender.Send(errorMessage(sess.ID, errors.New("commit failed")))
		return
	}
	sender.Send(newMessage(TypeCommitAck, sess.ID, seq, CommitAckPayload{
		CommitID: c.ID,
		Value:    c.HostPayload(sess.Config().IncludeSnapshot),
	}))
}
