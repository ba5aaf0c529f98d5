package session

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/boxmark/boxmark/internal/db"
	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
	"github.com/boxmark/boxmark/internal/snapshot"
	"github.com/boxmark/boxmark/internal/typeid"
)

type fakeImages struct {
	img    image.Image
	err    error
	loads  int
	probes int
}

func (f *fakeImages) Load(ctx context.Context, url string) (image.Image, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func (f *fakeImages) Probe(ctx context.Context, url string) (int, int, error) {
	f.probes++
	if f.err != nil {
		return 0, 0, f.err
	}
	b := f.img.Bounds()
	return b.Dx(), b.Dy(), nil
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func newTestHub(t *testing.T, images ImageSource) (*Hub, *db.MemoryCommitStore) {
	t.Helper()
	renderer, err := snapshot.NewRenderer()
	if err != nil {
		t.Fatal(err)
	}
	store := db.NewMemoryCommitStore()
	hub := NewHub(Options{
		Store:              store,
		Images:             images,
		Renderer:           renderer,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		SnapshotTimeout:    time.Second,
		DefaultDeleteLabel: "Del",
	})
	return hub, store
}

func newTestClient(hub *Hub, sessionID string) *Client {
	return NewClient(hub, nil, sessionID, "client-"+sessionID)
}

// attach connects an editor to the session and consumes its welcome.
func attach(t *testing.T, hub *Hub, sessionID string) *Client {
	t.Helper()
	c := newTestClient(hub, sessionID)
	hub.addClient(c)
	if msg := next(t, c); msg.Type != TypeWelcome {
		t.Fatalf("attach: got %s, want welcome", msg.Type)
	}
	return c
}

func isFinished(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// next reads one queued outbound message.
func next(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode outbound: %v", err)
		}
		return &msg
	default:
		t.Fatal("no message queued")
	}
	return nil
}

func event(t *testing.T, ev engine.Event) *Message {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &Message{Type: string(ev.Type), Payload: data}
}

func TestCreateProbesImageSize(t *testing.T) {
	images := &fakeImages{img: solidImage(400, 300)}
	hub, _ := newTestHub(t, images)

	cfg := document.NewSampleConfig("https://example.com/img.jpg", 0, 0)
	cfg.ImageSize = nil

	sess, err := hub.Create(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if images.probes != 1 {
		t.Errorf("probes: got %d, want 1", images.probes)
	}
	st, seq := sess.State()
	if seq != 0 {
		t.Errorf("seq: got %d, want 0", seq)
	}
	if st.FrameHeight != 300 {
		t.Errorf("FrameHeight: got %v, want 300", st.FrameHeight)
	}
	if len(st.Rectangles) != 2 {
		t.Errorf("rectangles: got %d, want 2", len(st.Rectangles))
	}
	if got, _ := hub.Get(sess.ID); got != sess {
		t.Error("Get did not return the created session")
	}
}

func TestCreateRejects(t *testing.T) {
	hub, _ := newTestHub(t, &fakeImages{err: errors.New("offline")})

	noLabels := document.NewSampleConfig("/assets/a.png", 400, 300)
	noLabels.LabelList = nil
	if _, err := hub.Create(context.Background(), noLabels); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("no labels: got %v, want ErrInvalidConfig", err)
	}

	unsized := document.NewSampleConfig("/assets/a.png", 0, 0)
	unsized.ImageSize = nil
	if _, err := hub.Create(context.Background(), unsized); !errors.Is(err, ErrImageSize) {
		t.Errorf("probe failure: got %v, want ErrImageSize", err)
	}
}

func TestSecondEditorRefused(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	sess, err := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))
	if err != nil {
		t.Fatal(err)
	}

	first := attach(t, hub, sess.ID)
	if !first.Attached() {
		t.Fatal("first editor not attached")
	}

	second := NewClient(hub, nil, sess.ID, "other")
	hub.addClient(second)
	if msg := next(t, second); msg.Type != TypeError {
		t.Fatalf("second: got %s, want error", msg.Type)
	}
	if second.Attached() || !isFinished(second) {
		t.Fatal("refused client should be finished and unattached")
	}

	// events read from the refused socket before it closes are dropped
	hub.handleMessage(context.Background(), second, event(t, engine.Event{Type: engine.EventModeChange, Mode: "Del"}))
	hub.handleMessage(context.Background(), second, &Message{Type: string(engine.EventCommit)})
	st, seq := sess.State()
	if st.Mode != "Transform" {
		t.Errorf("mode: got %q, want Transform", st.Mode)
	}
	if seq != 0 {
		t.Errorf("seq: got %d, want 0", seq)
	}
	if len(second.send) != 0 {
		t.Errorf("refused client got %d more messages", len(second.send))
	}
	if second.Send(&Message{Type: TypeState}) {
		t.Error("Send on a finished client reported success")
	}

	// the refused client leaving must not detach the real editor
	hub.removeClient(second)
	if !sess.Connected() {
		t.Error("editor detached by refused client")
	}

	hub.handleMessage(context.Background(), first, event(t, engine.Event{Type: engine.EventModeChange, Mode: "Del"}))
	if msg := next(t, first); msg.Type != TypeState || msg.Seq != 1 {
		t.Errorf("first editor: got %s seq %d, want state seq 1", msg.Type, msg.Seq)
	}

	hub.removeClient(first)
	if sess.Connected() {
		t.Error("editor still attached after leaving")
	}
	if first.Attached() || !isFinished(first) {
		t.Error("detached editor should be finished")
	}
	hub.handleMessage(context.Background(), first, event(t, engine.Event{Type: engine.EventModeChange, Mode: "Transform"}))
	if st, _ := sess.State(); st.Mode != "Del" {
		t.Errorf("detached editor changed mode to %q", st.Mode)
	}
}

func TestRegisterAfterStop(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	sess, _ := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))
	hub.Stop()

	c := newTestClient(hub, sess.ID)
	hub.Register(c)
	if !isFinished(c) {
		t.Fatal("client registered after Stop should be finished")
	}
	if c.Send(&Message{Type: TypeState}) {
		t.Error("Send after Stop reported success")
	}
	hub.Unregister(c)
}

func TestDeleteFinishesEditor(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	sess, _ := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))
	c := attach(t, hub, sess.ID)

	if err := hub.Delete(sess.ID); err != nil {
		t.Fatal(err)
	}
	if !isFinished(c) {
		t.Error("editor of a deleted session should be finished")
	}
	hub.removeClient(c)
}

func TestGetRejectsMalformedID(t *testing.T) {
	hub, _ := newTestHub(t, nil)

	for _, id := range []string{"", "bbox-0", "not-a-session", typeid.NewBoxID()} {
		if _, err := hub.Get(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Get(%q): got %v, want ErrInvalidID", id, err)
		}
	}
	if _, err := hub.Get(typeid.NewSessionID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: got %v, want ErrNotFound", err)
	}
}

func TestDragCreatesRectangle(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	sess, _ := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))
	c := attach(t, hub, sess.ID)

	ctx := context.Background()
	hub.handleMessage(ctx, c, event(t, engine.Event{Type: engine.EventPointerDown, X: 200, Y: 200}))
	hub.handleMessage(ctx, c, event(t, engine.Event{Type: engine.EventPointerMove, X: 240, Y: 230}))
	hub.handleMessage(ctx, c, event(t, engine.Event{Type: engine.EventPointerUp, X: 250, Y: 260}))

	var st engine.State
	var last *Message
	for i := 0; i < 3; i++ {
		last = next(t, c)
		if last.Type != TypeState {
			t.Fatalf("message %d: got %s, want state", i, last.Type)
		}
	}
	if last.Seq != 3 {
		t.Errorf("seq: got %d, want 3", last.Seq)
	}
	if err := json.Unmarshal(last.Payload, &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Rectangles) != 3 {
		t.Fatalf("rectangles: got %d, want 3", len(st.Rectangles))
	}
	created := st.Rectangles[2]
	if created.ID != st.SelectedID {
		t.Errorf("created rectangle not selected: %s vs %s", created.ID, st.SelectedID)
	}
	if created.X != 200 || created.Y != 200 || created.Width != 50 || created.Height != 60 {
		t.Errorf("geometry: got %+v", created.Rectangle)
	}
	if created.Label != "deer" {
		t.Errorf("label: got %q, want deer", created.Label)
	}
}

func TestUnknownEventReportsError(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	sess, _ := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))
	c := attach(t, hub, sess.ID)

	hub.handleMessage(context.Background(), c, &Message{Type: "shape.rotate"})
	msg := next(t, c)
	if msg.Type != TypeError {
		t.Fatalf("got %s, want error", msg.Type)
	}
	if _, seq := sess.State(); seq != 0 {
		t.Errorf("rejected event advanced seq to %d", seq)
	}

	hub.handleMessage(context.Background(), c, &Message{Type: string(engine.EventPointerDown), Payload: json.RawMessage(`{"x":"left"}`)})
	if msg := next(t, c); msg.Type != TypeError {
		t.Errorf("bad payload: got %s, want error", msg.Type)
	}
}

func TestCommitSurvivesSnapshotFailure(t *testing.T) {
	images := &fakeImages{err: errors.New("image host down")}
	hub, store := newTestHub(t, images)

	cfg := document.NewSampleConfig("/assets/a.png", 400, 300)
	cfg.IncludeSnapshot = true
	sess, _ := hub.Create(context.Background(), cfg)
	c := attach(t, hub, sess.ID)

	hub.handleMessage(context.Background(), c, &Message{Type: string(engine.EventCommit)})
	if msg := next(t, c); msg.Type != TypeState {
		t.Fatalf("got %s, want state", msg.Type)
	}
	msg := next(t, c)
	if msg.Type != TypeCommitAck {
		t.Fatalf("got %s, want commit.ack", msg.Type)
	}

	var ack struct {
		CommitID string `json:"commitId"`
		Value    struct {
			Boxes []document.CommitBox `json:"currentBboxValue"`
			Image *document.Snapshot   `json:"imgJson"`
		} `json:"value"`
	}
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if len(ack.Value.Boxes) != 2 {
		t.Errorf("boxes: got %d, want 2", len(ack.Value.Boxes))
	}
	if ack.Value.Image != nil {
		t.Errorf("image: got %+v, want nil", ack.Value.Image)
	}
	if store.Count(sess.ID) != 1 {
		t.Errorf("stored commits: got %d, want 1", store.Count(sess.ID))
	}
}

func TestCommitWithSnapshot(t *testing.T) {
	images := &fakeImages{img: solidImage(400, 300)}
	hub, _ := newTestHub(t, images)

	cfg := document.NewSampleConfig("/assets/a.png", 400, 300)
	cfg.IncludeSnapshot = true
	sess, _ := hub.Create(context.Background(), cfg)

	commit, err := hub.Commit(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if commit.Image == nil || commit.Image.MimeType != snapshot.MimeType || commit.Image.Data == "" {
		t.Fatalf("image: got %+v", commit.Image)
	}

	// the background is fetched once per session
	if _, err := hub.Commit(context.Background(), sess.ID); err != nil {
		t.Fatal(err)
	}
	if images.loads != 1 {
		t.Errorf("loads: got %d, want 1", images.loads)
	}

	latest, err := hub.Latest(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.SessionID != sess.ID || len(latest.Boxes) != 2 {
		t.Errorf("latest: got %+v", latest)
	}
}

func TestSpaceCommits(t *testing.T) {
	hub, store := newTestHub(t, nil)
	sess, _ := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))
	c := attach(t, hub, sess.ID)

	hub.handleMessage(context.Background(), c, event(t, engine.Event{Type: engine.EventKeyDown, Key: "a"}))
	next(t, c)
	if store.Count(sess.ID) != 0 {
		t.Fatal("non-space key committed")
	}

	hub.handleMessage(context.Background(), c, event(t, engine.Event{Type: engine.EventKeyDown, Key: " "}))
	next(t, c)
	msg := next(t, c)
	if msg.Type != TypeCommitAck {
		t.Fatalf("got %s, want commit.ack", msg.Type)
	}
	var ack struct {
		Value []document.CommitBox `json:"value"`
	}
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if len(ack.Value) != 2 || ack.Value[0].Label != "deer" || ack.Value[1].LabelID != 3 {
		t.Errorf("value: got %+v", ack.Value)
	}
}

func TestDelete(t *testing.T) {
	hub, _ := newTestHub(t, nil)
	sess, _ := hub.Create(context.Background(), document.NewSampleConfig("/assets/a.png", 400, 300))

	if err := hub.Delete(sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := hub.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: got %v", err)
	}
	if err := hub.Delete(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}
