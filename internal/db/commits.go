package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxmark/boxmark/internal/document"
)

var (
	ErrNoCommits       = errors.New("no commits for session")
	ErrDuplicateCommit = errors.New("commit already stored")
)

// CommitStore persists committed annotations per session.
type CommitStore interface {
	Save(ctx context.Context, c *document.Commit) error
	Latest(ctx context.Context, sessionID string) (*document.Commit, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS commits (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	boxes      JSONB NOT NULL,
	image      JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS commits_session_created ON commits (session_id, created_at DESC);
`

// PGCommitStore keeps commits in Postgres.
type PGCommitStore struct {
	pool *pgxpool.Pool
}

func NewPGCommitStore(pool *pgxpool.Pool) *PGCommitStore {
	return &PGCommitStore{pool: pool}
}

// EnsureSchema creates the commits table if it does not exist.
func (s *PGCommitStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PGCommitStore) Save(ctx context.Context, c *document.Commit) error {
	boxes, err := json.Marshal(c.Boxes)
	if err != nil {
		return fmt.Errorf("marshal boxes: %w", err)
	}
	var image []byte
	if c.Image != nil {
		if image, err = json.Marshal(c.Image); err != nil {
			return fmt.Errorf("marshal image: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO commits (id, session_id, boxes, image, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.SessionID, boxes, image, c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateCommit
		}
		return fmt.Errorf("insert commit: %w", err)
	}
	return nil
}

func (s *PGCommitStore) Latest(ctx context.Context, sessionID string) (*document.Commit, error) {
	var (
		c     document.Commit
		boxes []byte
		image []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, boxes, image, created_at FROM commits
		 WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`,
		sessionID).Scan(&c.ID, &c.SessionID, &boxes, &image, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCommits
		}
		return nil, fmt.Errorf("get latest commit: %w", err)
	}

	if err := json.Unmarshal(boxes, &c.Boxes); err != nil {
		return nil, fmt.Errorf("unmarshal boxes: %w", err)
	}
	if len(image) > 0 {
		c.Image = &document.Snapshot{}
		if err := json.Unmarshal(image, c.Image); err != nil {
			return nil, fmt.Errorf("unmarshal image: %w", err)
		}
	}
	return &c, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// MemoryCommitStore keeps commits in process. Used when no database is
// configured and in tests.
type MemoryCommitStore struct {
	mu      sync.RWMutex
	commits map[string][]*document.Commit // sessionID -> commits, oldest first
}

func NewMemoryCommitStore() *MemoryCommitStore {
	return &MemoryCommitStore{commits: make(map[string][]*document.Commit)}
}

func (s *MemoryCommitStore) Save(ctx context.Context, c *document.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.commits[c.SessionID] {
		if existing.ID == c.ID {
			return ErrDuplicateCommit
		}
	}
	cp := *c
	cp.Boxes = append([]document.CommitBox(nil), c.Boxes...)
	s.commits[c.SessionID] = append(s.commits[c.SessionID], &cp)
	return nil
}

func (s *MemoryCommitStore) Latest(ctx context.Context, sessionID string) (*document.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.commits[sessionID]
	if len(list) == 0 {
		return nil, ErrNoCommits
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

// Count returns how many commits were stored for sessionID.
func (s *MemoryCommitStore) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.commits[sessionID])
}
