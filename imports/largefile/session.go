// Package largefile handles uploads too big for a single request: chunked
// upload sessions, chunk storage, lazy batch readers and the janitor that
// purges abandoned sessions.
package largefile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionExpired  = errors.New("upload session expired")
)

// Session tracks which chunks of an upload have arrived. Chunks are numbered
// 0..ExpectedChunks-1 and recorded by number, so re-sent or out-of-order
// chunks are harmless.
type Session struct {
	UploadID       string    `json:"upload_id"`
	TenantID       string    `json:"tenant_id"`
	Filename       string    `json:"filename"`
	TotalSize      int64     `json:"total_size"`
	ChunkSize      int64     `json:"chunk_size"`
	ExpectedChunks int       `json:"expected_chunks"`
	Received       []int     `json:"chunks_received"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (s *Session) has(n int) bool {
	i := sort.SearchInts(s.Received, n)
	return i < len(s.Received) && s.Received[i] == n
}

func (s *Session) IsComplete() bool {
	return len(s.Received) == s.ExpectedChunks
}

func (s *Session) MissingChunks() []int {
	missing := []int{}
	for n := 0; n < s.ExpectedChunks; n++ {
		if !s.has(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// chunkLen is the byte size chunk n must have.
func (s *Session) chunkLen(n int) int64 {
	if n == s.ExpectedChunks-1 {
		if rest := s.TotalSize - int64(n)*s.ChunkSize; rest > 0 {
			return rest
		}
	}
	return s.ChunkSize
}

// SessionStore persists sessions between requests and worker instances.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, uploadID string) (*Session, error)
	MarkReceived(ctx context.Context, uploadID string, chunk int) error
	Delete(ctx context.Context, uploadID string) error
	List(ctx context.Context) ([]string, error)
}

// MemorySessionStore keeps sessions in process. Used inline and in tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]*Session{}}
}

func (m *MemorySessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Received = append([]int(nil), s.Received...)
	m.sessions[s.UploadID] = &cp
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, uploadID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	cp.Received = append([]int(nil), s.Received...)
	return &cp, nil
}

func (m *MemorySessionStore) MarkReceived(_ context.Context, uploadID string, chunk int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.has(chunk) {
		s.Received = append(s.Received, chunk)
		sort.Ints(s.Received)
	}
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, uploadID)
	return nil
}

func (m *MemorySessionStore) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
