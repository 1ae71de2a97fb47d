package largefile

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/utils"
	"github.com/sirupsen/logrus"
)

var (
	ErrIncomplete      = errors.New("upload is missing chunks")
	ErrChunkOutOfRange = errors.New("chunk number out of range")
	ErrChunkSize       = errors.New("chunk size does not match")
	ErrChunkChecksum   = errors.New("chunk md5 does not match")
	ErrWrongTenant     = errors.New("upload session belongs to another tenant")
)

// ChunkUpload is the metadata sent with every chunk.
type ChunkUpload struct {
	UploadID    string `json:"upload_id" validate:"required"`
	ChunkNumber int    `json:"chunk_number" validate:"gte=0"`
	SizeBytes   int64  `json:"size_bytes" validate:"gt=0"`
	HashMD5     string `json:"hash_md5" validate:"required,len=32,hexadecimal"`
}

type StartUpload struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	Filename  string `json:"filename" validate:"required"`
	TotalSize int64  `json:"total_size" validate:"gt=0"`
}

// Manager runs chunked uploads on top of a session store and a chunk store.
type Manager struct {
	Sessions  SessionStore
	Chunks    ChunkStore
	Logger    *logrus.Logger
	ChunkSize int64
	TTL       time.Duration

	now func() time.Time
}

func NewManager(sessions SessionStore, chunks ChunkStore, logger *logrus.Logger, s config.ImportSettings) *Manager {
	return &Manager{
		Sessions:  sessions,
		Chunks:    chunks,
		Logger:    logger,
		ChunkSize: s.ChunkSize,
		TTL:       s.ChunkSessionTTL,
		now:       time.Now,
	}
}

func (m *Manager) Start(ctx context.Context, in StartUpload) (*Session, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultImportSettings().ChunkSize
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = config.DefaultImportSettings().ChunkSessionTTL
	}
	now := m.now().UTC()
	s := &Session{
		UploadID:       uuid.NewString(),
		TenantID:       in.TenantID,
		Filename:       in.Filename,
		TotalSize:      in.TotalSize,
		ChunkSize:      chunkSize,
		ExpectedChunks: int((in.TotalSize + chunkSize - 1) / chunkSize),
		Received:       []int{},
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := m.Sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) session(ctx context.Context, tenantID, uploadID string) (*Session, error) {
	s, err := m.Sessions.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if s.TenantID != tenantID {
		return nil, ErrWrongTenant
	}
	if s.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// ReceiveChunk verifies and stores one chunk. Re-sending a chunk overwrites
// it and is not an error.
func (m *Manager) ReceiveChunk(ctx context.Context, tenantID string, up ChunkUpload, data []byte) (*Session, error) {
	if err := utils.ValidateStruct(up); err != nil {
		return nil, err
	}
	s, err := m.session(ctx, tenantID, up.UploadID)
	if err != nil {
		return nil, err
	}
	if up.ChunkNumber >= s.ExpectedChunks {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, up.ChunkNumber, s.ExpectedChunks)
	}
	if int64(len(data)) != up.SizeBytes || up.SizeBytes != s.chunkLen(up.ChunkNumber) {
		return nil, fmt.Errorf("%w: got %d bytes, declared %d, expected %d",
			ErrChunkSize, len(data), up.SizeBytes, s.chunkLen(up.ChunkNumber))
	}
	sum := md5.Sum(data)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), up.HashMD5) {
		return nil, ErrChunkChecksum
	}
	if err := m.Chunks.Put(ctx, s.UploadID, up.ChunkNumber, data); err != nil {
		return nil, err
	}
	if err := m.Sessions.MarkReceived(ctx, s.UploadID, up.ChunkNumber); err != nil {
		return nil, err
	}
	return m.Sessions.Get(ctx, s.UploadID)
}

func (m *Manager) Status(ctx context.Context, tenantID, uploadID string) (*Session, error) {
	return m.session(ctx, tenantID, uploadID)
}

// Open returns the assembled file. The session must be complete.
func (m *Manager) Open(ctx context.Context, tenantID, uploadID string) (io.ReadCloser, *Session, error) {
	s, err := m.session(ctx, tenantID, uploadID)
	if err != nil {
		return nil, nil, err
	}
	if !s.IsComplete() {
		return nil, s, fmt.Errorf("%w: %v", ErrIncomplete, s.MissingChunks())
	}
	return &assembledReader{ctx: ctx, store: m.Chunks, uploadID: uploadID, total: s.ExpectedChunks}, s, nil
}

// Discard drops a session and its chunks.
func (m *Manager) Discard(ctx context.Context, uploadID string) error {
	if err := m.Chunks.DeleteAll(ctx, uploadID); err != nil {
		return err
	}
	return m.Sessions.Delete(ctx, uploadID)
}

// PurgeExpired discards expired sessions, and sessions whose record is gone
// but whose id is still indexed.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	ids, err := m.Sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	purged := 0
	for _, id := range ids {
		s, err := m.Sessions.Get(ctx, id)
		switch {
		case errors.Is(err, ErrSessionNotFound):
		case err != nil:
			config.LogError(m.Logger, "largefile", "PurgeExpired", id, nil, err)
			continue
		case !s.Expired(now):
			continue
		}
		if err := m.Discard(ctx, id); err != nil {
			config.LogError(m.Logger, "largefile", "PurgeExpired", id, nil, err)
			continue
		}
		purged++
	}
	if purged > 0 && m.Logger != nil {
		m.Logger.WithFields(logrus.Fields{"field": "ChunkJanitor", "purged": purged}).Info("expired upload sessions purged")
	}
	return purged, nil
}
