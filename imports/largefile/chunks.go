package largefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

var ErrChunkNotFound = errors.New("chunk not found")

// ChunkStore holds chunk payloads until the upload is assembled.
type ChunkStore interface {
	Put(ctx context.Context, uploadID string, chunk int, data []byte) error
	Open(ctx context.Context, uploadID string, chunk int) (io.ReadCloser, error)
	DeleteAll(ctx context.Context, uploadID string) error
}

type MemoryChunkStore struct {
	mu     sync.Mutex
	chunks map[string]map[int][]byte
}

func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunks: map[string]map[int][]byte{}}
}

func (m *MemoryChunkStore) Put(_ context.Context, uploadID string, chunk int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[uploadID] == nil {
		m.chunks[uploadID] = map[int][]byte{}
	}
	m.chunks[uploadID][chunk] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryChunkStore) Open(_ context.Context, uploadID string, chunk int) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.chunks[uploadID][chunk]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryChunkStore) DeleteAll(_ context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, uploadID)
	return nil
}

// GCSChunkStore writes each chunk as its own object under
// <prefix>/<upload_id>/<chunk>.
type GCSChunkStore struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSChunkStore(client *storage.Client, bucket, prefix string) *GCSChunkStore {
	if prefix == "" {
		prefix = "import-chunks"
	}
	return &GCSChunkStore{bucket: client.Bucket(bucket), prefix: prefix}
}

func (g *GCSChunkStore) object(uploadID string, chunk int) string {
	return fmt.Sprintf("%s/%s/%08d", g.prefix, uploadID, chunk)
}

func (g *GCSChunkStore) Put(ctx context.Context, uploadID string, chunk int, data []byte) error {
	w := g.bucket.Object(g.object(uploadID, chunk)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write chunk %d: %w", chunk, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close chunk %d: %w", chunk, err)
	}
	return nil
}

func (g *GCSChunkStore) Open(ctx context.Context, uploadID string, chunk int) (io.ReadCloser, error) {
	r, err := g.bucket.Object(g.object(uploadID, chunk)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrChunkNotFound
	}
	return r, err
}

func (g *GCSChunkStore) DeleteAll(ctx context.Context, uploadID string) error {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: g.prefix + "/" + uploadID + "/"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := g.bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
	}
}

// assembledReader streams the chunks of one upload in chunk order, opening
// each only when the previous one is drained.
type assembledReader struct {
	ctx      context.Context
	store    ChunkStore
	uploadID string
	next     int
	total    int
	cur      io.ReadCloser
}

func (a *assembledReader) Read(p []byte) (int, error) {
	for {
		if a.cur == nil {
			if a.next >= a.total {
				return 0, io.EOF
			}
			rc, err := a.store.Open(a.ctx, a.uploadID, a.next)
			if err != nil {
				return 0, fmt.Errorf("open chunk %d: %w", a.next, err)
			}
			a.cur = rc
			a.next++
		}
		n, err := a.cur.Read(p)
		if errors.Is(err, io.EOF) {
			_ = a.cur.Close()
			a.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (a *assembledReader) Close() error {
	if a.cur != nil {
		err := a.cur.Close()
		a.cur = nil
		return err
	}
	return nil
}
