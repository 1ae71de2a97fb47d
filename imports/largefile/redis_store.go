package largefile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionIndex = "import:chunk_sessions"
	redisSessionGrace = time.Hour
)

// RedisSessionStore keeps each session as a hash plus a set of received
// chunk numbers. An index set lets the janitor find sessions whose chunks
// still need purging after the keys expire.
type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func sessionKey(id string) string  { return "import:chunk_session:" + id }
func receivedKey(id string) string { return "import:chunk_session:" + id + ":received" }

func (r *RedisSessionStore) Create(ctx context.Context, s *Session) error {
	ttl := time.Until(s.ExpiresAt) + redisSessionGrace
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, sessionKey(s.UploadID), map[string]any{
			"tenant_id":       s.TenantID,
			"filename":        s.Filename,
			"total_size":      s.TotalSize,
			"chunk_size":      s.ChunkSize,
			"expected_chunks": s.ExpectedChunks,
			"created_at":      s.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expires_at":      s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})
		p.Expire(ctx, sessionKey(s.UploadID), ttl)
		p.SAdd(ctx, redisSessionIndex, s.UploadID)
		return nil
	})
	return err
}

func (r *RedisSessionStore) Get(ctx context.Context, uploadID string) (*Session, error) {
	fields, err := r.rdb.HGetAll(ctx, sessionKey(uploadID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	members, err := r.rdb.SMembers(ctx, receivedKey(uploadID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	s := &Session{UploadID: uploadID, TenantID: fields["tenant_id"], Filename: fields["filename"]}
	s.TotalSize, _ = strconv.ParseInt(fields["total_size"], 10, 64)
	s.ChunkSize, _ = strconv.ParseInt(fields["chunk_size"], 10, 64)
	s.ExpectedChunks, _ = strconv.Atoi(fields["expected_chunks"])
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	s.ExpiresAt, _ = time.Parse(time.RFC3339Nano, fields["expires_at"])
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("session %s: bad chunk number %q", uploadID, m)
		}
		s.Received = append(s.Received, n)
	}
	sort.Ints(s.Received)
	return s, nil
}

func (r *RedisSessionStore) MarkReceived(ctx context.Context, uploadID string, chunk int) error {
	ttl, err := r.rdb.TTL(ctx, sessionKey(uploadID)).Result()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, receivedKey(uploadID), chunk)
		p.Expire(ctx, receivedKey(uploadID), ttl)
		return nil
	})
	return err
}

func (r *RedisSessionStore) Delete(ctx context.Context, uploadID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(uploadID), receivedKey(uploadID))
		p.SRem(ctx, redisSessionIndex, uploadID)
		return nil
	})
	return err
}

func (r *RedisSessionStore) List(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, redisSessionIndex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
