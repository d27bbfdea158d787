package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/toolmesh/core"
)

// Options configures the Redis-backed session store.
type Options struct {
	// URL is the Redis connection string (e.g. "redis://localhost:6379").
	URL string

	// KeyPrefix namespaces all session keys. Defaults to "toolmesh".
	KeyPrefix string

	// IdleTimeout bounds session lifetime through key TTLs: every session
	// mutation refreshes the TTL, so Redis expires idle sessions natively.
	// Zero disables expiry.
	IdleTimeout time.Duration

	// DialTimeout is the maximum time to wait for connection establishment.
	DialTimeout time.Duration
}

// Store is a Redis-backed core.SessionStore. Each session occupies three keys:
// a metadata hash, a variables hash (values JSON-encoded) and a history list
// of JSON-encoded entries. Mutations go through MULTI/EXEC pipelines so the
// history append and variable merge of one invocation land together.
//
// Variable values round-trip through JSON, so numeric values come back as
// float64 regardless of the type a tool staged.
type Store struct {
	client      *redis.Client
	keyPrefix   string
	idleTimeout time.Duration
}

// NewStore connects to Redis and returns a session store. The connection is
// verified with a ping before the store is handed out.
func NewStore(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		URL:         "redis://localhost:6379",
		KeyPrefix:   "toolmesh",
		DialTimeout: 5 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.DialTimeout = opts.DialTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:      client,
		keyPrefix:   opts.KeyPrefix,
		idleTimeout: opts.IdleTimeout,
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) keyMeta(id string) string    { return fmt.Sprintf("%s:session:%s:meta", s.keyPrefix, id) }
func (s *Store) keyVars(id string) string    { return fmt.Sprintf("%s:session:%s:vars", s.keyPrefix, id) }
func (s *Store) keyHistory(id string) string { return fmt.Sprintf("%s:session:%s:hist", s.keyPrefix, id) }

// expire refreshes the idle TTL on all keys of a session inside a pipeline.
func (s *Store) expire(ctx context.Context, pipe redis.Pipeliner, id string) {
	if s.idleTimeout <= 0 {
		return
	}
	pipe.Expire(ctx, s.keyMeta(id), s.idleTimeout)
	pipe.Expire(ctx, s.keyVars(id), s.idleTimeout)
	pipe.Expire(ctx, s.keyHistory(id), s.idleTimeout)
}

// GetOrCreate returns the session with the given ID, creating it when it does
// not exist. Concurrent creators converge on a single session: the creation
// timestamp is written with HSETNX so the first writer wins.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*core.Session, error) {
	sess, err := s.Get(ctx, id)
	if err == nil {
		return sess, nil
	}

	var evicted *core.SessionEvictedError
	if !errors.As(err, &evicted) {
		return nil, err
	}

	now := time.Now()
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, s.keyMeta(id), "created", now.Format(time.RFC3339Nano))
	pipe.HSet(ctx, s.keyMeta(id), "id", id, "last_active", now.Format(time.RFC3339Nano))
	s.expire(ctx, pipe, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session %q: %w", id, err)
	}

	return s.Get(ctx, id)
}

// Get loads the session or returns a *core.SessionEvictedError when its keys
// are gone (never created, evicted, or TTL-expired).
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	meta, err := s.client.HGetAll(ctx, s.keyMeta(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", id, err)
	}
	if len(meta) == 0 {
		return nil, &core.SessionEvictedError{SessionID: id}
	}

	rawVars, err := s.client.HGetAll(ctx, s.keyVars(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q variables: %w", id, err)
	}

	rawHist, err := s.client.LRange(ctx, s.keyHistory(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q history: %w", id, err)
	}

	sess := &core.Session{
		ID:        id,
		Variables: make(map[string]interface{}, len(rawVars)),
		History:   make([]core.HistoryEntry, 0, len(rawHist)),
	}

	if v, ok := meta["created"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sess.Created = ts
		}
	}
	if v, ok := meta["last_active"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			sess.LastActive = ts
		}
	}

	for k, raw := range rawVars {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to decode session %q variable %q: %w", id, k, err)
		}
		sess.Variables[k] = v
	}

	for _, raw := range rawHist {
		var entry core.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode session %q history entry: %w", id, err)
		}
		sess.History = append(sess.History, entry)
	}

	return sess, nil
}

// Append records one completed invocation. The history push, the variable
// merge and the idle refresh execute inside a single MULTI/EXEC block.
func (s *Store) Append(ctx context.Context, id string, entry core.HistoryEntry, vars map[string]interface{}) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	encodedVars := make(map[string]string, len(vars))
	for k, v := range vars {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal variable %q: %w", k, err)
		}
		encodedVars[k] = string(b)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.keyHistory(id), data)
	for k, v := range encodedVars {
		pipe.HSet(ctx, s.keyVars(id), k, v)
	}
	pipe.HSet(ctx, s.keyMeta(id), "last_active", time.Now().Format(time.RFC3339Nano))
	s.expire(ctx, pipe, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to session %q: %w", id, err)
	}

	return nil
}

// Touch refreshes the idle timestamp and TTLs of an existing session.
func (s *Store) Touch(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session %q: %w", id, err)
	}
	if exists == 0 {
		return &core.SessionEvictedError{SessionID: id}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keyMeta(id), "last_active", time.Now().Format(time.RFC3339Nano))
	s.expire(ctx, pipe, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to touch session %q: %w", id, err)
	}

	return nil
}

// Evict deletes all keys of the session. Evicting an unknown session is a
// no-op.
func (s *Store) Evict(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.keyMeta(id), s.keyVars(id), s.keyHistory(id)).Err(); err != nil {
		return fmt.Errorf("failed to evict session %q: %w", id, err)
	}
	return nil
}

// List scans for live session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	pattern := fmt.Sprintf("%s:session:*:meta", s.keyPrefix)
	prefix := fmt.Sprintf("%s:session:", s.keyPrefix)

	var ids []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ":meta")
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return ids, nil
}
