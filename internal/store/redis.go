package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each collection in a hash ("<prefix><collection>") with a
// commit counter ("<prefix><collection>:seq") bumped in the same MULTI as the
// write. Commits are announced on "<prefix>changes:<collection>".
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-backed document store
func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: "strategy:",
		logger: logger,
	}
}

func (s *RedisStore) key(c Collection) string {
	return s.prefix + string(c)
}

func (s *RedisStore) seqKey(c Collection) string {
	return s.prefix + string(c) + ":seq"
}

func (s *RedisStore) channel(c Collection) string {
	return s.prefix + "changes:" + string(c)
}

func (s *RedisStore) Get(ctx context.Context, c Collection, id string) (Document, error) {
	data, err := s.client.HGet(ctx, s.key(c), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, fmt.Errorf("get %s/%s: %w", c, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, s.mapError("get", c, id, err)
	}
	return Document{ID: id, Data: data}, nil
}

func (s *RedisStore) Put(ctx context.Context, c Collection, doc Document) error {
	if !json.Valid(doc.Data) {
		return fmt.Errorf("put %s/%s: invalid JSON body", c, doc.ID)
	}
	var seq *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(c), doc.ID, []byte(doc.Data))
		seq = pipe.Incr(ctx, s.seqKey(c))
		return nil
	})
	if err != nil {
		return s.mapError("put", c, doc.ID, err)
	}
	return s.announce(ctx, c, seq.Val())
}

func (s *RedisStore) Delete(ctx context.Context, c Collection, id string) error {
	var removed *redis.IntCmd
	var seq *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.key(c), id)
		seq = pipe.Incr(ctx, s.seqKey(c))
		return nil
	})
	if err != nil {
		return s.mapError("delete", c, id, err)
	}
	if removed.Val() == 0 {
		return nil
	}
	return s.announce(ctx, c, seq.Val())
}

func (s *RedisStore) announce(ctx context.Context, c Collection, seq int64) error {
	if err := s.client.Publish(ctx, s.channel(c), strconv.FormatInt(seq, 10)).Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", c, err)
	}
	return nil
}

// snapshot reads the hash and its counter in one MULTI so Seq matches the
// documents returned.
func (s *RedisStore) snapshot(ctx context.Context, c Collection) (Snapshot, error) {
	var all *redis.MapStringStringCmd
	var seq *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		all = pipe.HGetAll(ctx, s.key(c))
		seq = pipe.Get(ctx, s.seqKey(c))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, s.mapError("snapshot", c, "", err)
	}

	snapshot := Snapshot{Collection: c}
	if raw, err := seq.Result(); err == nil {
		parsed, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			return Snapshot{}, fmt.Errorf("parse %s seq: %w", c, parseErr)
		}
		snapshot.Seq = parsed
	}
	for id, data := range all.Val() {
		snapshot.Documents = append(snapshot.Documents, Document{ID: id, Data: json.RawMessage(data)})
	}
	sort.Slice(snapshot.Documents, func(i, j int) bool {
		return snapshot.Documents[i].ID < snapshot.Documents[j].ID
	})
	return snapshot, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, c Collection, fn SnapshotFunc, onErr func(error)) (func(), error) {
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(subCtx, s.channel(c))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, s.mapError("subscribe", c, "", err)
	}

	initial, err := s.snapshot(ctx, c)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	var mu sync.Mutex
	stopped := false
	deliver := func(snapshot Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		fn(snapshot)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		deliver(initial)
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				drain(messages)
				snapshot, err := s.snapshot(subCtx, c)
				if err != nil {
					if subCtx.Err() != nil {
						return
					}
					s.logger.Warn("redis snapshot reload failed", "collection", c, "error", err)
					if onErr != nil {
						onErr(err)
					}
					continue
				}
				deliver(snapshot)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

// drain discards queued notifications; the next reload covers them all.
func drain(messages <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-messages:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *RedisStore) mapError(op string, c Collection, id string, err error) error {
	if strings.HasPrefix(err.Error(), "NOPERM") || strings.HasPrefix(err.Error(), "NOAUTH") {
		return &AccessError{Op: op, Collection: c, ID: id, Reason: err.Error()}
	}
	return fmt.Errorf("%s %s: %w", op, c, err)
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
