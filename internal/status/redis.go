package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store. Addr is required; the
// remaining fields default to the client library's zero-value behaviour.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

const defaultRedisKeyPrefix = "chirpstream:video-status:"

// RedisStore keeps one hash per job record. The transcode queue is the only
// writer for a given job, so transitions are validated with a read followed
// by a write rather than a transactional script.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, clock: time.Now}, nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Create writes the full record inside one MULTI block, with every field
// guarded by HSETNX: the hash is never observable half-written, and a losing
// racer leaves the existing record untouched.
func (s *RedisStore) Create(ctx context.Context, name string) (Record, error) {
	now := s.clock().UTC()
	stamp := now.Format(time.RFC3339Nano)
	key := s.key(name)
	var created *redis.BoolCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSetNX(ctx, key, "status", string(StatusPending))
		pipe.HSetNX(ctx, key, "name", name)
		pipe.HSetNX(ctx, key, "message", "")
		pipe.HSetNX(ctx, key, "created_at", stamp)
		pipe.HSetNX(ctx, key, "updated_at", stamp)
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("redis create video status: %w", err)
	}
	if !created.Val() {
		return Record{}, ErrDuplicate
	}
	return Record{Name: name, Status: StatusPending, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *RedisStore) MarkProcessing(ctx context.Context, name string) (Record, error) {
	return s.transition(ctx, name, StatusProcessing, "")
}

func (s *RedisStore) MarkSuccessful(ctx context.Context, name string) (Record, error) {
	return s.transition(ctx, name, StatusSuccessful, "")
}

func (s *RedisStore) MarkFailed(ctx context.Context, name, message string) (Record, error) {
	return s.transition(ctx, name, StatusFailed, message)
}

func (s *RedisStore) Get(ctx context.Context, name string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("redis get video status: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return recordFromFields(name, fields)
}

func (s *RedisStore) Close(ctx context.Context) error {
	return s.client.Close()
}

func (s *RedisStore) transition(ctx context.Context, name string, to Status, message string) (Record, error) {
	record, err := s.Get(ctx, name)
	if err != nil {
		return Record{}, err
	}
	if !CanTransition(record.Status, to) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, to)
	}
	now := s.clock().UTC()
	fields := map[string]interface{}{
		"status":     string(to),
		"message":    message,
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.key(name), fields).Err(); err != nil {
		return Record{}, fmt.Errorf("redis update video status: %w", err)
	}
	record.Status = to
	record.Message = message
	record.UpdatedAt = now
	return record, nil
}

func recordFromFields(name string, fields map[string]string) (Record, error) {
	record := Record{
		Name:    fields["name"],
		Status:  Status(fields["status"]),
		Message: fields["message"],
	}
	if record.Name == "" {
		record.Name = name
	}
	for key, dest := range map[string]*time.Time{
		"created_at": &record.CreatedAt,
		"updated_at": &record.UpdatedAt,
	} {
		raw := fields[key]
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Record{}, fmt.Errorf("redis video status %s: parse %s: %w", name, key, err)
		}
		*dest = parsed
	}
	switch record.Status {
	case StatusPending, StatusProcessing, StatusSuccessful, StatusFailed:
		return record, nil
	default:
		return Record{}, errors.New("redis video status: unknown status " + string(record.Status))
	}
}
