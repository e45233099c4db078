package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldCount       = "count"
	fieldWindowStart = "window_start"
	fieldExpireAt    = "expire_at"
)

// incrementScript mirrors Limiter.next plus the conditional write in a single round trip.
// KEYS[1] = key; ARGV = now (ms), window (ms), max requests.
// Returns {count, window_start, expire_at}.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local fields = redis.call('HMGET', key, 'count', 'window_start', 'expire_at')
local count = tonumber(fields[1])
local start = tonumber(fields[2])
local expire_at = tonumber(fields[3])

if count == nil or start == nil or now - start > window then
  count = 1
  start = now
  expire_at = math.floor((now + window) / 1000)
else
  count = count + 1
  if expire_at == nil then
    expire_at = math.floor((start + window) / 1000)
  end
end

if count <= max then
  redis.call('HSET', key, 'count', count, 'window_start', start, 'expire_at', expire_at)
  redis.call('PEXPIREAT', key, start + window + 1)
end

return {count, start, expire_at}
`)

// RedisStore persists records as Redis hashes. Keys never expire before their window
// closes: Put cannot see the window, so it expires the key one second after the
// truncated Record.ExpireAt; Increment expires it just after the exact window end.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	log    *slog.Logger
}

var _ AtomicStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed Store. prefix is prepended to every key.
func NewRedisStore(client redis.Cmdable, prefix string, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

// Get loads the record stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	if s.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	values, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrRecordNotFound
	}

	record, err := decodeRecord(values)
	if err != nil {
		s.log.Error("failed to decode rate limit record", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	return &record, nil
}

// Put writes record and sets the key to expire at keyDeadline(record).
func (s *RedisStore) Put(ctx context.Context, key string, record Record) error {
	if s.client == nil {
		return errors.New("redis client is not configured for rate limiting")
	}

	redisKey := s.prefix + key

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey,
		fieldCount, record.Count,
		fieldWindowStart, record.WindowStart,
		fieldExpireAt, record.ExpireAt,
	)
	pipe.PExpireAt(ctx, redisKey, keyDeadline(record))

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return nil
}

// Increment runs the fixed-window update atomically inside Redis.
func (s *RedisStore) Increment(ctx context.Context, key string, policy Policy, now time.Time) (Record, error) {
	if s.client == nil {
		return Record{}, errors.New("redis client is not configured for rate limiting")
	}

	values, err := incrementScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.MaxRequests,
	).Int64Slice()
	if err != nil {
		return Record{}, err
	}
	if len(values) != 3 {
		return Record{}, fmt.Errorf("unexpected increment reply length %d", len(values))
	}

	return Record{Count: values[0], WindowStart: values[1], ExpireAt: values[2]}, nil
}

// keyDeadline rounds the epoch-second ExpireAt up, so the key outlives a window
// that ends part way through that second.
func keyDeadline(record Record) time.Time {
	return time.Unix(record.ExpireAt+1, 0)
}

func decodeRecord(values map[string]string) (Record, error) {
	var (
		record Record
		err    error
	)

	if record.Count, err = strconv.ParseInt(values[fieldCount], 10, 64); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", fieldCount, err)
	}
	if record.WindowStart, err = strconv.ParseInt(values[fieldWindowStart], 10, 64); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", fieldWindowStart, err)
	}
	if record.ExpireAt, err = strconv.ParseInt(values[fieldExpireAt], 10, 64); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", fieldExpireAt, err)
	}

	return record, nil
}
