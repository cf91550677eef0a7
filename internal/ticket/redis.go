package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const redisKeyPrefix = "flowcast:ticket:"

// consumeScript deletes the ticket only when it was issued for the presented
// workflow, so a mismatched presentation leaves it usable and two racing
// consumers cannot both read it.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local t = cjson.decode(v)
if t.used or t.workflowId ~= ARGV[1] then
  return false
end
redis.call('DEL', KEYS[1])
return v
`)

// RedisStore keeps tickets in Redis so several service instances can share
// them. Keys carry a TTL equal to the ticket expiry.
type RedisStore struct {
	client redis.UniversalClient
	expiry time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, expiry time.Duration) *RedisStore {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisStore{client: client, expiry: expiry, now: time.Now}
}

// NewRedisStoreFromURL dials Redis from a redis:// URL and checks the
// connection.
func NewRedisStoreFromURL(ctx context.Context, url string, expiry time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, expiry), nil
}

func (s *RedisStore) Expiry() time.Duration { return s.expiry }

func (s *RedisStore) Issue(ctx context.Context, identity, workflowID string) (*Ticket, error) {
	if identity == "" || workflowID == "" {
		return nil, ErrInvalidRequest
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	t := &Ticket{
		Token:      token,
		Identity:   identity,
		WorkflowID: workflowID,
		CreatedAt:  s.now(),
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+token, data, s.expiry).Err(); err != nil {
		return nil, fmt.Errorf("store ticket: %w", err)
	}
	return t, nil
}

func (s *RedisStore) Consume(ctx context.Context, token, workflowID string) (*Ticket, error) {
	if token == "" {
		return nil, ErrInvalidTicket
	}

	raw, err := consumeScript.Run(ctx, s.client, []string{redisKeyPrefix + token}, workflowID).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidTicket
	}
	if err != nil {
		return nil, fmt.Errorf("consume ticket: %w", err)
	}

	var t Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	// The key TTL is coarse; the creation timestamp is authoritative.
	if t.Expired(s.now(), s.expiry) {
		return nil, ErrInvalidTicket
	}
	t.Used = true
	return &t, nil
}

// Sweep is a no-op: Redis expires keys on its own and consumed tickets are
// deleted on use.
func (s *RedisStore) Sweep(context.Context) int { return 0 }

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
