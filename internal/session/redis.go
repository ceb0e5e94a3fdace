package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "club"

func sessionKey(jti string) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, jti)
}

func accountSessionsKey(accountID int) string {
	return fmt.Sprintf("%s:idx:account_sessions:%d", keyPrefix, accountID)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
}

func DefaultRedisConfig(url string) RedisConfig {
	if url == "" {
		url = "redis://localhost:6379"
	}
	return RedisConfig{
		URL:          url,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisStore keeps sessions in Redis with native key expiry. Each account
// also has a SET of its jtis so all of them can be revoked at once.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, jti string, accountID int, ttl time.Duration) error {
	indexKey := accountSessionsKey(accountID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(jti), accountID, ttl)
	pipe.SAdd(ctx, indexKey, jti)
	// Refresh TTLs are uniform, so the newest session outlives the rest.
	pipe.Expire(ctx, indexKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Consume(ctx context.Context, jti string) (int, error) {
	val, err := s.client.GetDel(ctx, sessionKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	accountID, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt session %s: %w", jti, err)
	}
	_ = s.client.SRem(ctx, accountSessionsKey(accountID), jti).Err()
	return accountID, nil
}

func (s *RedisStore) Revoke(ctx context.Context, jti string) error {
	key := sessionKey(jti)
	val, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if accountID, err := strconv.Atoi(val); err == nil {
		return s.client.SRem(ctx, accountSessionsKey(accountID), jti).Err()
	}
	return nil
}

func (s *RedisStore) RevokeAccount(ctx context.Context, accountID int) error {
	indexKey := accountSessionsKey(accountID)
	jtis, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(jtis)+1)
	for _, jti := range jtis {
		keys = append(keys, sessionKey(jti))
	}
	keys = append(keys, indexKey)
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
