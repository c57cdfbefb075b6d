package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	redisModeKey    = "coachpipe:pref:mode"
	redisTurnPrefix = "coachpipe:turn:"
	// redisTurnIndex scores each device by the unix time of its last turn.
	redisTurnIndex = "coachpipe:turns"
)

// redisOpTimeout bounds the context-free preference calls.
const redisOpTimeout = 3 * time.Second

// RedisStore persists preferences and the turn ledger in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the redis:// URL given by WithRedisURL and pings it.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	ropts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("RedisStore URL invalid", "error", err)
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", ropts.Addr)
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisStore connected", "addr", ropts.Addr, "db", ropts.DB)
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) GetMode() (models.Mode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, err := s.client.Get(ctx, redisModeKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		slog.Error("RedisStore GetMode failed", "error", err)
		return "", fmt.Errorf("failed to read mode preference: %w", err)
	}
	return parseStoredMode(raw)
}

func (s *RedisStore) SetMode(mode models.Mode) error {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, redisModeKey, string(mode), 0).Err(); err != nil {
		slog.Error("RedisStore SetMode failed", "error", err, "mode", mode)
		return fmt.Errorf("failed to save mode preference: %w", err)
	}
	return nil
}

func (s *RedisStore) LastTurnID(ctx context.Context, deviceID string) (string, error) {
	turnID, err := s.client.Get(ctx, redisTurnPrefix+deviceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		slog.Error("RedisStore LastTurnID failed", "error", err, "device_id", deviceID)
		return "", fmt.Errorf("failed to read turn ledger for %s: %w", deviceID, err)
	}
	return turnID, nil
}

func (s *RedisStore) SaveTurnID(ctx context.Context, deviceID, turnID string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisTurnPrefix+deviceID, turnID, 0)
	pipe.ZAdd(ctx, redisTurnIndex, redis.Z{Score: float64(time.Now().Unix()), Member: deviceID})
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore SaveTurnID failed", "error", err, "device_id", deviceID)
		return fmt.Errorf("failed to save turn id for %s: %w", deviceID, err)
	}
	slog.Debug("RedisStore SaveTurnID succeeded", "device_id", deviceID, "turn_id", turnID)
	return nil
}

func (s *RedisStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	cutoff := "(" + strconv.FormatInt(before.Unix(), 10)
	devices, err := s.client.ZRangeByScore(ctx, redisTurnIndex, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		slog.Error("RedisStore PruneTurns failed", "error", err)
		return 0, fmt.Errorf("failed to prune turn ledger: %w", err)
	}
	if len(devices) == 0 {
		return 0, nil
	}
	keys := make([]string, len(devices))
	members := make([]any, len(devices))
	for i, d := range devices {
		keys[i] = redisTurnPrefix + d
		members[i] = d
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, redisTurnIndex, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore PruneTurns failed", "error", err)
		return 0, fmt.Errorf("failed to prune turn ledger: %w", err)
	}
	return int64(len(devices)), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
