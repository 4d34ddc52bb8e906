package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"killwatch/pkg/models"
)

// RedisConfig configures Redis access for the shared sighting index.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisIndex keeps sightings in Redis so several watcher processes can share
// one view of where watched entities were last active.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex constructs a Redis-backed sighting index.
func NewRedisIndex(cfg RedisConfig) (*RedisIndex, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "killwatch:presence"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis presence: %w", err)
	}

	return &RedisIndex{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// Record stores sightings of watched entities from enriched kills. Last-seen
// scores only move forward so out-of-order batches cannot rewind them.
func (s *RedisIndex) Record(kills []*models.ProcessedKill, watch models.WatchSet) error {
	if watch.Empty() || len(kills) == 0 {
		return nil
	}
	ctx := context.Background()
	pipe := s.client.Pipeline()

	wrote := false
	for _, k := range kills {
		if k == nil || k.SolarSystemID == 0 {
			continue
		}
		members := watchedMembers(k, watch)
		if len(members) == 0 {
			continue
		}
		ts := float64(k.Time.Unix())
		sysKey := s.systemKey(k.SolarSystemID)
		for _, mem := range members {
			pipe.HSet(ctx, sysKey, mem, strconv.FormatInt(k.Time.Unix(), 10))
			pipe.ZAddArgs(ctx, s.lastSetKey(), redis.ZAddArgs{
				GT:      true,
				Members: []redis.Z{{Score: ts, Member: encodeSighting(k.SolarSystemID, mem)}},
			})
			wrote = true
		}
	}
	if !wrote {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update presence redis keys: %w", err)
	}
	return nil
}

// ActiveAt reports whether any watched entity was seen at the location since
// the given time.
func (s *RedisIndex) ActiveAt(systemID int32, since time.Time) (bool, error) {
	ctx := context.Background()
	hash, err := s.client.HGetAll(ctx, s.systemKey(systemID)).Result()
	if err != nil {
		return false, fmt.Errorf("read presence sightings: %w", err)
	}
	cutoff := since.Unix()
	for _, v := range hash {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if ts >= cutoff {
			return true, nil
		}
	}
	return false, nil
}

// Sweep removes sightings older than the cutoff.
func (s *RedisIndex) Sweep(olderThan time.Time) error {
	ctx := context.Background()
	members, err := s.client.ZRangeByScoreWithScores(ctx, s.lastSetKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", olderThan.Unix()),
		Count: 10000,
	}).Result()
	if err != nil {
		return fmt.Errorf("read stale presence members: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, z := range members {
		enc, ok := z.Member.(string)
		if !ok {
			continue
		}
		system, mem, ok := decodeSighting(enc)
		if !ok {
			continue
		}
		pipe.HDel(ctx, s.systemKey(system), mem)
		pipe.ZRem(ctx, s.lastSetKey(), enc)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sweep presence redis keys: %w", err)
	}
	return nil
}

// Close closes Redis resources.
func (s *RedisIndex) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisIndex) systemKey(systemID int32) string {
	return fmt.Sprintf("%s:sightings:%d", s.prefix, systemID)
}

func (s *RedisIndex) lastSetKey() string {
	return s.prefix + ":last"
}

func encodeSighting(systemID int32, member string) string {
	return fmt.Sprintf("%d|%s", systemID, member)
}

func decodeSighting(enc string) (int32, string, bool) {
	parts := strings.SplitN(enc, "|", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	system, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil || system == 0 || strings.TrimSpace(parts[1]) == "" {
		return 0, "", false
	}
	return int32(system), parts[1], true
}
