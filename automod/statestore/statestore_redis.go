package statestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	redisBansKey   = "bans"
	redisFormerKey = "former"
	redisMutesKey  = "mutes"
	redisCountKey  = "count/"
)

// Store backed by redis hashes. Counters use HINCRBY, so increments from multiple processes are not lost.
type RedisStore struct {
	Client *redis.Client
	// prepended to every key
	Prefix string
}

func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		Client: rdb,
		Prefix: prefix,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func (s *RedisStore) key(k string) string {
	return s.Prefix + k
}

func (s *RedisStore) GetBan(ctx context.Context, userID string) (*BanRecord, error) {
	raw, err := s.Client.HGet(ctx, s.key(redisBansKey), userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var rec BanRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding ban record %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *RedisStore) PutBan(ctx context.Context, rec BanRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Client.HSet(ctx, s.key(redisBansKey), rec.UserID, b).Err()
}

func (s *RedisStore) DeleteBan(ctx context.Context, userID string) error {
	return s.Client.HDel(ctx, s.key(redisBansKey), userID).Err()
}

func (s *RedisStore) ListBans(ctx context.Context) ([]BanRecord, error) {
	all, err := s.Client.HGetAll(ctx, s.key(redisBansKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]BanRecord, 0, len(all))
	for id, raw := range all {
		var rec BanRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding ban record %s: %w", id, err)
		}
		out = append(out, rec)
	}
	sortBans(out)
	return out, nil
}

func (s *RedisStore) GetCount(ctx context.Context, name, userID string) (int, error) {
	c, err := s.Client.HGet(ctx, s.key(redisCountKey+name), userID).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisStore) IncrementCount(ctx context.Context, name, userID string) (int, error) {
	c, err := s.Client.HIncrBy(ctx, s.key(redisCountKey+name), userID, 1).Result()
	if err != nil {
		return 0, err
	}
	return int(c), nil
}

func (s *RedisStore) ResetCount(ctx context.Context, name, userID string) error {
	return s.Client.HDel(ctx, s.key(redisCountKey+name), userID).Err()
}

func (s *RedisStore) PutFormerMember(ctx context.Context, key, nickname string) error {
	return s.Client.HSet(ctx, s.key(redisFormerKey), key, nickname).Err()
}

func (s *RedisStore) DeleteFormerMember(ctx context.Context, key string) error {
	return s.Client.HDel(ctx, s.key(redisFormerKey), key).Err()
}

func (s *RedisStore) ListFormerMembers(ctx context.Context) (map[string]string, error) {
	return s.Client.HGetAll(ctx, s.key(redisFormerKey)).Result()
}

func (s *RedisStore) PutMute(ctx context.Context, rec MuteRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Client.HSet(ctx, s.key(redisMutesKey), rec.UserID, b).Err()
}

func (s *RedisStore) DeleteMute(ctx context.Context, userID string) error {
	return s.Client.HDel(ctx, s.key(redisMutesKey), userID).Err()
}

func (s *RedisStore) ListMutes(ctx context.Context) ([]MuteRecord, error) {
	all, err := s.Client.HGetAll(ctx, s.key(redisMutesKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]MuteRecord, 0, len(all))
	for id, raw := range all {
		var rec MuteRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding mute record %s: %w", id, err)
		}
		out = append(out, rec)
	}
	sortMutes(out)
	return out, nil
}
