package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "igfollowers:session:"
	redisIndexKey  = "igfollowers:sessions"
)

// ConnectRedis initializes a Redis client from a redis:// URL or host:port
// and checks that the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCache stores each session as a hash and tracks usernames in a set.
// A positive ttl expires idle session hashes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Save(ctx context.Context, rec *Record) error {
	key := redisKeyPrefix + rec.Username
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"username":   rec.Username,
			"proxy":      rec.Proxy,
			"state":      rec.State,
			"challenges": rec.Challenges,
			"requests":   rec.Requests,
			"last_used":  rec.LastUsed.UTC().Format(time.RFC3339Nano),
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		pipe.SAdd(ctx, redisIndexKey, rec.Username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (c *RedisCache) LoadAll(ctx context.Context) ([]*Record, error) {
	usernames, err := c.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}

	records := make([]*Record, 0, len(usernames))
	for _, username := range usernames {
		fields, err := c.client.HGetAll(ctx, redisKeyPrefix+username).Result()
		if err != nil {
			return nil, fmt.Errorf("redis load session %s: %w", username, err)
		}
		if len(fields) == 0 {
			// hash expired; drop the dangling index entry
			c.client.SRem(ctx, redisIndexKey, username)
			continue
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, fmt.Errorf("redis decode session %s: %w", username, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromHash(fields map[string]string) (*Record, error) {
	rec := &Record{
		Username: fields["username"],
		Proxy:    fields["proxy"],
		State:    []byte(fields["state"]),
	}

	var errs []error
	var err error
	if rec.Challenges, err = strconv.Atoi(fields["challenges"]); err != nil {
		errs = append(errs, fmt.Errorf("challenges: %w", err))
	}
	if rec.Requests, err = strconv.Atoi(fields["requests"]); err != nil {
		errs = append(errs, fmt.Errorf("requests: %w", err))
	}
	if rec.LastUsed, err = time.Parse(time.RFC3339Nano, fields["last_used"]); err != nil {
		errs = append(errs, fmt.Errorf("last_used: %w", err))
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		errs = append(errs, fmt.Errorf("created_at: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rec, nil
}

func (c *RedisCache) Delete(ctx context.Context, username string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKeyPrefix+username)
		pipe.SRem(ctx, redisIndexKey, username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}
