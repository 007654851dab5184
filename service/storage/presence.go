package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"telechat/tools/errs"
)

const lastSeenKeyPrefix = "telechat:presence:last_seen:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisPresence records when an identity was last seen on the live channel.
// Liveness itself comes from the in-process connection registry; this only
// backs the lastSeen field of the online-status endpoint, so entries carry a
// generous TTL instead of living forever.
type RedisPresence struct {
	cli *redis.Client
	ttl time.Duration
}

func NewRedisPresence(cfg RedisConfig) (*RedisPresence, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(err, "ping redis")
	}
	return &RedisPresence{cli: cli, ttl: 30 * 24 * time.Hour}, nil
}

func (p *RedisPresence) touch(ctx context.Context, identityID string) error {
	return p.cli.Set(ctx, lastSeenKeyPrefix+identityID,
		time.Now().UTC().Format(time.RFC3339), p.ttl).Err()
}

func (p *RedisPresence) MarkOnline(ctx context.Context, identityID string) error {
	return errs.Wrap(p.touch(ctx, identityID), "mark online")
}

func (p *RedisPresence) MarkOffline(ctx context.Context, identityID string) error {
	return errs.Wrap(p.touch(ctx, identityID), "mark offline")
}

func (p *RedisPresence) LastSeen(ctx context.Context, identityID string) (time.Time, error) {
	v, err := p.cli.Get(ctx, lastSeenKeyPrefix+identityID).Result()
	if err == redis.Nil {
		return time.Time{}, errs.ErrNotFound.WithDetail("no last-seen for " + identityID)
	}
	if err != nil {
		return time.Time{}, errs.Wrap(err, "get last-seen")
	}
	ts, perr := time.Parse(time.RFC3339, v)
	if perr != nil {
		return time.Time{}, errs.Wrap(perr, "parse last-seen")
	}
	return ts, nil
}

func (p *RedisPresence) Close() error {
	return p.cli.Close()
}
