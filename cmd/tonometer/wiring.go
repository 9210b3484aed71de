package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/tonometer/internal/config"
	"github.com/Veraticus/tonometer/internal/conversation"
	"github.com/Veraticus/tonometer/internal/series"
)

var envKeyReplacer = strings.NewReplacer("-", "_", ".", "_")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore builds the time-series store for the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*series.Store, io.Closer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	var (
		backend series.Backend
		closer  io.Closer = nopCloser{}
	)

	switch cfg.Storage.Backend {
	case config.StorageFile:
		if err := os.MkdirAll(cfg.Storage.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
		backend = series.NewFileBackend(cfg.Storage.Dir)

	case config.StorageBolt:
		bolt, err := series.OpenBoltBackend(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = bolt, bolt

	case config.StorageS3:
		s3cfg := cfg.Storage.S3
		s3, err := series.NewS3Backend(ctx, series.S3Config{
			Bucket:      s3cfg.Bucket,
			Region:      s3cfg.Region,
			AccessKeyID: s3cfg.AccessKeyID,
			SecretKey:   s3cfg.SecretAccessKey,
			Endpoint:    s3cfg.Endpoint,
			Prefix:      s3cfg.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = s3

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	store := series.NewStore(backend, series.WithLocation(loc), series.WithLogger(logger))
	return store, closer, nil
}

// openSessions builds the session registry for the configured backend.
func openSessions(ctx context.Context, cfg *config.Config) (conversation.Registry, io.Closer, error) {
	sc := cfg.Sessions

	switch sc.Backend {
	case config.SessionsMemory:
		return conversation.NewMemoryRegistry(sc.TTL), nopCloser{}, nil

	case config.SessionsRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", sc.Redis.Addr, err)
		}
		return conversation.NewRedisRegistry(client, sc.Redis.Prefix, sc.TTL), client, nil

	default:
		return nil, nil, fmt.Errorf("unknown sessions backend %q", sc.Backend)
	}
}
