package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/config"
	"github.com/MrEthical07/goGate/directory"
)

// closers runs cleanup functions in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c *closers) run() {
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i]()
	}
}

// openRedis connects to cfg.Addr, or starts an embedded miniredis when no
// address is configured. The connection is retried while Redis starts up.
func openRedis(ctx context.Context, cfg config.RedisSection, logger *slog.Logger, cl *closers) (redis.UniversalClient, error) {
	addr := cfg.Addr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, oops.In("serve").Code("REDIS_EMBED_FAILED").Wrap(err)
		}
		cl.add(mr.Close)
		addr = mr.Addr()
		logger.Warn("no redis address configured; using embedded in-memory redis", "addr", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	cl.add(func() { _ = client.Close() })

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Debug("redis not ready", "addr", addr, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, oops.In("serve").Code("REDIS_UNREACHABLE").With("addr", addr).Wrapf(goGate.ErrSessionStoreUnavailable, "%v", err)
	}
	return client, nil
}

// openDirectory builds the principal directory selected by cfg.Kind.
func openDirectory(ctx context.Context, cfg config.DirectorySection, cl *closers) (goGate.PrincipalDirectory, error) {
	errb := oops.In("serve").Code("DIRECTORY_OPEN_FAILED").With("kind", cfg.Kind)

	switch strings.ToLower(cfg.Kind) {
	case "", "static":
		principals := make([]goGate.Principal, 0, len(cfg.Principals))
		for _, r := range cfg.Principals {
			principals = append(principals, goGate.Principal{
				ID:             r.ID,
				Username:       r.Username,
				Roles:          r.Roles,
				CredentialHash: r.PasswordHash,
			})
		}
		d, err := directory.NewStatic(principals...)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		return d, nil
	case "postgres":
		pool, err := directory.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		cl.add(pool.Close)
		return directory.NewPostgres(pool), nil
	case "sqlite":
		d, err := directory.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		cl.add(func() { _ = d.Close() })
		return d, nil
	default:
		return nil, errb.Wrapf(goGate.ErrConfiguration, "unknown directory kind %q", cfg.Kind)
	}
}

func auditSink(kind string, logger *slog.Logger) (goGate.AuditSink, error) {
	switch strings.ToLower(kind) {
	case "", "log":
		return goGate.NewSlogSink(logger), nil
	case "json":
		return goGate.NewJSONWriterSink(os.Stdout), nil
	default:
		return nil, oops.In("serve").Code("CONFIG_INVALID").Wrapf(goGate.ErrConfiguration, "unknown audit sink %q", kind)
	}
}

// buildEngine wires an engine from the loaded file configuration.
func buildEngine(ctx context.Context, f config.File, logger *slog.Logger, cl *closers) (*goGate.Engine, error) {
	cfg, err := f.EngineConfig()
	if err != nil {
		return nil, err
	}

	rdb, err := openRedis(ctx, f.Redis, logger, cl)
	if err != nil {
		return nil, err
	}
	dir, err := openDirectory(ctx, f.Directory, cl)
	if err != nil {
		return nil, err
	}
	sink, err := auditSink(f.Audit.Sink, logger)
	if err != nil {
		return nil, err
	}

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithAuditSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, err
	}
	cl.add(engine.Close)
	return engine, nil
}
