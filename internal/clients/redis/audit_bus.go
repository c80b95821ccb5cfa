package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

// AuditBus publishes audit events to a Redis channel consumed by the audit
// log service. Delivery is best-effort; the pipeline never blocks on it.
type AuditBus interface {
	Publish(ctx context.Context, event any) error
	Close() error
}

type auditBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewAuditBus(log *logger.Logger) (AuditBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("AUDIT_CHANNEL"))
	if ch == "" {
		ch = "catalog_audit"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &auditBus{
		log:     log.With("service", "RedisAuditBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *auditBus) Publish(ctx context.Context, event any) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("audit bus not initialized")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.rdb.Publish(pubCtx, b.channel, raw).Err()
}

func (b *auditBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
