// Package signal feeds producer decisions into the trader from outside the process.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// RedisSource pops one pending signal per strategy and symbol from
// "<prefix>:signal:<strategy>:<symbol>". External analysers SET the key;
// GETDEL makes every signal single-use.
type RedisSource struct {
	rdb    *redis.Client
	prefix string
	maxAge time.Duration
	now    func() time.Time
}

var _ port.SignalSource = (*RedisSource)(nil)

func NewRedisSource(rdb *redis.Client, prefix string, maxAge time.Duration) *RedisSource {
	if strings.TrimSpace(prefix) == "" {
		prefix = "mt5bot"
	}
	return &RedisSource{rdb: rdb, prefix: prefix, maxAge: maxAge, now: time.Now}
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Key(strategy, symbol string) string {
	return fmt.Sprintf("%s:signal:%s:%s", s.prefix, strategy, strings.ToUpper(symbol))
}

func (s *RedisSource) Next(ctx context.Context, strategy, symbol string) (*model.Signal, error) {
	raw, err := s.rdb.GetDel(ctx, s.Key(strategy, symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sig model.Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		log.Warn().Err(err).Str("strategy", strategy).Str("symbol", symbol).Msg("dropping malformed signal")
		return nil, nil
	}
	if sig.Strategy == "" {
		sig.Strategy = strategy
	}
	if sig.Symbol == "" {
		sig.Symbol = symbol
	}
	if s.maxAge > 0 && !sig.CreatedAt.IsZero() && s.now().Sub(sig.CreatedAt) > s.maxAge {
		log.Info().Str("strategy", strategy).Str("symbol", symbol).Time("created_at", sig.CreatedAt).Msg("dropping stale signal")
		return nil, nil
	}
	return &sig, nil
}
