package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// Repo streams outcomes into a capped redis stream and publishes lifecycle
// events on a pub/sub channel for live consumers.
type Repo struct {
	rdb           *redis.Client
	outcomeStream string
	eventChan     string
	maxLen        int64
}

var _ port.TradeJournal = (*Repo)(nil)

func New(rdb *redis.Client, prefix string, maxLen int64) *Repo {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mt5bot"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Repo{
		rdb:           rdb,
		outcomeStream: prefix + ":outcomes",
		eventChan:     prefix + ":events",
		maxLen:        maxLen,
	}
}

func (r *Repo) OutcomeStream() string { return r.outcomeStream }
func (r *Repo) EventChannel() string  { return r.eventChan }

func (r *Repo) RecordOutcome(ctx context.Context, o model.TradeOutcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	// Stream: XADD <stream> MAXLEN ~ n * id ticket strategy profit payload
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.outcomeStream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       o.ID,
			"ticket":   o.Ticket,
			"strategy": o.StrategyName,
			"profit":   o.Profit,
			"payload":  string(b),
		},
	}).Result()
	return err
}

func (r *Repo) RecordEvent(ctx context.Context, e model.LifecycleEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.eventChan, string(b)).Err()
}
