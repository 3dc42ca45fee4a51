package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/infrastructure/archive"
	"mt5bot/internal/infrastructure/broker/mt5bridge"
	"mt5bot/internal/infrastructure/broker/paper"
	"mt5bot/internal/infrastructure/config"
	"mt5bot/internal/infrastructure/notify"
	"mt5bot/internal/infrastructure/notify/telegram"
	"mt5bot/internal/infrastructure/signal"
	"mt5bot/internal/infrastructure/storage/composite"
	filestore "mt5bot/internal/infrastructure/storage/file"
	pgrepo "mt5bot/internal/infrastructure/storage/postgres"
	redisrepo "mt5bot/internal/infrastructure/storage/redis"
	sqliterepo "mt5bot/internal/infrastructure/storage/sqlite"
)

// Container 持有所有基础设施适配器
type Container struct {
	cfg *config.Config

	broker     port.Broker
	state      port.StateStore
	sqliteRepo *sqliterepo.Repo
	pgRepo     *pgrepo.Repo
	redis      *redis.Client
	redisRepo  *redisrepo.Repo
	journal    *composite.Journal
	signals    port.SignalSource
	alerter    port.Alerter
	archiver   port.Archiver

	closeOnce   sync.Once
	closerChain []func() error
}

// New 按配置初始化基础设施，失败时释放已初始化的资源
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{cfg: cfg, closerChain: make([]func() error, 0)}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"broker", c.initBroker},
		{"storage", c.initStorage},
		{"redis", c.initRedis},
		{"postgres", c.initPostgres},
		{"signals", c.initSignals},
		{"alerts", c.initAlerter},
		{"backup", c.initArchiver},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%s init failed: %w", s.name, err)
		}
	}

	var journals []port.TradeJournal
	if c.sqliteRepo != nil {
		journals = append(journals, c.sqliteRepo)
	}
	if c.pgRepo != nil {
		journals = append(journals, c.pgRepo)
	}
	if c.redisRepo != nil {
		journals = append(journals, c.redisRepo)
	}
	c.journal = composite.New(journals...)
	return c, nil
}

func (c *Container) initBroker(_ context.Context) error {
	b := c.cfg.Broker
	switch b.Kind {
	case "mt5bridge":
		c.broker = mt5bridge.New(mt5bridge.Options{
			BaseURL:   b.BaseURL,
			APIKey:    b.APIKey,
			APISecret: b.APISecret,
			Timeout:   b.Timeout.Duration,
			RateLimit: b.RateLimit,
			Burst:     b.Burst,
		})
	case "paper":
		c.broker = paper.New(paper.Options{
			Prices:       b.Paper.Prices,
			Digits:       b.Paper.Digits,
			ContractSize: b.Paper.ContractSize,
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownBroker, b.Kind)
	}
	log.Info().Str("broker", c.broker.Name()).Msg("broker initialized")
	return nil
}

func (c *Container) initStorage(_ context.Context) error {
	st := c.cfg.Storage
	switch st.Backend {
	case "sqlite":
		repo, err := sqliterepo.New(st.SQLite.Path)
		if err != nil {
			return err
		}
		c.sqliteRepo = repo
		c.state = repo
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", st.SQLite.Path).Msg("sqlite initialized")
	default:
		fs, err := filestore.New(st.StateDir)
		if err != nil {
			return err
		}
		c.state = fs
		log.Info().Str("dir", st.StateDir).Msg("file state store initialized")
	}
	return nil
}

func (c *Container) initRedis(ctx context.Context) error {
	rc := c.cfg.Storage.Redis
	if !rc.Enabled && c.cfg.Signals.Source != "redis" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redis = rdb
	if rc.Enabled {
		c.redisRepo = redisrepo.New(rdb, rc.Prefix, 0)
	}
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})
	log.Info().Str("addr", rc.Addr).Int("db", rc.DB).Msg("redis initialized")
	return nil
}

func (c *Container) initPostgres(ctx context.Context) error {
	pg := c.cfg.Storage.Postgres
	if !pg.Enabled {
		return nil
	}
	repo, err := pgrepo.New(ctx, pg.DSN)
	if err != nil {
		return err
	}
	c.pgRepo = repo
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres pool")
		return repo.Close()
	})
	log.Info().Msg("postgres journal initialized")
	return nil
}

func (c *Container) initSignals(_ context.Context) error {
	switch c.cfg.Signals.Source {
	case "redis":
		c.signals = signal.NewRedisSource(c.redis, c.cfg.Signals.Prefix, c.cfg.Signals.MaxAge.Duration)
	case "none", "":
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSignalSource, c.cfg.Signals.Source)
	}
	return nil
}

func (c *Container) initAlerter(_ context.Context) error {
	tg := c.cfg.Telegram
	if !tg.Enabled {
		c.alerter = notify.LogAlerter{}
		return nil
	}
	a, err := telegram.New(tg.Token, tg.ChatID)
	if err != nil {
		return err
	}
	c.alerter = a
	log.Info().Int64("chat_id", tg.ChatID).Msg("telegram alerts initialized")
	return nil
}

func (c *Container) initArchiver(ctx context.Context) error {
	b := c.cfg.Backup
	if !b.Enabled {
		return nil
	}
	a, err := archive.NewS3(ctx, b.Bucket, b.Prefix, b.Region)
	if err != nil {
		return err
	}
	c.archiver = a
	log.Info().Str("bucket", b.Bucket).Msg("s3 backup initialized")
	return nil
}

func (c *Container) Config() *config.Config { return c.cfg }

func (c *Container) Broker() port.Broker { return c.broker }

func (c *Container) State() port.StateStore { return c.state }

// Journal is nil when no journaling backend is configured.
func (c *Container) Journal() port.TradeJournal {
	if c.journal == nil || c.journal.Len() == 0 {
		return nil
	}
	return c.journal
}

// SQLiteRepo is nil unless storage.backend is sqlite.
func (c *Container) SQLiteRepo() *sqliterepo.Repo { return c.sqliteRepo }

func (c *Container) Signals() port.SignalSource { return c.signals }

func (c *Container) Alerter() port.Alerter { return c.alerter }

func (c *Container) Archiver() port.Archiver { return c.archiver }

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		if c.state != nil && c.sqliteRepo == nil {
			if e := c.state.Close(); e != nil && err == nil {
				err = e
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
