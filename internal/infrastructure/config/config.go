package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"mt5bot/internal/domain/model"
)

// Duration decodes TOML strings such as "1500ms" or "6h".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type Config struct {
	App struct {
		Name            string   `toml:"name"`
		LogLevel        string   `toml:"log_level"`
		ShutdownTimeout Duration `toml:"shutdown_timeout"`
	} `toml:"app"`

	Broker struct {
		Kind      string   `toml:"kind"` // mt5bridge | paper
		BaseURL   string   `toml:"base_url"`
		APIKey    string   `toml:"api_key"`
		APISecret string   `toml:"api_secret"`
		Timeout   Duration `toml:"timeout"`
		RateLimit float64  `toml:"rate_limit"` // requests per second, 0 = unlimited
		Burst     int      `toml:"burst"`

		Paper struct {
			ContractSize map[string]float64 `toml:"contract_size"`
			Digits       map[string]int     `toml:"digits"`
			Prices       map[string]float64 `toml:"prices"`
		} `toml:"paper"`
	} `toml:"broker"`

	Lifecycle struct {
		TickInterval          Duration `toml:"tick_interval"`
		ListTimeout           Duration `toml:"list_timeout"`
		MutationTimeout       Duration `toml:"mutation_timeout"`
		RetryCeiling          int      `toml:"retry_ceiling"`
		TickFailureCeiling    int      `toml:"tick_failure_ceiling"`
		ReconcileConcurrency  int      `toml:"reconcile_concurrency"`
		EmergencyLossFraction float64  `toml:"emergency_loss_fraction"`
		GivebackFraction      float64  `toml:"giveback_fraction"`
		LockFraction          float64  `toml:"lock_fraction"`
		MinPeakProfit         float64  `toml:"min_peak_profit"`
	} `toml:"lifecycle"`

	Reconcile struct {
		Lookback    Duration `toml:"lookback"`
		MaxRetries  int      `toml:"max_retries"`
		Backoff     Duration `toml:"backoff"`
		MaxBackoff  Duration `toml:"max_backoff"`
		CallTimeout Duration `toml:"call_timeout"`
	} `toml:"reconcile"`

	Learning struct {
		DefaultConfidence float64 `toml:"default_confidence"`
		MinSampleSize     int     `toml:"min_sample_size"`
		AdjustEvery       int     `toml:"adjust_every"`
		HighWinRate       float64 `toml:"high_win_rate"`
		LowWinRate        float64 `toml:"low_win_rate"`
		Step              float64 `toml:"step"`
		Floor             float64 `toml:"floor"`
		Ceiling           float64 `toml:"ceiling"`
		MaxPatterns       int     `toml:"max_patterns"`
		MaxTickets        int     `toml:"max_tickets"`
	} `toml:"learning"`

	Orders struct {
		DedupWindow  Duration `toml:"dedup_window"`
		PlaceTimeout Duration `toml:"place_timeout"`
	} `toml:"orders"`

	ExitPolicies map[string]ExitPolicy `toml:"exit_policies"`
	Strategies   []Strategy            `toml:"strategies"`

	Storage struct {
		Backend  string `toml:"backend"` // file | sqlite
		StateDir string `toml:"state_dir"`

		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled  bool   `toml:"enabled"`
			Addr     string `toml:"addr"`
			Password string `toml:"password"`
			DB       int    `toml:"db"`
			Prefix   string `toml:"prefix"`
		} `toml:"redis"`
	} `toml:"storage"`

	Signals struct {
		Source string   `toml:"source"` // redis | none
		Prefix string   `toml:"prefix"`
		MaxAge Duration `toml:"max_age"` // older signals are dropped, 0 keeps all
	} `toml:"signals"`

	Backup struct {
		Enabled  bool     `toml:"enabled"`
		Bucket   string   `toml:"bucket"`
		Prefix   string   `toml:"prefix"`
		Region   string   `toml:"region"`
		Interval Duration `toml:"interval"`
	} `toml:"backup"`

	Telegram struct {
		Enabled bool   `toml:"enabled"`
		Token   string `toml:"token"`
		ChatID  int64  `toml:"chat_id"`
	} `toml:"telegram"`

	HTTP struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"http"`
}

// ExitPolicy is the TOML shape of one [exit_policies.<strategy>] table.
type ExitPolicy struct {
	TrailingDistance            float64  `toml:"trailing_distance"`
	BreakevenTriggerFraction    float64  `toml:"breakeven_trigger_fraction"`
	BreakevenOffset             float64  `toml:"breakeven_offset"`
	PartialCloseTriggerFraction float64  `toml:"partial_close_trigger_fraction"`
	PartialCloseVolumeFraction  float64  `toml:"partial_close_volume_fraction"`
	MaxHold                     Duration `toml:"max_hold"`
	MinHold                     Duration `toml:"min_hold"`
}

func (e ExitPolicy) Model() model.ExitPolicy {
	return model.ExitPolicy{
		TrailingDistance:            e.TrailingDistance,
		BreakevenTriggerFraction:    e.BreakevenTriggerFraction,
		BreakevenOffset:             e.BreakevenOffset,
		PartialCloseTriggerFraction: e.PartialCloseTriggerFraction,
		PartialCloseVolumeFraction:  e.PartialCloseVolumeFraction,
		MaxHold:                     e.MaxHold.Duration,
		MinHold:                     e.MinHold.Duration,
	}
}

// Strategy is one [[strategies]] entry: a producer per symbol on its own interval.
type Strategy struct {
	Name     string   `toml:"name"`
	Symbols  []string `toml:"symbols"`
	Interval Duration `toml:"interval"`
	Volume   float64  `toml:"volume"`
	Disabled bool     `toml:"disabled"`
}

// DefaultPolicyName is the exit_policies key used for strategies without their own table.
const DefaultPolicyName = "default"

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; existing variables are never overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString(&cfg.Broker.BaseURL, "MT5BOT_BROKER_URL")
	setString(&cfg.Broker.APIKey, "MT5BOT_BROKER_API_KEY")
	setString(&cfg.Broker.APISecret, "MT5BOT_BROKER_API_SECRET")
	setString(&cfg.Telegram.Token, "MT5BOT_TELEGRAM_TOKEN")
	setString(&cfg.Storage.Postgres.DSN, "MT5BOT_POSTGRES_DSN")
	setString(&cfg.Storage.Redis.Password, "MT5BOT_REDIS_PASSWORD")
	if v := os.Getenv("MT5BOT_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "mt5bot"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.ShutdownTimeout.Duration <= 0 {
		cfg.App.ShutdownTimeout.Duration = 15 * time.Second
	}

	if cfg.Broker.Kind == "" {
		cfg.Broker.Kind = "paper"
	}
	if cfg.Broker.Timeout.Duration <= 0 {
		cfg.Broker.Timeout.Duration = 10 * time.Second
	}
	if cfg.Broker.Burst <= 0 {
		cfg.Broker.Burst = 5
	}

	lc := &cfg.Lifecycle
	if lc.TickInterval.Duration <= 0 {
		lc.TickInterval.Duration = 2 * time.Second
	}
	if lc.ListTimeout.Duration <= 0 {
		lc.ListTimeout.Duration = 5 * time.Second
	}
	if lc.MutationTimeout.Duration <= 0 {
		lc.MutationTimeout.Duration = 5 * time.Second
	}
	if lc.RetryCeiling <= 0 {
		lc.RetryCeiling = 10
	}
	if lc.TickFailureCeiling <= 0 {
		lc.TickFailureCeiling = 30
	}
	if lc.ReconcileConcurrency <= 0 {
		lc.ReconcileConcurrency = 4
	}
	if lc.EmergencyLossFraction <= 0 {
		lc.EmergencyLossFraction = 0.8
	}
	if lc.GivebackFraction <= 0 {
		lc.GivebackFraction = 0.3
	}
	if lc.LockFraction <= 0 {
		lc.LockFraction = 0.5
	}

	rc := &cfg.Reconcile
	if rc.Lookback.Duration <= 0 {
		rc.Lookback.Duration = 6 * time.Hour
	}
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	} else if rc.MaxRetries == 0 {
		rc.MaxRetries = 3
	}
	if rc.Backoff.Duration <= 0 {
		rc.Backoff.Duration = 500 * time.Millisecond
	}
	if rc.MaxBackoff.Duration <= 0 {
		rc.MaxBackoff.Duration = 5 * time.Second
	}
	if rc.CallTimeout.Duration <= 0 {
		rc.CallTimeout.Duration = 10 * time.Second
	}

	ln := &cfg.Learning
	if ln.DefaultConfidence <= 0 {
		ln.DefaultConfidence = 0.6
	}
	if ln.MinSampleSize <= 0 {
		ln.MinSampleSize = 20
	}
	if ln.AdjustEvery <= 0 {
		ln.AdjustEvery = 20
	}
	if ln.HighWinRate <= 0 {
		ln.HighWinRate = 0.7
	}
	if ln.LowWinRate <= 0 {
		ln.LowWinRate = 0.5
	}
	if ln.Step <= 0 {
		ln.Step = 0.05
	}
	if ln.Floor <= 0 {
		ln.Floor = 0.4
	}
	if ln.Ceiling <= 0 {
		ln.Ceiling = 0.95
	}
	if ln.MaxPatterns <= 0 {
		ln.MaxPatterns = 50
	}
	if ln.MaxTickets <= 0 {
		ln.MaxTickets = 500
	}

	if cfg.Orders.DedupWindow.Duration <= 0 {
		cfg.Orders.DedupWindow.Duration = 30 * time.Second
	}
	if cfg.Orders.PlaceTimeout.Duration <= 0 {
		cfg.Orders.PlaceTimeout.Duration = 10 * time.Second
	}

	if cfg.ExitPolicies == nil {
		cfg.ExitPolicies = map[string]ExitPolicy{}
	}
	if _, ok := cfg.ExitPolicies[DefaultPolicyName]; !ok {
		cfg.ExitPolicies[DefaultPolicyName] = ExitPolicy{}
	}
	for i := range cfg.Strategies {
		if cfg.Strategies[i].Interval.Duration <= 0 {
			cfg.Strategies[i].Interval.Duration = time.Minute
		}
	}

	st := &cfg.Storage
	if st.Backend == "" {
		st.Backend = "file"
	}
	if st.StateDir == "" {
		st.StateDir = "data/state"
	}
	if st.SQLite.Path == "" {
		st.SQLite.Path = "data/mt5bot.db"
	}
	if st.Redis.Prefix == "" {
		st.Redis.Prefix = "mt5bot"
	}
	if cfg.Signals.Source == "" {
		cfg.Signals.Source = "none"
	}
	if cfg.Signals.Prefix == "" {
		cfg.Signals.Prefix = st.Redis.Prefix
	}
	if cfg.Backup.Interval.Duration <= 0 {
		cfg.Backup.Interval.Duration = time.Hour
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8089"
	}
}

func validate(cfg *Config) error {
	switch cfg.Broker.Kind {
	case "paper":
	case "mt5bridge":
		if strings.TrimSpace(cfg.Broker.BaseURL) == "" {
			return errors.New("broker.base_url empty for mt5bridge")
		}
		if cfg.Broker.APIKey == "" || cfg.Broker.APISecret == "" {
			return errors.New("broker api key/secret missing (set MT5BOT_BROKER_API_KEY / MT5BOT_BROKER_API_SECRET)")
		}
	default:
		return fmt.Errorf("broker.kind %q not supported", cfg.Broker.Kind)
	}

	ln := cfg.Learning
	if ln.Floor > ln.Ceiling {
		return fmt.Errorf("learning.floor %v above ceiling %v", ln.Floor, ln.Ceiling)
	}
	if ln.LowWinRate > ln.HighWinRate {
		return fmt.Errorf("learning.low_win_rate %v above high_win_rate %v", ln.LowWinRate, ln.HighWinRate)
	}

	for name, p := range cfg.ExitPolicies {
		if err := p.Model().Validate(); err != nil {
			return fmt.Errorf("exit_policies.%s: %w", name, err)
		}
	}

	seen := map[string]struct{}{}
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name empty", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("strategy %q defined twice", s.Name)
		}
		seen[s.Name] = struct{}{}
		s.Symbols = normalizeSymbols(s.Symbols)
		if len(s.Symbols) == 0 && !s.Disabled {
			return fmt.Errorf("strategy %q has no symbols", s.Name)
		}
	}

	switch cfg.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend %q not supported", cfg.Storage.Backend)
	}
	switch cfg.Signals.Source {
	case "none", "redis":
	default:
		return fmt.Errorf("signals.source %q not supported", cfg.Signals.Source)
	}
	if cfg.Storage.Postgres.Enabled && cfg.Storage.Postgres.DSN == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if (cfg.Storage.Redis.Enabled || cfg.Signals.Source == "redis") && cfg.Storage.Redis.Addr == "" {
		return errors.New("storage.redis.addr required")
	}
	if cfg.Backup.Enabled && cfg.Backup.Bucket == "" {
		return errors.New("backup.bucket empty but enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0) {
		return errors.New("telegram token/chat_id missing but enabled")
	}
	return nil
}

// ExitPolicyModels splits the configured tables into per-strategy policies and the default.
func (c *Config) ExitPolicyModels() (map[string]model.ExitPolicy, model.ExitPolicy) {
	out := make(map[string]model.ExitPolicy, len(c.ExitPolicies))
	for name, p := range c.ExitPolicies {
		if name == DefaultPolicyName {
			continue
		}
		out[name] = p.Model()
	}
	return out, c.ExitPolicies[DefaultPolicyName].Model()
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
