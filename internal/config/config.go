// Package config loads and validates monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/extractor"
	"github.com/JakeFAU/vps-stock-monitor/internal/notify/telegram"
	"github.com/JakeFAU/vps-stock-monitor/internal/orchestrator"
	"github.com/JakeFAU/vps-stock-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/vps-stock-monitor/internal/policy/relay"
	"github.com/JakeFAU/vps-stock-monitor/internal/scanner"
	"github.com/JakeFAU/vps-stock-monitor/internal/scheduler"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/gcs"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/postgres"
)

// EnvPrefix is prepended to every environment override, e.g. STOCKMON_RUN_MODE.
const EnvPrefix = "STOCKMON"

// Config captures all monitor configuration knobs loaded via Viper.
type Config struct {
	Run       RunConfig                   `mapstructure:"run"`
	Fetch     FetchConfig                 `mapstructure:"fetch"`
	Discovery discovery.Config            `mapstructure:"discovery"`
	Scanner   scanner.Config              `mapstructure:"scanner"`
	Enrich    orchestrator.EnrichConfig   `mapstructure:"enrich"`
	Domains   DomainsConfig               `mapstructure:"domains"`
	Telegram  telegram.Config             `mapstructure:"telegram"`
	PubSub    PubSubConfig                `mapstructure:"pubsub"`
	Postgres  postgres.HistoryStoreConfig `mapstructure:"postgres"`
	GCS       gcs.Config                  `mapstructure:"gcs"`
	Redis     RedisConfig                 `mapstructure:"redis"`
	Server    ServerConfig                `mapstructure:"server"`
	Schedule  ScheduleConfig              `mapstructure:"schedule"`
	Logging   LoggingConfig               `mapstructure:"logging"`
}

// RunConfig controls one monitor pass.
type RunConfig struct {
	Mode       string   `mapstructure:"mode"`
	Targets    []string `mapstructure:"targets"`
	StatePath  string   `mapstructure:"state_path"`
	OutputPath string   `mapstructure:"output_path"`
	DryRun     bool     `mapstructure:"dry_run"`

	// TimeoutSeconds bounds a single page fetch.
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
	MaxWorkers     int     `mapstructure:"max_workers"`

	// TargetBudget bounds one target crawl; HiddenBudget bounds the hidden
	// scan inside it.
	TargetBudget   time.Duration `mapstructure:"target_budget"`
	HiddenBudget   time.Duration `mapstructure:"hidden_budget"`
	ParallelHidden bool          `mapstructure:"parallel_hidden"`
}

// FetchConfig configures the page fetcher stack.
type FetchConfig struct {
	UserAgents    []string      `mapstructure:"user_agents"`
	Attempts      int           `mapstructure:"attempts"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after"`
	ProxyURL      string        `mapstructure:"proxy_url"`

	// RPS and Burst are the per-host politeness defaults.
	RPS       float64     `mapstructure:"rps"`
	Burst     int         `mapstructure:"burst"`
	HostRates []HostRate  `mapstructure:"host_rates"`
	Relay     RelayConfig `mapstructure:"relay"`
}

// HostRate overrides the politeness rate of one host.
type HostRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// RelayConfig configures the headless relay for blocked pages.
type RelayConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Mode              string        `mapstructure:"mode"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ChallengeWait     time.Duration `mapstructure:"challenge_wait"`
}

// DomainsConfig holds the target list and per-domain tables.
type DomainsConfig struct {
	Targets              []string                   `mapstructure:"targets"`
	ExtraPages           []SitePages                `mapstructure:"extra_pages"`
	WHMCSDomains         []string                   `mapstructure:"whmcs_domains"`
	HostBillDomains      []string                   `mapstructure:"hostbill_domains"`
	StoreAPIs            []extractor.StoreAPIConfig `mapstructure:"store_apis"`
	HiddenScanDenylist   []string                   `mapstructure:"hidden_scan_denylist"`
	SkipGroupScanDomains []string                   `mapstructure:"skip_group_scan_domains"`
}

// SitePages lists explicit entry pages for one domain. It is a list rather
// than a map because domain names contain the Viper key delimiter.
type SitePages struct {
	Domain string   `mapstructure:"domain"`
	Pages  []string `mapstructure:"pages"`
}

// PubSubConfig enables the Pub/Sub event notifier when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether events should be published.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// RedisConfig enables the run lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// ServerConfig controls the daemon HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	// APIKey, when set, guards the /v1 routes.
	APIKey string `mapstructure:"api_key"`
}

// ScheduleConfig controls daemon runs.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig selects the zap preset and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if err := setDefaults(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the bot credentials readable from the variable names
// CI secrets already use.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("telegram.token", EnvPrefix+"_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"); err != nil {
		return fmt.Errorf("bind telegram token: %w", err)
	}
	if err := v.BindEnv("telegram.chat_id", EnvPrefix+"_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"); err != nil {
		return fmt.Errorf("bind telegram chat id: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) error {
	v.SetDefault("run.mode", string(scheduler.ModeFull))
	v.SetDefault("run.targets", []string{})
	v.SetDefault("run.state_path", "data/state.json")
	v.SetDefault("run.output_path", "docs/index.html")
	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.timeout_seconds", 25.0)
	v.SetDefault("run.max_workers", 8)
	v.SetDefault("run.target_budget", 210*time.Second)
	v.SetDefault("run.hidden_budget", 180*time.Second)
	v.SetDefault("run.parallel_hidden", true)

	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.attempts", 2)
	v.SetDefault("fetch.max_retry_after", 5*time.Second)
	v.SetDefault("fetch.proxy_url", "")
	v.SetDefault("fetch.rps", 4.0)
	v.SetDefault("fetch.burst", 4)
	v.SetDefault("fetch.host_rates", []map[string]any{})
	v.SetDefault("fetch.relay.enabled", false)
	v.SetDefault("fetch.relay.mode", string(relay.ModeListing))
	v.SetDefault("fetch.relay.max_parallel", 2)
	v.SetDefault("fetch.relay.navigation_timeout", 45*time.Second)
	v.SetDefault("fetch.relay.challenge_wait", 8*time.Second)

	if err := setStructDefaults(v, "discovery", discovery.DefaultConfig()); err != nil {
		return err
	}
	if err := setStructDefaults(v, "scanner", scanner.DefaultConfig()); err != nil {
		return err
	}
	if err := setStructDefaults(v, "enrich", orchestrator.DefaultEnrichConfig()); err != nil {
		return err
	}

	sites := discovery.DefaultSites()
	orch := orchestrator.DefaultConfig()
	v.SetDefault("domains.targets", DefaultTargets())
	v.SetDefault("domains.extra_pages", sitePagesDefault(sites.ExtraPages))
	v.SetDefault("domains.whmcs_domains", sites.WHMCSDomains)
	v.SetDefault("domains.hostbill_domains", sites.HostBillDomains)
	v.SetDefault("domains.store_apis", []map[string]any{
		{"domain": "acck.io", "currency": "CNY", "shop_path": "/shop/server"},
		{"domain": "akile.io", "currency": "CNY", "shop_path": "/shop/server"},
	})
	v.SetDefault("domains.hidden_scan_denylist", orch.HiddenScanDenylist)
	v.SetDefault("domains.skip_group_scan_domains", orch.SkipGroupScanDomains)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.min_interval", time.Second)
	v.SetDefault("telegram.timeout", 15*time.Second)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.runs_table", "domain_runs")
	v.SetDefault("postgres.events_table", "stock_events")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", 30*time.Minute)

	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "")
	v.SetDefault("gcs.cache_control", "no-cache, max-age=0")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key", "state")
	v.SetDefault("redis.lock_ttl", 15*time.Minute)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("schedule.cron", "*/30 * * * *")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	return nil
}

// setStructDefaults registers every field of a package default struct under
// prefix so environment overrides reach it through AutomaticEnv.
func setStructDefaults(v *viper.Viper, prefix string, defaults any) error {
	var fields map[string]any
	if err := mapstructure.Decode(defaults, &fields); err != nil {
		return fmt.Errorf("decode %s defaults: %w", prefix, err)
	}
	for key, value := range fields {
		v.SetDefault(prefix+"."+key, value)
	}
	return nil
}

func sitePagesDefault(pages map[string][]string) []map[string]any {
	out := make([]map[string]any, 0, len(pages))
	for domain, urls := range pages {
		out = append(out, map[string]any{"domain": domain, "pages": urls})
	}
	return out
}

// DefaultTargets is the built-in storefront list.
func DefaultTargets() []string {
	return []string{
		"https://my.rfchost.com/",
		"https://my.frantech.ca/",
		"https://nmcloud.cc/",
		"https://bgp.gd/",
		"https://wap.ac/",
		"https://www.bagevm.com/",
		"https://backwaves.net/",
		"https://cloud.ggvision.net/",
		"https://cloud.colocrossing.com/",
		"https://clients.zgovps.com/",
		"https://my.racknerd.com/",
		"https://cloud.boil.network/",
		"https://bestvm.cloud/",
		"https://www.mkcloud.net/",
		"https://alphavps.com/clients/",
		"https://app.vmiss.com/",
		"https://clientarea.gigsgigscloud.com/",
		"https://www.dmit.io/",
		"https://greencloudvps.com/billing/",
		"https://cloud.tizz.yt/",
		"https://acck.io/",
		"https://akile.io/",
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := scheduler.ParseMode(c.Run.Mode); err != nil {
		return fmt.Errorf("run.mode: %w", err)
	}
	if c.Run.TimeoutSeconds <= 0 {
		return errors.New("run.timeout_seconds must be > 0")
	}
	if c.Run.MaxWorkers <= 0 {
		return errors.New("run.max_workers must be > 0")
	}
	if c.Run.TargetBudget < 0 || c.Run.HiddenBudget < 0 {
		return errors.New("run.target_budget and run.hidden_budget must be >= 0")
	}
	if strings.TrimSpace(c.Run.StatePath) == "" {
		return errors.New("run.state_path is required")
	}
	if err := scheduler.ValidateTargets(c.Targets()); err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	if c.Fetch.Attempts <= 0 {
		return errors.New("fetch.attempts must be > 0")
	}
	switch relay.Mode(c.Fetch.Relay.Mode) {
	case relay.ModeOff, relay.ModeListing, relay.ModeAll:
	default:
		return fmt.Errorf("fetch.relay.mode %q is not one of off, listing, all", c.Fetch.Relay.Mode)
	}
	if c.Fetch.Relay.Enabled && c.Fetch.Relay.MaxParallel <= 0 {
		return errors.New("fetch.relay.max_parallel must be > 0 when the relay is enabled")
	}
	for _, api := range c.Domains.StoreAPIs {
		if strings.TrimSpace(api.Domain) == "" {
			return errors.New("domains.store_apis entries need a domain")
		}
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

// Mode returns the parsed run mode.
func (c Config) Mode() scheduler.Mode {
	mode, err := scheduler.ParseMode(c.Run.Mode)
	if err != nil {
		return scheduler.ModeFull
	}
	return mode
}

// Targets returns the explicit run targets when set, else the domain list.
func (c Config) Targets() []string {
	if len(c.Run.Targets) > 0 {
		return c.Run.Targets
	}
	return c.Domains.Targets
}

// FetchTimeout converts run.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Run.TimeoutSeconds * float64(time.Second))
}

// Sites builds the discovery site table.
func (c Config) Sites() discovery.Sites {
	extra := make(map[string][]string, len(c.Domains.ExtraPages))
	for _, sp := range c.Domains.ExtraPages {
		domain := strings.ToLower(strings.TrimSpace(sp.Domain))
		if domain == "" {
			continue
		}
		extra[domain] = append(extra[domain], sp.Pages...)
	}
	return discovery.Sites{
		ExtraPages:      extra,
		WHMCSDomains:    c.Domains.WHMCSDomains,
		HostBillDomains: c.Domains.HostBillDomains,
	}
}

// Orchestrator assembles the per-target crawl configuration.
func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		TargetBudget:         c.Run.TargetBudget,
		HiddenBudget:         c.Run.HiddenBudget,
		ParallelHidden:       c.Run.ParallelHidden,
		Discovery:            c.Discovery,
		Scanner:              c.Scanner,
		Enrich:               c.Enrich,
		HiddenScanDenylist:   c.Domains.HiddenScanDenylist,
		SkipGroupScanDomains: c.Domains.SkipGroupScanDomains,
	}
}

// RateLimit assembles the per-host politeness configuration.
func (c Config) RateLimit() ratelimit.Config {
	hosts := make(map[string]float64, len(c.Fetch.HostRates))
	for _, hr := range c.Fetch.HostRates {
		if hr.Host != "" {
			hosts[hr.Host] = hr.RPS
		}
	}
	return ratelimit.Config{DefaultRPS: c.Fetch.RPS, DefaultBurst: c.Fetch.Burst, HostRPS: hosts}
}
