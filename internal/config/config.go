// 包 config：集中读取运行配置；优先级为 命令行参数 > 环境变量 > YAML 文件 > 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"geo-index/internal/tile"
)

// 存储后端名称
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
)

type Config struct {
	Addr        string          `yaml:"addr"`
	XDCRAddr    string          `yaml:"xdcr_addr"`
	Hostname    string          `yaml:"hostname"`
	Concurrency int             `yaml:"concurrency"`
	Store       StoreConfig     `yaml:"store"`
	Grid        tile.Options    `yaml:"grid"`
	Redis       RedisConfig     `yaml:"redis"`
	GeoIPPath   string          `yaml:"geoip_path"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	TLS         TLSConfig       `yaml:"tls"`
}

type StoreConfig struct {
	Backend      string `yaml:"backend"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	PGMaxOpen    int    `yaml:"pg_max_open_conns"`
	PGMaxIdle    int    `yaml:"pg_max_idle_conns"`
	SQLitePath   string `yaml:"sqlite_path"`
	BadgerDir    string `yaml:"badger_dir"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// RedisConfig：Host 为空表示不启用查询缓存
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Pass     string `yaml:"pass"`
	DB       int    `yaml:"db"`
	TTLSecs  int    `yaml:"ttl_seconds"`
	Disabled bool   `yaml:"disabled"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	QPS     int  `yaml:"qps"`
}

type TLSConfig struct {
	Enable   bool   `yaml:"enable"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// Default：与原始进程参数保持一致的默认值
func Default() Config {
	return Config{
		Addr:        ":8080",
		XDCRAddr:    ":9091",
		Hostname:    "127.0.0.1",
		Concurrency: 8,
		Store: StoreConfig{
			Backend:    BackendMemory,
			PGMaxOpen:  50,
			PGMaxIdle:  25,
			SQLitePath: filepath.Join("data", "geo-index.db"),
			BadgerDir:  filepath.Join("data", "badger"),
		},
		Grid:      tile.DefaultOptions(),
		Redis:     RedisConfig{Port: "6379", TTLSecs: 300},
		RateLimit: RateLimitConfig{QPS: 200},
		TLS: TLSConfig{
			CertPath: filepath.Join("data", "certs", "server.crt"),
			KeyPath:  filepath.Join("data", "certs", "server.key"),
		},
	}
}

// Load：读取 .env、可选 YAML 文件与环境变量
// 约束：path 为空时回退到 CONFIG_FILE；文件不存在视为错误，.env 缺失则忽略；
// 不做校验，调用方在叠加命令行参数之后调用 Validate
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.Store.Backend == BackendPostgres && cfg.Store.PostgresDSN == "" {
		cfg.Store.PostgresDSN = BuildPostgresDSNFromEnv()
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	// 解析失败时忽略并保留原值
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	str("ADDR", &c.Addr)
	str("XDCR_ADDR", &c.XDCRAddr)
	str("XDCR_HOSTNAME", &c.Hostname)
	num("INGEST_CONCURRENCY", &c.Concurrency)
	str("STORE_BACKEND", &c.Store.Backend)
	str("PG_DSN", &c.Store.PostgresDSN)
	num("PG_MAX_OPEN_CONNS", &c.Store.PGMaxOpen)
	num("PG_MAX_IDLE_CONNS", &c.Store.PGMaxIdle)
	str("SQLITE_PATH", &c.Store.SQLitePath)
	str("BADGER_DIR", &c.Store.BadgerDir)
	str("SNAPSHOT_PATH", &c.Store.SnapshotPath)
	num("TILE_DECIMALS", &c.Grid.Decimals)
	str("TILE_MIN_SIZE", &c.Grid.MinSize)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PORT", &c.Redis.Port)
	str("REDIS_PASS", &c.Redis.Pass)
	num("REDIS_DB", &c.Redis.DB)
	num("QUERY_CACHE_TTL_S", &c.Redis.TTLSecs)
	flag("QUERY_CACHE_DISABLED", &c.Redis.Disabled)
	str("GEOIP_PATH", &c.GeoIPPath)
	flag("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	num("RATE_LIMIT_QPS", &c.RateLimit.QPS)
	flag("TLS_ENABLE", &c.TLS.Enable)
	str("TLS_CERT_PATH", &c.TLS.CertPath)
	str("TLS_KEY_PATH", &c.TLS.KeyPath)
}

// Validate：启动前的基本校验，网格参数由 tile.NewGrid 负责
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if _, err := tile.NewGrid(c.Grid); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.Enabled && c.RateLimit.QPS < 1 {
		errs = append(errs, fmt.Errorf("rate limit qps must be positive, got %d", c.RateLimit.QPS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RedisAddr：未配置主机时返回空串
func (c Config) RedisAddr() string {
	if c.Redis.Disabled || c.Redis.Host == "" {
		return ""
	}
	return c.Redis.Host + ":" + c.Redis.Port
}

// GeoIPAvailable：GeoIP 数据文件存在时返回 true
func (c Config) GeoIPAvailable() bool {
	if c.GeoIPPath == "" {
		return false
	}
	_, err := os.Stat(c.GeoIPPath)
	return err == nil
}
