package configs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/sellflux/internal/models"
	"github.com/songzhibin97/sellflux/internal/risk"
)

const (
	DefaultBaseMint        = "So11111111111111111111111111111111111111112"
	DefaultBasePriceSymbol = "SOLUSDT"
	DefaultQueue           = "process_eliza_simulation"
)

type Config struct {
	// 基础配置
	RPCURL          string   `json:"rpc_url" yaml:"rpc_url"`
	WalletPublicKey string   `json:"wallet_public_key" yaml:"wallet_public_key"`
	BaseMint        string   `json:"base_mint" yaml:"base_mint"`                 // 计价资产 mint
	BasePriceSymbol string   `json:"base_price_symbol" yaml:"base_price_symbol"` // 计价资产 Binance 交易对
	HTTPTimeout     Duration `json:"http_timeout" yaml:"http_timeout"`
	Proxy           string   `json:"proxy" yaml:"proxy"`
	LogLevel        string   `json:"log_level" yaml:"log_level"`
	MetricsAddr     string   `json:"metrics_addr" yaml:"metrics_addr"`

	Broker   Broker   `json:"broker" yaml:"broker"`
	Backend  Backend  `json:"backend" yaml:"backend"`
	Sonar    Sonar    `json:"sonar" yaml:"sonar"`
	Database Database `json:"database" yaml:"database"`
	Redis    Redis    `json:"redis" yaml:"redis"`
	Scan     Scan     `json:"scan" yaml:"scan"`

	// 风险控制参数
	RiskParams risk.RiskParameters `json:"risk_parameters" yaml:"risk_params"`

	// AI 模型参数
	AIConfig AIConfig `json:"ai_config" yaml:"ai_config"`

	// 行情数据源
	Birdeye Birdeye `json:"birdeye" yaml:"birdeye"`
}

type Broker struct {
	URL                string `json:"url" yaml:"url"`
	Queue              string `json:"queue" yaml:"queue"`
	DeadLetterExchange string `json:"dead_letter_exchange" yaml:"dead_letter_exchange"`
}

// Backend 结果同步目标
type Backend struct {
	URL        string   `json:"url" yaml:"url"`
	Token      string   `json:"token" yaml:"token"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
	RetryDelay Duration `json:"retry_delay" yaml:"retry_delay"`
}

// Sonar 模拟卖出任务服务
type Sonar struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"token" yaml:"token"`
}

type Database struct {
	ConnStr string `json:"conn_str" yaml:"conn_str"` // 数据库连接字符串，为空时使用内存存储
}

type Redis struct {
	Addr     string   `json:"addr" yaml:"addr"` // 为空时使用进程内集合
	Password string   `json:"password" yaml:"password"`
	DB       int      `json:"db" yaml:"db"`
	ClaimTTL Duration `json:"claim_ttl" yaml:"claim_ttl"` // 活跃 token 的过期时间，运行中定期续期
}

type Scan struct {
	Interval    Duration `json:"interval" yaml:"interval"` // 0 表示只扫描一次
	Concurrency int      `json:"concurrency" yaml:"concurrency"`
}

type AIConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`       // AI服务API密钥，为空时不启用
	ModelType string `json:"model_type" yaml:"model_type"` // AI模型类型
}

type Birdeye struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// Duration accepts Go duration strings such as "2s" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with every tunable at its default.
func Default() *Config {
	return &Config{
		BaseMint:        DefaultBaseMint,
		BasePriceSymbol: DefaultBasePriceSymbol,
		HTTPTimeout:     Duration(10 * time.Second),
		LogLevel:        "info",
		Broker:          Broker{Queue: DefaultQueue},
		Backend: Backend{
			MaxRetries: 3,
			RetryDelay: Duration(2 * time.Second),
		},
		Redis:      Redis{ClaimTTL: Duration(30 * time.Minute)},
		Scan:       Scan{Concurrency: 8},
		RiskParams: risk.RiskParameters{RapidDumpPercent: risk.DefaultRapidDumpPercent},
	}
}

// Load reads .env (if present), then the optional config file at path, then the process
// environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env: %v", models.ErrConfiguration, err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read config file: %v", models.ErrConfiguration, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, c)
	default:
		err = json.Unmarshal(raw, c)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to parse config file %s: %v", models.ErrConfiguration, path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("RPC_URL", &c.RPCURL)
	str("WALLET_PUBLIC_KEY", &c.WalletPublicKey)
	str("BASE_MINT", &c.BaseMint)
	str("BASE_PRICE_SYMBOL", &c.BasePriceSymbol)
	str("HTTPS_PROXY", &c.Proxy)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("AMQP_URL", &c.Broker.URL)
	str("AMQP_QUEUE", &c.Broker.Queue)
	str("AMQP_DEAD_LETTER_EXCHANGE", &c.Broker.DeadLetterExchange)
	str("BACKEND_URL", &c.Backend.URL)
	str("BACKEND_TOKEN", &c.Backend.Token)
	str("SONAR_BE", &c.Sonar.URL)
	str("SONAR_BE_TOKEN", &c.Sonar.Token)
	str("DATABASE_URL", &c.Database.ConnStr)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("OPENAI_API_KEY", &c.AIConfig.APIKey)
	str("OPENAI_MODEL", &c.AIConfig.ModelType)
	str("BIRDEYE_API_KEY", &c.Birdeye.APIKey)

	ints := []struct {
		key string
		dst *int
	}{
		{"SYNC_MAX_RETRIES", &c.Backend.MaxRetries},
		{"SCAN_CONCURRENCY", &c.Scan.Concurrency},
		{"REDIS_DB", &c.Redis.DB},
	}
	for _, e := range ints {
		if v, ok := lookup(e.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: invalid %s %q", models.ErrConfiguration, e.key, v)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"SYNC_RETRY_DELAY", &c.Backend.RetryDelay},
		{"HTTP_TIMEOUT", &c.HTTPTimeout},
		{"SCAN_INTERVAL", &c.Scan.Interval},
		{"REDIS_CLAIM_TTL", &c.Redis.ClaimTTL},
	}
	for _, e := range durations {
		if v, ok := lookup(e.key); ok && v != "" {
			if err := e.dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%w: invalid %s %q", models.ErrConfiguration, e.key, v)
			}
		}
	}

	if v, ok := lookup("RAPID_DUMP_PERCENT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid RAPID_DUMP_PERCENT %q", models.ErrConfiguration, v)
		}
		c.RiskParams.RapidDumpPercent = f
	}
	return nil
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var problems []string

	required := []struct {
		name  string
		value string
	}{
		{"AMQP_URL", c.Broker.URL},
		{"BACKEND_URL", c.Backend.URL},
		{"BACKEND_TOKEN", c.Backend.Token},
		{"SONAR_BE", c.Sonar.URL},
		{"SONAR_BE_TOKEN", c.Sonar.Token},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, r.name+" is required")
		}
	}

	if err := validatePublicKey(c.BaseMint); err != nil {
		problems = append(problems, "BASE_MINT "+err.Error())
	}
	if c.WalletPublicKey != "" {
		if err := validatePublicKey(c.WalletPublicKey); err != nil {
			problems = append(problems, "WALLET_PUBLIC_KEY "+err.Error())
		}
	}

	if c.Backend.MaxRetries <= 0 {
		problems = append(problems, "SYNC_MAX_RETRIES must be positive")
	}
	if c.Backend.RetryDelay < 0 {
		problems = append(problems, "SYNC_RETRY_DELAY must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "HTTP_TIMEOUT must be positive")
	}
	if c.Redis.ClaimTTL <= 0 {
		problems = append(problems, "REDIS_CLAIM_TTL must be positive")
	}
	if c.Scan.Interval < 0 {
		problems = append(problems, "SCAN_INTERVAL must not be negative")
	}
	if c.Scan.Concurrency <= 0 {
		problems = append(problems, "SCAN_CONCURRENCY must be positive")
	}
	if c.RiskParams.RapidDumpPercent > 0 {
		problems = append(problems, "RAPID_DUMP_PERCENT must not be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func validatePublicKey(key string) error {
	decoded, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("is not valid base58: %v", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("must decode to 32 bytes, got %d", len(decoded))
	}
	return nil
}
