package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EnvHTTPAddr            = "HUB_BOTS_HTTP_ADDR"
	EnvLogLevel            = "HUB_BOTS_LOG_LEVEL"
	EnvLogFormat           = "HUB_BOTS_LOG_FORMAT"
	EnvAppsFile            = "HUB_BOTS_APPS_FILE"
	EnvWebhookURLs         = "HUB_BOTS_WEBHOOK_URLS"
	EnvMatrixHomeserverURL = "MATRIX_HOMESERVER_URL"
	EnvMatrixTypingTimeout = "MATRIX_TYPING_TIMEOUT"
	EnvHubAPIURL           = "HUB_API_URL"
	EnvHubAPIToken         = "HUB_API_TOKEN"
	EnvAIProvider          = "AI_PROVIDER"
	EnvAIBaseURL           = "AI_BASE_URL"
	EnvAIAPIKey            = "AI_API_KEY"
	EnvAIModel             = "AI_MODEL"
	EnvAIMaxTokens         = "AI_MAX_TOKENS"
	EnvAIMaxContextLength  = "AI_MAX_CONTEXT_LENGTH"
	EnvBotResponder        = "BOT_RESPONDER"
	EnvBotRelayURL         = "BOT_RELAY_URL"
	EnvStoreBackend        = "STORE_BACKEND"
	EnvDBDriver            = "DB_DRIVER"
	EnvDBDSN               = "DB_DSN"
	EnvRedisURL            = "REDIS_URL"
)

const (
	DefaultHTTPAddr            = ":8090"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMatrixTypingTimeout = 30 * time.Second
	DefaultAIProvider          = "ollama"
	DefaultAIMaxTokens         = 4096
	DefaultAIMaxContextLength  = 40
	DefaultBotResponder        = ResponderDirect
	DefaultStoreBackend        = StoreMemory
	DefaultDBDriver            = "sqlite"
	DefaultDBDSN               = "hub-bots.db"
)

const (
	ResponderDirect = "direct"
	ResponderRelay  = "relay"

	StoreMemory = "memory"
	StoreGorm   = "gorm"
	StoreRedis  = "redis"
)

type Config struct {
	HTTPAddr    string
	LogLevel    string
	LogFormat   string
	AppsFile    string
	WebhookURLs []string

	MatrixHomeserverURL string
	MatrixTypingTimeout time.Duration

	HubAPIURL   string
	HubAPIToken string

	AIProvider         string
	AIBaseURL          string
	AIAPIKey           string
	AIModel            string
	AIMaxTokens        int
	AIMaxContextLength int

	BotResponder string
	BotRelayURL  string

	StoreBackend string
	DBDriver     string
	DBDSN        string
	RedisURL     string
}

// Load resolves configuration from defaults, the optional YAML file and the
// environment, in that order of increasing precedence.
func Load() (Config, error) {
	cfg := defaults()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}
	if err := applyYAML(&cfg, fileCfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		HTTPAddr:            DefaultHTTPAddr,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		MatrixTypingTimeout: DefaultMatrixTypingTimeout,
		AIProvider:          DefaultAIProvider,
		AIMaxTokens:         DefaultAIMaxTokens,
		AIMaxContextLength:  DefaultAIMaxContextLength,
		BotResponder:        DefaultBotResponder,
		StoreBackend:        DefaultStoreBackend,
		DBDriver:            DefaultDBDriver,
		DBDSN:               DefaultDBDSN,
	}
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = EnvOrDefault(EnvHTTPAddr, cfg.HTTPAddr)
	cfg.LogLevel = strings.ToLower(EnvOrDefault(EnvLogLevel, cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(EnvOrDefault(EnvLogFormat, cfg.LogFormat))
	cfg.AppsFile = EnvOrDefault(EnvAppsFile, cfg.AppsFile)
	if raw := EnvString(EnvWebhookURLs); raw != "" {
		cfg.WebhookURLs = splitList(raw)
	}

	cfg.MatrixHomeserverURL = EnvOrDefault(EnvMatrixHomeserverURL, cfg.MatrixHomeserverURL)
	typingTimeout, err := parseOptionalDuration(EnvString(EnvMatrixTypingTimeout), cfg.MatrixTypingTimeout, EnvMatrixTypingTimeout)
	if err != nil {
		return err
	}
	cfg.MatrixTypingTimeout = typingTimeout

	cfg.HubAPIURL = EnvOrDefault(EnvHubAPIURL, cfg.HubAPIURL)
	cfg.HubAPIToken = EnvOrDefault(EnvHubAPIToken, cfg.HubAPIToken)

	cfg.AIProvider = strings.ToLower(EnvOrDefault(EnvAIProvider, cfg.AIProvider))
	cfg.AIBaseURL = EnvOrDefault(EnvAIBaseURL, cfg.AIBaseURL)
	cfg.AIAPIKey = EnvOrDefault(EnvAIAPIKey, cfg.AIAPIKey)
	cfg.AIModel = EnvOrDefault(EnvAIModel, cfg.AIModel)
	if cfg.AIMaxTokens, err = parseOptionalInt(EnvString(EnvAIMaxTokens), cfg.AIMaxTokens, EnvAIMaxTokens); err != nil {
		return err
	}
	if cfg.AIMaxContextLength, err = parseOptionalInt(EnvString(EnvAIMaxContextLength), cfg.AIMaxContextLength, EnvAIMaxContextLength); err != nil {
		return err
	}

	cfg.BotResponder = strings.ToLower(EnvOrDefault(EnvBotResponder, cfg.BotResponder))
	cfg.BotRelayURL = EnvOrDefault(EnvBotRelayURL, cfg.BotRelayURL)

	cfg.StoreBackend = strings.ToLower(EnvOrDefault(EnvStoreBackend, cfg.StoreBackend))
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = EnvOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.RedisURL = EnvOrDefault(EnvRedisURL, cfg.RedisURL)
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%s must be json or console", EnvLogFormat)
	}
	if err := validateURL(c.MatrixHomeserverURL, EnvMatrixHomeserverURL); err != nil {
		return err
	}
	if c.MatrixTypingTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvMatrixTypingTimeout)
	}
	if strings.TrimSpace(c.HubAPIURL) == "" && strings.TrimSpace(c.AppsFile) == "" {
		return fmt.Errorf("one of %s or %s is required", EnvHubAPIURL, EnvAppsFile)
	}
	if strings.TrimSpace(c.HubAPIURL) != "" {
		if err := validateURL(c.HubAPIURL, EnvHubAPIURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.AIProvider) == "" {
		return fmt.Errorf("%s must not be empty", EnvAIProvider)
	}
	if c.AIMaxTokens <= 0 {
		return fmt.Errorf("%s must be > 0", EnvAIMaxTokens)
	}
	if c.AIMaxContextLength < 2 || c.AIMaxContextLength%2 != 0 {
		return fmt.Errorf("%s must be an even number >= 2, got %d", EnvAIMaxContextLength, c.AIMaxContextLength)
	}

	switch c.BotResponder {
	case ResponderDirect:
	case ResponderRelay:
		if err := validateURL(c.BotRelayURL, EnvBotRelayURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s must be %s or %s", EnvBotResponder, ResponderDirect, ResponderRelay)
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreGorm:
		switch c.DBDriver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("%s must be sqlite or postgres", EnvDBDriver)
		}
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("%s must not be empty", EnvDBDSN)
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvRedisURL, EnvStoreBackend, StoreRedis)
		}
	default:
		return fmt.Errorf("%s must be %s, %s or %s", EnvStoreBackend, StoreMemory, StoreGorm, StoreRedis)
	}

	for _, raw := range c.WebhookURLs {
		if err := validateURL(raw, EnvWebhookURLs); err != nil {
			return err
		}
	}
	return nil
}

func validateURL(raw, field string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include scheme and host", field)
	}
	return nil
}
