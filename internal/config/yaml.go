package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile         = "HUB_BOTS_CONFIG_FILE"
	defaultConfigFileName = "hub-bots.yaml"
)

type fileConfig struct {
	Version  int              `yaml:"version"`
	HTTPAddr string           `yaml:"http_addr"`
	Log      fileLogConfig    `yaml:"log"`
	AppsFile string           `yaml:"apps_file"`
	Webhooks []string         `yaml:"webhooks"`
	Matrix   fileMatrixConfig `yaml:"matrix"`
	Hub      fileHubConfig    `yaml:"hub"`
	AI       fileAIConfig     `yaml:"ai"`
	Bot      fileBotConfig    `yaml:"bot"`
	Store    fileStoreConfig  `yaml:"store"`
}

type fileLogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type fileMatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	TypingTimeout string `yaml:"typing_timeout"`
}

type fileHubConfig struct {
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`
}

type fileAIConfig struct {
	Provider         string `yaml:"provider"`
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	MaxTokens        int    `yaml:"max_tokens"`
	MaxContextLength int    `yaml:"max_context_length"`
}

type fileBotConfig struct {
	Responder string `yaml:"responder"`
	RelayURL  string `yaml:"relay_url"`
}

type fileStoreConfig struct {
	Backend  string `yaml:"backend"`
	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`
	RedisURL string `yaml:"redis_url"`
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := EnvString(EnvConfigFile); explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", explicit, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", explicit)
		}
		return explicit, true, nil
	}

	info, err := os.Stat(defaultConfigFileName)
	if err == nil {
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %s is a directory", defaultConfigFileName)
		}
		return defaultConfigFileName, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("stat config file %s: %w", defaultConfigFileName, err)
	}
	return "", false, nil
}

func applyYAML(cfg *Config, source fileConfig) error {
	setString(&cfg.HTTPAddr, source.HTTPAddr)
	setLower(&cfg.LogLevel, source.Log.Level)
	setLower(&cfg.LogFormat, source.Log.Format)
	setString(&cfg.AppsFile, source.AppsFile)
	if len(source.Webhooks) > 0 {
		cfg.WebhookURLs = splitList(strings.Join(source.Webhooks, ","))
	}

	setString(&cfg.MatrixHomeserverURL, source.Matrix.HomeserverURL)
	typingTimeout, err := parseOptionalDuration(source.Matrix.TypingTimeout, cfg.MatrixTypingTimeout, "matrix.typing_timeout")
	if err != nil {
		return err
	}
	cfg.MatrixTypingTimeout = typingTimeout

	setString(&cfg.HubAPIURL, source.Hub.APIURL)
	setString(&cfg.HubAPIToken, source.Hub.APIToken)

	setLower(&cfg.AIProvider, source.AI.Provider)
	setString(&cfg.AIBaseURL, source.AI.BaseURL)
	setString(&cfg.AIAPIKey, source.AI.APIKey)
	setString(&cfg.AIModel, source.AI.Model)
	if source.AI.MaxTokens != 0 {
		cfg.AIMaxTokens = source.AI.MaxTokens
	}
	if source.AI.MaxContextLength != 0 {
		cfg.AIMaxContextLength = source.AI.MaxContextLength
	}

	setLower(&cfg.BotResponder, source.Bot.Responder)
	setString(&cfg.BotRelayURL, source.Bot.RelayURL)

	setLower(&cfg.StoreBackend, source.Store.Backend)
	setLower(&cfg.DBDriver, source.Store.DBDriver)
	setString(&cfg.DBDSN, source.Store.DBDSN)
	setString(&cfg.RedisURL, source.Store.RedisURL)
	return nil
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func setLower(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = strings.ToLower(trimmed)
	}
}
