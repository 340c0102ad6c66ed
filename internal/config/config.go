package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Vault    VaultConfig
	Chain    ChainConfig
	AI       AIConfig
	Bot      BotConfig
	Admin    AdminConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	vault, err := loadVaultConfig()
	if err != nil {
		return nil, err
	}

	chain, err := loadChainConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	bot, err := loadBotConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Redis:    redis,
		Telegram: telegram,
		Vault:    vault,
		Chain:    chain,
		AI:       ai,
		Bot:      bot,
		Admin:    LoadAdmin(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RedisConfig 描述会话存储的 Redis 连接。
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

func loadRedisConfig() (RedisConfig, error) {
	port := getEnvOrDefault("REDIS_PORT", "13744")
	if _, err := strconv.Atoi(port); err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT value %q: %w", port, err)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return RedisConfig{}, err
	} else if override != nil {
		db = *override
	}

	return RedisConfig{
		Addr:     net.JoinHostPort(getEnvOrDefault("REDIS_HOST", "localhost"), port),
		Username: strings.TrimSpace(os.Getenv("REDIS_USERNAME")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

// TelegramConfig 描述 Bot API 接入。
type TelegramConfig struct {
	Token string
	Debug bool
}

func loadTelegramConfig() (TelegramConfig, error) {
	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		return TelegramConfig{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	debug, err := parseBoolEnv("TELEGRAM_DEBUG", false)
	if err != nil {
		return TelegramConfig{}, err
	}
	return TelegramConfig{Token: token, Debug: debug}, nil
}

// VaultConfig 描述托管私钥的 Nillion 存储接口。
type VaultConfig struct {
	BaseURL  string
	UserSeed string
	Timeout  time.Duration
}

// LoadVault 只加载 Vault 配置，供命令行工具使用。
func LoadVault() (VaultConfig, error) {
	return loadVaultConfig()
}

func loadVaultConfig() (VaultConfig, error) {
	seed := strings.TrimSpace(os.Getenv("NILLION_USER_ID"))
	if seed == "" {
		return VaultConfig{}, errors.New("NILLION_USER_ID is required")
	}

	timeoutSeconds := 30
	if timeout, err := parseOptionalIntEnv("VAULT_TIMEOUT"); err != nil {
		return VaultConfig{}, err
	} else if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	return VaultConfig{
		BaseURL:  strings.TrimRight(getEnvOrDefault("NILLION_API_BASE_URL", "https://nillion-storage-apis-v0.onrender.com"), "/"),
		UserSeed: seed,
		Timeout:  time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// ChainConfig 描述链上注资与 Basename 注册。
type ChainConfig struct {
	RPCURL          string
	FundingKey      string
	EnableFunding   bool
	EnableBasenames bool
}

// Enabled 表示是否需要连接链节点。
func (c ChainConfig) Enabled() bool {
	return c.EnableFunding || c.EnableBasenames
}

func loadChainConfig() (ChainConfig, error) {
	funding, err := parseBoolEnv("ENABLE_FUNDING", false)
	if err != nil {
		return ChainConfig{}, err
	}

	basenames, err := parseBoolEnv("ENABLE_BASENAME_REGISTRATION", false)
	if err != nil {
		return ChainConfig{}, err
	}

	cfg := ChainConfig{
		RPCURL:          getEnvOrDefault("BASE_RPC_URL", "https://sepolia.base.org"),
		FundingKey:      strings.TrimSpace(os.Getenv("FUNDING_PRIVATE_KEY")),
		EnableFunding:   funding,
		EnableBasenames: basenames,
	}
	if cfg.Enabled() && cfg.FundingKey == "" {
		return ChainConfig{}, errors.New("FUNDING_PRIVATE_KEY is required when funding or basename registration is enabled")
	}
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// BotConfig 描述消息处理的限额。
type BotConfig struct {
	HistoryCapacity int
	HistoryLimit    int
	RateLimitRPS    float64
	RateLimitBurst  int
}

func loadBotConfig() (BotConfig, error) {
	cfg := BotConfig{
		HistoryCapacity: 1000,
		HistoryLimit:    200,
		RateLimitRPS:    1,
		RateLimitBurst:  5,
	}

	if v, err := parseOptionalIntEnv("BOT_HISTORY_CAPACITY"); err != nil {
		return BotConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.HistoryCapacity = *v
	}

	if v, err := parseOptionalIntEnv("BOT_HISTORY_LIMIT"); err != nil {
		return BotConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.HistoryLimit = *v
	}

	// 0 或负数表示关闭限流。
	if v, err := parseOptionalFloatEnv("BOT_RATE_LIMIT_RPS"); err != nil {
		return BotConfig{}, err
	} else if v != nil {
		cfg.RateLimitRPS = *v
	}

	if v, err := parseOptionalIntEnv("BOT_RATE_LIMIT_BURST"); err != nil {
		return BotConfig{}, err
	} else if v != nil {
		cfg.RateLimitBurst = *v
	}

	return cfg, nil
}

// AdminConfig 描述运维接口的鉴权。
type AdminConfig struct {
	JWTSecret string
}

// LoadAdmin 读取运维接口的签名密钥。
func LoadAdmin() AdminConfig {
	return AdminConfig{JWTSecret: strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET"))}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
