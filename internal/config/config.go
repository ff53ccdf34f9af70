package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Widget  WidgetConfig
	Embed   EmbedConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	gateway, err := loadGatewayConfig()
	if err != nil {
		return nil, err
	}

	widget, err := loadWidgetConfig()
	if err != nil {
		return nil, err
	}

	embed, err := loadEmbedConfig(gateway.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Gateway: gateway,
		Widget:  widget,
		Embed:   embed,
		Log:     loadLogConfig(),
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
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// GatewayConfig 描述聊天机器人后端 REST 接口的访问配置。
type GatewayConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	ConfigCacheSize   int
	ConfigCacheTTL    time.Duration
}

func loadGatewayConfig() (GatewayConfig, error) {
	baseURL := strings.TrimRight(getEnvOrDefault("CHATBOT_API_BASE_URL", "http://localhost:5000/api"), "/")
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return GatewayConfig{}, fmt.Errorf("invalid CHATBOT_API_BASE_URL value: %q", baseURL)
	}

	timeout, err := parseOptionalIntEnv("CHATBOT_API_TIMEOUT")
	if err != nil {
		return GatewayConfig{}, err
	}
	timeoutSeconds := 15
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	rps := 5.0
	if override, err := parseOptionalFloatEnv("CHATBOT_API_RATE_LIMIT"); err != nil {
		return GatewayConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return GatewayConfig{}, fmt.Errorf("invalid CHATBOT_API_RATE_LIMIT value: %v", *override)
		}
		rps = *override
	}

	burst, err := parseIntEnvOrDefault("CHATBOT_API_BURST", 10)
	if err != nil {
		return GatewayConfig{}, err
	}

	cacheSize, err := parseIntEnvOrDefault("CHATBOT_CONFIG_CACHE_SIZE", 128)
	if err != nil {
		return GatewayConfig{}, err
	}

	cacheTTL, err := parseIntEnvOrDefault("CHATBOT_CONFIG_CACHE_TTL", 300)
	if err != nil {
		return GatewayConfig{}, err
	}

	return GatewayConfig{
		BaseURL:           baseURL,
		Timeout:           time.Duration(timeoutSeconds) * time.Second,
		RequestsPerSecond: rps,
		Burst:             burst,
		ConfigCacheSize:   cacheSize,
		ConfigCacheTTL:    time.Duration(cacheTTL) * time.Second,
	}, nil
}

// ImmediateReplies 表示不模拟输入延迟，机器人回复立即出现。
const ImmediateReplies time.Duration = -1

// WidgetConfig 描述小组件运行时行为。
type WidgetConfig struct {
	// TypingDelay 为 0 时使用默认延迟；WIDGET_TYPING_DELAY_MS=0 映射为 ImmediateReplies。
	TypingDelay time.Duration
	// HoldSendLock 为 true 时，发送锁一直持有到机器人消息出现为止。
	HoldSendLock bool
}

func loadWidgetConfig() (WidgetConfig, error) {
	delayMs, err := parseIntEnvOrDefault("WIDGET_TYPING_DELAY_MS", 1000)
	if err != nil {
		return WidgetConfig{}, err
	}
	if delayMs < 0 {
		return WidgetConfig{}, fmt.Errorf("invalid WIDGET_TYPING_DELAY_MS value: %d", delayMs)
	}

	hold, err := parseBoolEnv("WIDGET_HOLD_SEND_LOCK", true)
	if err != nil {
		return WidgetConfig{}, err
	}

	delay := time.Duration(delayMs) * time.Millisecond
	if delayMs == 0 {
		delay = ImmediateReplies
	}

	return WidgetConfig{
		TypingDelay:  delay,
		HoldSendLock: hold,
	}, nil
}

// EmbedConfig 描述嵌入代码生成所用的静态资源地址。
type EmbedConfig struct {
	AssetBaseURL string
}

func loadEmbedConfig(apiBaseURL string) (EmbedConfig, error) {
	base := strings.TrimRight(getEnvOrDefault("EMBED_ASSET_BASE_URL", strings.TrimSuffix(apiBaseURL, "/api")), "/")
	if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return EmbedConfig{}, fmt.Errorf("invalid EMBED_ASSET_BASE_URL value: %q", base)
	}
	return EmbedConfig{AssetBaseURL: base}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "")),
	}
}

func parseIntEnvOrDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
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
