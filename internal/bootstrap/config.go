package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser          string
	DBPassword      string
	DBHost          string
	DBPort          string
	DBName          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string // Redis Key 前缀
	JWTSecret       string
	TicketExpiry    int // 小时
	ServerPort      string
	LogLevel        string
	AppEnv          string // development / production
	CORSOrigin      string
	RateLimitMax    int
	RateLimitWindow time.Duration

	// 画布与房间
	CanvasWidth       int
	CanvasHeight      int
	CanvasBackground  string
	MaxParticipants   int
	MaxHistory        int
	MaxDocumentBytes  int
	EmptyRoomTTL      time.Duration
	JoinAttemptLimit  int
	JoinAttemptWindow time.Duration

	AuditRetentionDays int
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:           os.Getenv("DB_USER"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		DBHost:           os.Getenv("DB_HOST"),
		DBPort:           os.Getenv("DB_PORT"),
		DBName:           os.Getenv("DB_NAME"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:        os.Getenv("REDIS_KEY_PREFIX"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ServerPort:       os.Getenv("SERVER_PORT"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		AppEnv:           os.Getenv("APP_ENV"),
		CORSOrigin:       os.Getenv("CORS_ALLOWED_ORIGIN"),
		CanvasBackground: os.Getenv("CANVAS_BACKGROUND"),
	}

	var err error
	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"REDIS_DB", &cfg.RedisDB, 0},
		{"TICKET_EXPIRY_HOURS", &cfg.TicketExpiry, 24},
		{"RATE_LIMIT_MAX", &cfg.RateLimitMax, 100},
		{"CANVAS_WIDTH", &cfg.CanvasWidth, 1200},
		{"CANVAS_HEIGHT", &cfg.CanvasHeight, 800},
		{"MAX_PARTICIPANTS", &cfg.MaxParticipants, 16},
		{"MAX_HISTORY", &cfg.MaxHistory, 100},
		{"MAX_DOCUMENT_BYTES", &cfg.MaxDocumentBytes, 16 << 20},
		{"JOIN_ATTEMPT_LIMIT", &cfg.JoinAttemptLimit, 10},
		{"AUDIT_RETENTION_DAYS", &cfg.AuditRetentionDays, 30},
	}
	for _, v := range ints {
		if *v.dst, err = envInt(v.key, v.def); err != nil {
			return nil, err
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"RATE_LIMIT_WINDOW", &cfg.RateLimitWindow, time.Second},
		{"EMPTY_ROOM_TTL", &cfg.EmptyRoomTTL, 5 * time.Minute},
		{"JOIN_ATTEMPT_WINDOW", &cfg.JoinAttemptWindow, time.Minute},
	}
	for _, v := range durations {
		if *v.dst, err = envDuration(v.key, v.def); err != nil {
			return nil, err
		}
	}

	// --- 设置其他默认值和进行必要检查 ---
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "wb:"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "http://localhost:3000" // 开发默认
	}
	if cfg.CanvasBackground == "" {
		cfg.CanvasBackground = "#ffffff"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return nil, fmt.Errorf("CANVAS_WIDTH and CANVAS_HEIGHT must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return v, nil
}

// envDuration 接受 time.ParseDuration 格式，纯数字按秒处理
func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
	}
	return d, nil
}
