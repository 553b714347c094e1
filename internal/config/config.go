package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config veribill（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr string
		// RequestTimeoutSeconds 单个请求的处理时限（含行锁等待）
		RequestTimeoutSeconds int
	}
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Pricing PricingConfig
	Notify  NotifyConfig
}

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// PricingConfig 计费规则配置
type PricingConfig struct {
	BillGenerationFee      float64 // 开票手续费
	VerificationMinFee     float64 // 单次校验最低费用
	VerificationMaxFee     float64 // 单次校验最高费用
	VerificationPercentage float64 // 按票面金额计费的比例（0.01 = 1%）
	PercentageDamping      float64 // 比例费的阻尼系数
	LoyaltyFreeEveryN      int     // 每 N 次校验赠送一次免费额度
}

// NotifyConfig 签发方 webhook 回调配置
type NotifyConfig struct {
	Enabled        bool
	TimeoutSeconds int
	RetryCount     int
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.RequestTimeoutSeconds = parseInt(getEnv("HTTP_REQUEST_TIMEOUT_SECONDS", "10"), 10)

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "veribill")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "25"), 25)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 计费配置（min/max 单位与票面金额一致）
	cfg.Pricing.BillGenerationFee = parseFloat(getEnv("BILL_GENERATION_FEE", "0.50"), 0.50)
	cfg.Pricing.VerificationMinFee = parseFloat(getEnv("VERIFICATION_MIN_FEE", "1.00"), 1.00)
	cfg.Pricing.VerificationMaxFee = parseFloat(getEnv("VERIFICATION_MAX_FEE", "10.00"), 10.00)
	cfg.Pricing.VerificationPercentage = parseFloat(getEnv("VERIFICATION_PERCENTAGE", "0.01"), 0.01)
	cfg.Pricing.PercentageDamping = parseFloat(getEnv("VERIFICATION_PERCENTAGE_DAMPING", "0.5"), 0.5)
	cfg.Pricing.LoyaltyFreeEveryN = parseInt(getEnv("LOYALTY_FREE_EVERY_N", "10"), 10)

	// webhook 回调（默认开启，失败只记日志）
	cfg.Notify.Enabled = getEnv("NOTIFY_ENABLED", "true") == "true"
	cfg.Notify.TimeoutSeconds = parseInt(getEnv("NOTIFY_TIMEOUT_SECONDS", "10"), 10)
	cfg.Notify.RetryCount = parseInt(getEnv("NOTIFY_RETRY_COUNT", "2"), 2)

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
