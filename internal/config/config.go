package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"safesleep-telemetry/common/config"
	"safesleep-telemetry/common/errs"
)

// Config 遥测管理服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 主题配置
	Topics struct {
		Root  string // 主题根，如 "safesleep/"
		Alarm string // 报警主题，默认 Root + "alarm"
	}

	// 阈值监控配置
	Monitor struct {
		Interval       time.Duration
		SensitivityMax float64
		ElectricityMax float64
	}

	// 对账循环配置
	Reconcile struct {
		Interval time.Duration
		// MarkActuated 非报警分支下发 "actuated" 后是否也置为 done（默认 false，保持原有行为）
		MarkActuated bool
	}

	// 振动频谱检测配置
	Spectral struct {
		SampleRate          float64
		PercentThreshold    float64
		MaxEuclidean        float64
		MaxDeviationPercent float64
		Baseline            []float64
	}

	// 连接重试
	Startup struct {
		ConnectAttempts int
		ConnectBackoff  time.Duration
	}

	Streams struct {
		Enabled  bool
		Readings string
		Alarms   string
		MaxLen   int64
	}

	Notify struct {
		WebhookURL string
		Timeout    time.Duration
	}

	Metrics struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "safesleep"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "safesleep-manager"
	cfg.MQTT.QoS = 1
	cfg.MQTT.KeepAlive = 30 * time.Second
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	var err, e error
	fail := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	cfg.Topics.Root = getEnv("MQTT_TOPIC_ROOT", "safesleep/")
	if !strings.HasSuffix(cfg.Topics.Root, "/") {
		cfg.Topics.Root += "/"
	}
	cfg.Topics.Alarm = getEnv("MQTT_TOPIC_ALARM", cfg.Topics.Root+"alarm")

	cfg.Monitor.Interval, e = getEnvDuration("MONITOR_INTERVAL", 5*time.Second)
	fail(e)
	cfg.Monitor.SensitivityMax, e = getEnvFloat("SENSITIVITY_MAX", 0.025)
	fail(e)
	cfg.Monitor.ElectricityMax, e = getEnvFloat("ELECTRICITY_MAX", 1.8)
	fail(e)

	cfg.Reconcile.Interval, e = getEnvDuration("RECONCILE_INTERVAL", 3*time.Second)
	fail(e)
	cfg.Reconcile.MarkActuated, e = getEnvBool("RECONCILE_MARK_ACTUATED", false)
	fail(e)

	cfg.Spectral.SampleRate, e = getEnvFloat("SPECTRAL_SAMPLE_RATE", 2048)
	fail(e)
	cfg.Spectral.PercentThreshold, e = getEnvFloat("SPECTRAL_PERCENT_THRESHOLD", 0.05)
	fail(e)
	cfg.Spectral.MaxEuclidean, e = getEnvFloat("SPECTRAL_MAX_EUCLIDEAN", 0.5)
	fail(e)
	cfg.Spectral.MaxDeviationPercent, e = getEnvFloat("SPECTRAL_MAX_DEVIATION_PERCENT", 10)
	fail(e)
	cfg.Spectral.Baseline, e = getEnvFloatList("SPECTRAL_BASELINE", nil)
	fail(e)

	cfg.Startup.ConnectAttempts, e = getEnvInt("MQTT_CONNECT_ATTEMPTS", 5)
	fail(e)
	cfg.Startup.ConnectBackoff, e = getEnvDuration("MQTT_CONNECT_BACKOFF", 2*time.Second)
	fail(e)

	cfg.Streams.Enabled, e = getEnvBool("STREAMS_ENABLED", false)
	fail(e)
	cfg.Streams.Readings = getEnv("STREAM_READINGS", "safesleep:readings:stream")
	cfg.Streams.Alarms = getEnv("STREAM_ALARMS", "safesleep:alarms:stream")
	cfg.Streams.MaxLen = 10000

	cfg.Notify.WebhookURL = getEnv("ALARM_WEBHOOK_URL", "")
	cfg.Notify.Timeout, e = getEnvDuration("ALARM_WEBHOOK_TIMEOUT", 5*time.Second)
	fail(e)

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err != nil {
		return nil, errs.Wrap(errs.ClassConfig, "Load", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var problems []string

	if c.MQTT.Broker == "" {
		problems = append(problems, "MQTT broker is required")
	}
	if c.MQTT.QoS > 2 {
		problems = append(problems, "MQTT QoS must be 0, 1 or 2")
	}
	if c.Monitor.Interval <= 0 {
		problems = append(problems, "MONITOR_INTERVAL must be positive")
	}
	if c.Reconcile.Interval <= 0 {
		problems = append(problems, "RECONCILE_INTERVAL must be positive")
	}
	if c.Monitor.SensitivityMax <= 0 {
		problems = append(problems, "SENSITIVITY_MAX must be positive")
	}
	if c.Monitor.ElectricityMax <= 0 {
		problems = append(problems, "ELECTRICITY_MAX must be positive")
	}
	if c.Spectral.SampleRate <= 0 {
		problems = append(problems, "SPECTRAL_SAMPLE_RATE must be positive")
	}
	if c.Spectral.PercentThreshold <= 0 || c.Spectral.PercentThreshold >= 1 {
		problems = append(problems, "SPECTRAL_PERCENT_THRESHOLD must be in (0,1)")
	}
	if c.Spectral.MaxEuclidean <= 0 || c.Spectral.MaxDeviationPercent <= 0 {
		problems = append(problems, "SPECTRAL_MAX_EUCLIDEAN and SPECTRAL_MAX_DEVIATION_PERCENT must be positive")
	}
	if c.Startup.ConnectAttempts < 1 {
		problems = append(problems, "MQTT_CONNECT_ATTEMPTS must be at least 1")
	}

	if len(problems) > 0 {
		return errs.New(errs.ClassConfig, "Validate", "%s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, value)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	// 纯数字按秒处理，兼容旧配置
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

// getEnvFloatList 解析逗号分隔的数值列表，如 "1.2,0.8,3.4"
func getEnvFloatList(key string, defaultValue []float64) ([]float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return ParseFloatList(value)
}

// ParseFloatList 解析逗号分隔的数值列表
func ParseFloatList(value string) ([]float64, error) {
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q in list", p)
		}
		out = append(out, f)
	}
	return out, nil
}
