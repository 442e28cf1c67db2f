package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config — сервисный конфиг (не путать с JSON-конфигом трейлинг-движка,
// тот живёт в internal/modules/trailing).
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB string `yaml:"db_dsn"`

	Service struct {
		Host       string `yaml:"host"`
		HealthAddr string `yaml:"health_addr"`
	} `yaml:"service"`

	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	OKX struct {
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"okx"`

	// Что стримим и анализируем.
	Watchlist []string `yaml:"watchlist"`
	Timeframe string   `yaml:"timeframe"`

	// Пути движка: JSON-конфиг и каталог архива закрытых позиций.
	EngineConfigPath string `yaml:"engine_config_path"`
	ArchiveDir       string `yaml:"archive_dir"`

	// Анализ боковика / дивергенций. Пороговые значения — эвристики,
	// подобраны руками, не перевыводить.
	SidewaysWindow     int     `yaml:"sideways_window"`      // 10
	BBWidthThreshold   float64 `yaml:"bb_width_threshold"`   // 0.04
	ATRRatioThreshold  float64 `yaml:"atr_ratio_threshold"`  // 0.015
	ADXThreshold       float64 `yaml:"adx_threshold"`        // 25
	DivergenceWindow   int     `yaml:"divergence_window"`    // 30
	MinPivotDistance   int     `yaml:"min_pivot_distance"`   // 5
	DivergenceMinConf  float64 `yaml:"divergence_min_conf"`  // 0.5
	RegimeRefreshEvery time.Duration `yaml:"regime_refresh_every"` // 1h
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}

	config := Config{
		Timeframe:        getenvDefault("TIMEFRAME", "1m"),
		EngineConfigPath: getenvDefault("ENGINE_CONFIG", "configs/trailing_stop_config.json"),
		ArchiveDir:       getenvDefault("ARCHIVE_DIR", "data/closed_positions"),

		SidewaysWindow:     intFromEnv("SIDEWAYS_WINDOW", 10),
		BBWidthThreshold:   floatFromEnv("BB_WIDTH_THRESHOLD", 0.04),
		ATRRatioThreshold:  floatFromEnv("ATR_RATIO_THRESHOLD", 0.015),
		ADXThreshold:       floatFromEnv("ADX_THRESHOLD", 25),
		DivergenceWindow:   intFromEnv("DIVERGENCE_WINDOW", 30),
		MinPivotDistance:   intFromEnv("MIN_PIVOT_DISTANCE", 5),
		DivergenceMinConf:  floatFromEnv("DIVERGENCE_MIN_CONF", 0.5),
		RegimeRefreshEvery: durationFromEnv("REGIME_REFRESH_EVERY", "1h"),
	}
	config.Service.HealthAddr = getenvDefault("HEALTH_ADDR", ":8080")

	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		// без файла живём на дефолтах и env — для бэктестов этого достаточно
		applyEnvOverrides(&config)
		return &config, nil
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	applyEnvOverrides(&config)
	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}
	if wl := os.Getenv("WATCHLIST"); wl != "" {
		config.Watchlist = config.Watchlist[:0]
		for _, s := range strings.Split(wl, ",") {
			if s = strings.TrimSpace(s); s != "" {
				config.Watchlist = append(config.Watchlist, s)
			}
		}
	}
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
