package service

import (
	"os"
	"path/filepath"

	"trailbot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/spf13/viper"
)

// PartialExitLevel — ступень лесенки частичной фиксации.
// Проценты человеческие: 2.0 = 2% профита, 25.0 = закрыть 25% размера.
type PartialExitLevel struct {
	ProfitPercentage float64 `json:"profit_percentage" mapstructure:"profit_percentage"`
	ExitPercentage   float64 `json:"exit_percentage" mapstructure:"exit_percentage"`
}

// ProfitTrailLevel — ступень трейла по профиту: чем больше профит,
// тем плотнее трейлим.
type ProfitTrailLevel struct {
	ProfitThreshold float64 `json:"profit_threshold" mapstructure:"profit_threshold"`
	TrailPercentage float64 `json:"trail_percentage" mapstructure:"trail_percentage"`
}

// EngineConfig — JSON-конфиг трейлинг-движка. Все множители — ручные
// эвристики, их не перевыводим, только крутим в конфиге.
type EngineConfig struct {
	ActivationThreshold     float64            `json:"activation_threshold" mapstructure:"activation_threshold"`
	TrailPercentages        map[string]float64 `json:"trail_percentages" mapstructure:"trail_percentages"`
	MinProfitProtection     float64            `json:"min_profit_protection" mapstructure:"min_profit_protection"`
	VolatilityMeasureWindow int                `json:"volatility_measure_window" mapstructure:"volatility_measure_window"`
	ATRMultiplier           float64            `json:"atr_multiplier" mapstructure:"atr_multiplier"`
	PartialExitLevels       []PartialExitLevel `json:"partial_exit_levels" mapstructure:"partial_exit_levels"`
	ProfitBasedTrail        []ProfitTrailLevel `json:"profit_based_trail" mapstructure:"profit_based_trail"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ActivationThreshold: 0.5,
		TrailPercentages: map[string]float64{
			"default":        0.3,
			"trending":       0.2,
			"volatile":       0.5,
			"low_volatility": 0.15,
		},
		MinProfitProtection:     0.2,
		VolatilityMeasureWindow: 14,
		ATRMultiplier:           2.0,
		PartialExitLevels:       nil,
		ProfitBasedTrail:        nil,
	}
}

// LoadEngineConfig читает JSON-конфиг через viper. Отсутствующий или
// битый файл — не фатально: откатываемся на дефолты и записываем их
// на диск, чтобы было что править руками.
func LoadEngineConfig(path string) EngineConfig {
	def := DefaultEngineConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("engine config %s: %v, falling back to defaults", path, err)
		persistEngineConfig(path, def)
		return def
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		logger.Warn("engine config %s unmarshal: %v, falling back to defaults", path, err)
		persistEngineConfig(path, def)
		return def
	}

	if cfg.TrailPercentages == nil {
		cfg.TrailPercentages = def.TrailPercentages
	}
	if _, ok := cfg.TrailPercentages["default"]; !ok {
		cfg.TrailPercentages["default"] = def.TrailPercentages["default"]
	}
	if cfg.VolatilityMeasureWindow <= 0 {
		cfg.VolatilityMeasureWindow = def.VolatilityMeasureWindow
	}
	return cfg
}

func persistEngineConfig(path string, cfg EngineConfig) {
	data, err := sonic.MarshalIndent(cfg, "", "  ")
	if err != nil {
		logger.Error("engine config marshal: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Error("engine config mkdir: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Error("engine config write %s: %v", path, err)
	}
}

// TrailPercent — процент трейла для позиции: сначала лесенка по профиту
// (старшая ступень <= текущего профита), потом таблица по режиму.
func (c EngineConfig) TrailPercent(profitPct float64, regime string) float64 {
	var best *ProfitTrailLevel
	for i := range c.ProfitBasedTrail {
		lvl := &c.ProfitBasedTrail[i]
		if profitPct >= lvl.ProfitThreshold {
			if best == nil || lvl.ProfitThreshold > best.ProfitThreshold {
				best = lvl
			}
		}
	}
	if best != nil {
		return best.TrailPercentage
	}

	if pct, ok := c.TrailPercentages[regime]; ok {
		return pct
	}
	return c.TrailPercentages["default"]
}
