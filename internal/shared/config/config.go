package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/ini.v1"

	"skiptracer/internal/shared/types"
)

// AppName 用于 XDG 数据目录下的子目录名。
const AppName = "skiptracer"

var (
	ErrUnknownFetcher  = errors.New("unknown fetcher")
	ErrUnknownMode     = errors.New("unknown proxy mode")
	ErrUnknownStrategy = errors.New("unknown proxy strategy")
	ErrDecodoAuth      = errors.New("decodo fetcher requires username and password")
	ErrBadDelay        = errors.New("humanize min_delay_ms must not exceed max_delay_ms")
	ErrBadAttempts     = errors.New("retry attempts must be at least 1")
)

// DataDir 返回默认数据目录 ($XDG_DATA_HOME/skiptracer)。
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Default 返回一份包含全部默认值的配置。
func Default() *types.Config {
	dir := DataDir()
	return &types.Config{
		CommonConf: types.CommonConf{
			Fetcher:     "http",
			Sites:       "truepeoplesearch,fastpeoplesearch",
			DebugDir:    "logs",
			Concurrency: 2,
		},
		FetchConf: types.FetchConf{
			TimeoutSec:       15,
			MaxBodyBytes:     4 << 20,
			ChallengeMarkers: "px-captcha,press & hold,cf-challenge,challenge-platform,checking your browser,access denied",
			BrowserHeadless:  true,
		},
		DecodoConf: types.DecodoConf{
			Endpoint: "https://scraper-api.decodo.com/v2/scrape",
		},
		ProxyConf: types.ProxyConf{
			FileKind:            "residential",
			StateFile:           filepath.Join(dir, "proxies.txt"),
			GatewaySessions:     10,
			Mode:                "residential",
			Strategy:            "best",
			AllowDirect:         true,
			FallbackAcrossModes: true,
			StickyTTLSec:        600,
			MaxFailures:         5,
			EscalateAfter:       2,
			DecayAfter:          3,
			MaxCaution:          5,
			SwitchModeAfter:     6,
			RevertAfter:         10,
			ValidateURL:         "https://www.google.com/generate_204",
			ValidateConcurrency: 20,
			ValidateTimeoutSec:  10,
			RecheckIntervalSec:  60,
		},
		RetryConf: types.RetryConf{
			Attempts:      3,
			Parallel:      1,
			BaseBackoffMs: 1000,
			MaxBackoffMs:  20000,
		},
		HumanizeConf: types.HumanizeConf{
			MinDelayMs:    1500,
			MaxDelayMs:    4000,
			CautionStep:   0.5,
			MaxScale:      4,
			RatePerMinute: 20,
		},
		StoreConf: types.StoreConf{
			Path:        filepath.Join(dir, "skiptracer.db"),
			CacheTTLMin: 24 * 60,
		},
		WebConf: types.WebConf{
			Port:         8088,
			User:         "admin",
			SettingsFile: filepath.Join(dir, "settings.json"),
		},
		LogConf: types.LogConf{Level: "info"},
	}
}

// LoadIni 从 ini 文件加载配置, 文件不存在时使用默认值。
// 环境变量中的密钥总是覆盖文件中的值。
func LoadIni(fileName string) (*types.Config, error) {
	cfg := Default()
	if fileName != "" {
		iniFile, err := ini.Load(fileName)
		switch {
		case err == nil:
			if err := iniFile.MapTo(cfg); err != nil {
				return nil, fmt.Errorf("failed to map %s: %w", fileName, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to load %s: %w", fileName, err)
		}
	}
	overrideFromEnv(&cfg.DecodoConf.Username, "DECODO_USERNAME")
	overrideFromEnv(&cfg.DecodoConf.Password, "DECODO_PASSWORD")
	overrideFromEnv(&cfg.WebConf.Password, "SKIPTRACER_WEB_PASSWORD")
	overrideFromEnvInt(&cfg.WebConf.Port, "SKIPTRACER_WEB_PORT")
	return cfg, nil
}

// Validate 检查配置中相互依赖的字段。
func Validate(cfg *types.Config) error {
	switch cfg.Fetcher {
	case "http", "browser":
	case "decodo":
		if cfg.DecodoConf.Username == "" || cfg.DecodoConf.Password == "" {
			return ErrDecodoAuth
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFetcher, cfg.Fetcher)
	}
	switch cfg.ProxyConf.Mode {
	case "residential", "mobile":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, cfg.ProxyConf.Mode)
	}
	switch cfg.ProxyConf.Strategy {
	case "round_robin", "least_used", "best":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.ProxyConf.Strategy)
	}
	if cfg.HumanizeConf.MinDelayMs > cfg.HumanizeConf.MaxDelayMs {
		return ErrBadDelay
	}
	if cfg.RetryConf.Attempts < 1 {
		return ErrBadAttempts
	}
	return nil
}

// SiteList 拆分逗号分隔的站点列表。
func SiteList(cfg *types.Config) []string {
	return splitList(cfg.Sites)
}

// ChallengeMarkers 拆分逗号分隔的挑战页标记。
func ChallengeMarkers(cfg *types.Config) []string {
	return splitList(cfg.FetchConf.ChallengeMarkers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func overrideFromEnv(target *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
