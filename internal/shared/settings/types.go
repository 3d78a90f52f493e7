package settings

// ConfigurableModule 是所有希望其配置能被在线管理的模块必须实现的接口。
// 当相关配置发生变更时, SettingsManager 会调用 OnSettingsUpdate。
type ConfigurableModule interface {
	// moduleKey: 哪个模块的配置发生了变化 (e.g., "rotator", "humanizer")。
	// newSettings: 对应模块已经解析好的新配置结构体指针 (e.g., *RotatorSettings)。
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

const (
	ModuleRotator   = "rotator"
	ModuleHumanizer = "humanizer"
)

// RuntimeSettings 是 settings.json 文件的顶层结构。
// 使用指针类型, JSON 中缺少某个模块时对应字段为 nil。
type RuntimeSettings struct {
	Rotator   *RotatorSettings   `json:"rotator"`
	Humanizer *HumanizerSettings `json:"humanizer"`
}

// RotatorSettings 对应 settings.json 中的 "rotator" 模块。
type RotatorSettings struct {
	Strategy        string `json:"strategy"`          // "round_robin", "least_used", "best"
	StickyTTL       int    `json:"sticky_ttl"`        // in seconds, 0 disables sticky sessions
	MaxFailures     int    `json:"max_failures"`      // evict a proxy after this many consecutive failures
	EscalateAfter   int    `json:"escalate_after"`    // consecutive failures per caution level
	DecayAfter      int    `json:"decay_after"`       // consecutive successes per caution decrease
	MaxCaution      int    `json:"max_caution"`
	SwitchModeAfter int    `json:"switch_mode_after"` // consecutive failures before residential -> mobile
	RevertAfter     int    `json:"revert_after"`      // successes before returning to the primary mode
}

// HumanizerSettings 对应 settings.json 中的 "humanizer" 模块。
type HumanizerSettings struct {
	MinDelayMs    int     `json:"min_delay_ms"`
	MaxDelayMs    int     `json:"max_delay_ms"`
	CautionStep   float64 `json:"caution_step"`
	MaxScale      float64 `json:"max_scale"`
	RatePerMinute float64 `json:"rate_per_minute"`
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Rotator: &RotatorSettings{
			Strategy:        "best",
			StickyTTL:       600,
			MaxFailures:     5,
			EscalateAfter:   2,
			DecayAfter:      3,
			MaxCaution:      5,
			SwitchModeAfter: 6,
			RevertAfter:     10,
		},
		Humanizer: &HumanizerSettings{
			MinDelayMs:    1500,
			MaxDelayMs:    4000,
			CautionStep:   0.5,
			MaxScale:      4,
			RatePerMinute: 20,
		},
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	defaults := createDefaultSettings()
	if s.Rotator == nil {
		s.Rotator = defaults.Rotator
	}
	if s.Humanizer == nil {
		s.Humanizer = defaults.Humanizer
	}
}
