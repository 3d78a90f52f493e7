package types

// CommonConf 包含通用的运行配置
type CommonConf struct {
	Fetcher      string `ini:"fetcher"`       // http, browser, decodo
	Sites        string `ini:"sites"`         // 逗号分隔的站点顺序, e.g. "truepeoplesearch,fastpeoplesearch"
	ProfilesFile string `ini:"profiles_file"` // 可选的 YAML 站点配置
	Debug        bool   `ini:"debug"`     // 无结果时保存最后一个页面
	DebugDir     string `ini:"debug_dir"`
	Concurrency  int    `ini:"concurrency"` // batch 并发
}

// FetchConf 控制单次请求的行为
type FetchConf struct {
	TimeoutSec       int    `ini:"timeout_sec"`
	MaxBodyBytes     int64  `ini:"max_body_bytes"`
	ChallengeMarkers string `ini:"challenge_markers"` // 逗号分隔
	BrowserBin       string `ini:"browser_bin"`
	BrowserHeadless  bool   `ini:"browser_headless"`
}

// DecodoConf 是第三方抓取 API 的凭据
type DecodoConf struct {
	Endpoint string `ini:"endpoint"`
	Username string `ini:"username"`
	Password string `ini:"password"`
}

// ProxyConf 描述代理池的来源与轮换阈值
type ProxyConf struct {
	File                string `ini:"file"`       // 导入文件, 每行一个代理
	FileKind            string `ini:"file_kind"`  // residential / mobile
	StateFile           string `ini:"state_file"` // 持久化的代理池状态
	ResidentialGateway  string `ini:"residential_gateway"`
	MobileGateway       string `ini:"mobile_gateway"`
	GatewaySessions     int    `ini:"gateway_sessions"`
	FreeListURL         string `ini:"free_list_url"`
	Mode                string `ini:"mode"`
	Strategy            string `ini:"strategy"`
	AllowDirect         bool   `ini:"allow_direct"`
	FallbackAcrossModes bool   `ini:"fallback_across_modes"`
	StickyTTLSec        int    `ini:"sticky_ttl_sec"`
	MaxFailures         int    `ini:"max_failures"`
	EscalateAfter       int    `ini:"escalate_after"`
	DecayAfter          int    `ini:"decay_after"`
	MaxCaution          int    `ini:"max_caution"`
	SwitchModeAfter     int    `ini:"switch_mode_after"`
	RevertAfter         int    `ini:"revert_after"`
	ValidateURL         string `ini:"validate_url"`
	ValidateConcurrency int    `ini:"validate_concurrency"`
	ValidateTimeoutSec  int    `ini:"validate_timeout_sec"`
	RecheckIntervalSec  int    `ini:"recheck_interval_sec"`
}

// RetryConf 是失败自适应重试控制器的参数
type RetryConf struct {
	Attempts      int `ini:"attempts"`
	Parallel      int `ini:"parallel"`
	BaseBackoffMs int `ini:"base_backoff_ms"`
	MaxBackoffMs  int `ini:"max_backoff_ms"`
}

// HumanizeConf 控制请求之间的人性化延迟
type HumanizeConf struct {
	MinDelayMs    int     `ini:"min_delay_ms"`
	MaxDelayMs    int     `ini:"max_delay_ms"`
	CautionStep   float64 `ini:"caution_step"`
	MaxScale      float64 `ini:"max_scale"`
	RatePerMinute float64 `ini:"rate_per_minute"`
}

// StoreConf 描述结果数据库
type StoreConf struct {
	Path        string `ini:"path"`
	CacheTTLMin int    `ini:"cache_ttl_min"`
}

// WebConf 包含 Web 管理接口的配置
type WebConf struct {
	Port         int    `ini:"port"`
	User         string `ini:"user"`
	Password     string `ini:"password"`
	SettingsFile string `ini:"settings_file"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是 skiptracer 的统一配置结构体
type Config struct {
	CommonConf   `ini:"common"`
	FetchConf    `ini:"fetch"`
	DecodoConf   `ini:"decodo"`
	ProxyConf    `ini:"proxy"`
	RetryConf    `ini:"retry"`
	HumanizeConf `ini:"humanize"`
	StoreConf    `ini:"store"`
	WebConf      `ini:"web"`
	LogConf      `ini:"log"`
}
