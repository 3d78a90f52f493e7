package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// SettingsManager 是运行时配置的核心管理器。
// 它线程安全, 使用原子操作和发布/订阅模式来处理配置的读取和热重载。
type SettingsManager struct {
	filePath    string
	settings    atomic.Value // *RuntimeSettings, 无锁读取
	subscribers map[string][]ConfigurableModule
	mu          sync.RWMutex // 保护 subscribers 和文件写入
}

// NewSettingsManager 创建配置管理器并立即从 filePath 加载。
// filePath 为空时只在内存中使用 defaults; 文件不存在时以 defaults 创建。
func NewSettingsManager(filePath string, defaults *RuntimeSettings) (*SettingsManager, error) {
	sm := &SettingsManager{
		filePath:    filePath,
		subscribers: make(map[string][]ConfigurableModule),
	}
	if defaults == nil {
		defaults = createDefaultSettings()
	}
	ensureDefaultModules(defaults)

	if filePath == "" {
		sm.settings.Store(defaults)
		return sm, nil
	}

	if err := sm.load(defaults); err != nil {
		return nil, fmt.Errorf("failed to load initial settings: %w", err)
	}
	return sm, nil
}

func (sm *SettingsManager) load(defaults *RuntimeSettings) error {
	data, err := os.ReadFile(sm.filePath)
	settings := &RuntimeSettings{}

	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
		log.Warn().Str("path", sm.filePath).Msg("settings.json not found, creating with default values.")
		settings = defaults
		if err := sm.persist(settings); err != nil {
			return fmt.Errorf("failed to write default settings file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to parse settings.json: %w", err)
		}
		if settings.Rotator == nil {
			settings.Rotator = defaults.Rotator
		}
		if settings.Humanizer == nil {
			settings.Humanizer = defaults.Humanizer
		}
	}

	sm.settings.Store(settings)
	return nil
}

// Register 将一个模块注册为特定配置主题的订阅者。
func (sm *SettingsManager) Register(moduleKey string, module ConfigurableModule) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscribers[moduleKey] = append(sm.subscribers[moduleKey], module)
}

// Get 返回当前运行时配置的快照。此操作是无锁的。
func (sm *SettingsManager) Get() *RuntimeSettings {
	return sm.settings.Load().(*RuntimeSettings)
}

// Module 返回指定模块当前配置的 JSON 视图。
func (sm *SettingsManager) Module(moduleKey string) (interface{}, error) {
	m := getModuleByKey(sm.Get(), moduleKey)
	if m == nil {
		return nil, fmt.Errorf("unknown settings module: %s", moduleKey)
	}
	return m, nil
}

// Update 接收一个模块的原始 JSON, 原子地更新内存中的配置、持久化到磁盘,
// 并同步通知所有相关订阅者。
func (sm *SettingsManager) Update(moduleKey string, newSettingsData json.RawMessage) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	newSettings := deepCopy(sm.Get())

	targetModule := getModuleByKey(newSettings, moduleKey)
	if targetModule == nil {
		return fmt.Errorf("unknown settings module: %s", moduleKey)
	}
	if err := json.Unmarshal(newSettingsData, targetModule); err != nil {
		return fmt.Errorf("failed to parse JSON for module %s: %w", moduleKey, err)
	}

	if sm.filePath != "" {
		if err := sm.persist(newSettings); err != nil {
			return fmt.Errorf("failed to save updated settings to disk: %w", err)
		}
	}

	sm.settings.Store(newSettings)
	sm.notifyLocked(moduleKey, targetModule)
	return nil
}

func (sm *SettingsManager) persist(settings *RuntimeSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(sm.filePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(sm.filePath, data, 0644)
}

// Apply 将当前配置推送给某模块的全部订阅者, 用于启动时的初始同步。
func (sm *SettingsManager) Apply(moduleKey string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if m := getModuleByKey(sm.Get(), moduleKey); m != nil {
		sm.notifyLocked(moduleKey, m)
	}
}

func (sm *SettingsManager) notifyLocked(moduleKey string, newSettings interface{}) {
	subscribers, ok := sm.subscribers[moduleKey]
	if !ok {
		return
	}
	log.Debug().Str("module", moduleKey).Int("subscribers", len(subscribers)).Msg("Notifying subscribers of settings update.")
	for _, sub := range subscribers {
		if err := sub.OnSettingsUpdate(moduleKey, newSettings); err != nil {
			log.Error().Err(err).Str("module", moduleKey).Msg("Error notifying subscriber.")
		}
	}
}

// --- 辅助函数 ---

func deepCopy(s *RuntimeSettings) *RuntimeSettings {
	newS := *s
	if s.Rotator != nil {
		r := *s.Rotator
		newS.Rotator = &r
	}
	if s.Humanizer != nil {
		h := *s.Humanizer
		newS.Humanizer = &h
	}
	return &newS
}

func getModuleByKey(s *RuntimeSettings, key string) interface{} {
	switch key {
	case ModuleRotator:
		return s.Rotator
	case ModuleHumanizer:
		return s.Humanizer
	default:
		return nil
	}
}
