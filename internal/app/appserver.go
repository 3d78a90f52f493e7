package app

import (
	"context"
	"io"
	"sync"
	"time"

	"skiptracer/internal/core/humanize"
	"skiptracer/internal/core/retry"
	"skiptracer/internal/core/tracer"
	"skiptracer/internal/fetch"
	"skiptracer/internal/search"
	"skiptracer/internal/service/web"
	"skiptracer/internal/shared/config"
	"skiptracer/internal/shared/logger"
	"skiptracer/internal/shared/settings"
	"skiptracer/internal/shared/types"
	"skiptracer/internal/store"
	"skiptracer/proxypool"
	"skiptracer/proxypool/storage"
	"skiptracer/proxypool/validator"
)

const shutdownTimeout = 5 * time.Second

// AppServer 持有全部组件: 代理轮换器、抓取器、站点、结果库、查找器以及 Web API。
type AppServer struct {
	cfg *types.Config

	settingsManager *settings.SettingsManager
	hub             *web.Hub
	server          *web.Server

	rotator   *proxypool.Rotator
	humanizer *humanize.Humanizer
	fetcher   fetch.Fetcher
	store     *store.Store
	tracer    *tracer.Tracer

	startOnce sync.Once
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New 按配置构建全部组件并加载代理。出错时已创建的资源会被释放。
func New(ctx context.Context, cfg *types.Config) (*AppServer, error) {
	log := logger.WithComponent("AppServer")
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	s := &AppServer{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Stop()
		}
	}()

	sm, err := settings.NewSettingsManager(cfg.WebConf.SettingsFile, runtimeDefaults(cfg))
	if err != nil {
		return nil, err
	}
	s.settingsManager = sm

	opts, err := rotatorOptions(cfg)
	if err != nil {
		return nil, err
	}
	v, err := validator.NewValidator(cfg.ProxyConf.ValidateURL,
		time.Duration(cfg.ProxyConf.ValidateTimeoutSec)*time.Second, cfg.ProxyConf.ValidateConcurrency)
	if err != nil {
		return nil, err
	}
	var st storage.Storage
	if cfg.ProxyConf.StateFile != "" {
		st = storage.NewFileStorage(cfg.ProxyConf.StateFile)
	}
	s.rotator = proxypool.New(opts, st, v)
	if err := s.rotator.Load(); err != nil {
		log.Warn().Err(err).Str("path", cfg.ProxyConf.StateFile).Msg("Failed to load saved proxies, starting with an empty pool.")
	}
	sources, err := proxySources(cfg)
	if err != nil {
		return nil, err
	}
	added := s.rotator.LoadSources(ctx, sources...)

	s.humanizer = humanize.New(humanizeConfig(cfg))

	// 启动时同步一次 settings.json 中的运行时参数
	sm.Register(settings.ModuleRotator, s.rotator)
	sm.Register(settings.ModuleHumanizer, s.rotator)
	sm.Register(settings.ModuleHumanizer, s.humanizer)
	sm.Apply(settings.ModuleRotator)
	sm.Apply(settings.ModuleHumanizer)

	s.fetcher, err = fetch.New(cfg)
	if err != nil {
		return nil, err
	}

	profiles, err := search.LoadProfiles(cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}
	sites, err := search.Select(profiles, config.SiteList(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.StoreConf.Path != "" {
		s.store, err = store.Open(cfg.StoreConf.Path)
		if err != nil {
			return nil, err
		}
	}

	s.tracer = tracer.New(tracer.Options{
		Sites:      sites,
		Fetcher:    s.fetcher,
		Controller: retry.New(retryConfig(cfg), s.rotator, s.humanizer),
		Store:      s.store,
		CacheTTL:   time.Duration(cfg.StoreConf.CacheTTLMin) * time.Minute,
		Debug:      cfg.Debug,
		DebugDir:   cfg.DebugDir,
	})

	s.hub = web.NewHub()
	s.server = web.NewServer(cfg.WebConf, web.NewHandler(sm, s, s.hub), s.hub)

	stats := s.rotator.Stats()
	log.Info().
		Str("fetcher", cfg.Fetcher).
		Int("sites", len(sites)).
		Int("proxies", stats.Total).
		Int("from_sources", added).
		Str("mode", string(stats.Mode)).
		Msg("Skip tracer initialized.")
	ok = true
	return s, nil
}

// Start 启动轮换器的后台重新验证。可以重复调用。
func (s *AppServer) Start() {
	s.startOnce.Do(s.rotator.Start)
}

// Run 以服务模式运行: Web API、WebSocket 推送和后台维护, 直到 ctx 结束。
func (s *AppServer) Run(ctx context.Context) error {
	log := logger.WithComponent("AppServer")
	log.Info().Msg("Starting skip tracer service...")

	s.rotator.SetObserver(s.hub.BroadcastRotatorState)
	s.tracer.SetObserver(s.hub.BroadcastTraceResult)
	s.Start()

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		s.hub.Run(hubCtx)
	}()

	if err := s.server.Start(&s.waitGroup); err != nil {
		cancelHub()
		s.waitGroup.Wait()
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Web server did not shut down cleanly.")
	}
	cancelHub()
	s.waitGroup.Wait()
	return nil
}

// Stop 停止后台任务, 保存代理状态并关闭资源。可以重复调用。
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		if s.rotator != nil {
			s.rotator.Stop()
		}
		if c, ok := s.fetcher.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close fetcher.")
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close result store.")
			}
		}
	})
}

func (s *AppServer) Config() *types.Config { return s.cfg }

func (s *AppServer) Tracer() *tracer.Tracer { return s.tracer }

// Store 返回结果库, 未配置时为 nil。
func (s *AppServer) Store() *store.Store { return s.store }

func (s *AppServer) WebServer() *web.Server { return s.server }
