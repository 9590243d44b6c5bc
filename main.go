package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"secureproxy/backend/api"
	"secureproxy/backend/config"
	"secureproxy/backend/persist"
	"secureproxy/backend/repository/events"
	"secureproxy/backend/repository/filestore"
	"secureproxy/backend/service"
	"secureproxy/backend/service/applog"
	"secureproxy/backend/service/proxy"
	"secureproxy/backend/service/shared"
	"secureproxy/backend/service/status"
	"secureproxy/backend/service/sysproxy"
	"secureproxy/backend/service/tun"
	"secureproxy/backend/tasks"
)

// logRetain 轮转出的旧日志保留时长
const logRetain = 7 * 24 * time.Hour

var (
	configPath string
	listenAddr string
	dataDir    string
	logLevel   string
	devMode    bool
	dryRun     bool
)

var mainCommand = &cobra.Command{
	Use:          "secureproxy",
	Short:        "Local proxy engine orchestrator",
	SilenceUsage: true,
	RunE:         runServe,
}

var commandServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	flags := mainCommand.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "application config file (.yaml/.json/.toml)")
	flags.StringVarP(&dataDir, "data-dir", "D", "", "user data directory (default: per-user config dir)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug/info/warn/error)")

	for _, cmd := range []*cobra.Command{mainCommand, commandServe} {
		cmd.Flags().StringVar(&listenAddr, "addr", "", "HTTP listen address")
		cmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode with verbose logging")
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not touch host network settings")
	}
	mainCommand.AddCommand(commandServe)
}

func main() {
	if err := mainCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取配置文件并叠加命令行参数
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if dryRun {
		cfg.DryRun = true
	}
	return cfg.WithDefaults(shared.UserDataRoot()), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	layout := shared.NewLayout(cfg.DataDir)

	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if devMode {
		gin.SetMode(gin.DebugMode)
		level = zerolog.DebugLevel
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	for _, path := range []string{layout.AppLogPath(), layout.EngineLogPath()} {
		if err := shared.RotateLogFile(path, logRetain); err != nil {
			fmt.Fprintf(os.Stderr, "rotate %s: %v\n", path, err)
		}
	}
	appLogStartedAt, closeAppLog, err := applog.Setup(layout.AppLogPath(), level)
	if err != nil {
		return err
	}
	defer closeAppLog()
	log := applog.For("main")
	log.Info().Str("dataDir", layout.Root).Bool("dryRun", cfg.DryRun).Msg("starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. 事件总线与状态聚合器
	eventBus := events.NewBus()
	aggCtx, stopAgg := context.WithCancel(context.Background())
	defer stopAgg()
	agg := status.New(eventBus)
	go agg.Run(aggCtx)

	// 2. 设置与配置仓储
	settings := persist.NewSettingsStore(layout.SettingsPath())
	if _, err := settings.Load(); err != nil {
		log.Error().Err(err).Str("path", layout.SettingsPath()).Msg("拒绝启动以避免覆盖设置文件，请修正或移走该文件")
		return err
	}
	configs := filestore.NewConfigRepo(layout.ConfigDir(), settings, eventBus)
	go func() {
		if err := configs.Watch(ctx, filestore.DefaultWatchDebounce); err != nil {
			log.Warn().Err(err).Msg("配置目录监听不可用")
		}
	}()

	// 3. 引擎、系统代理、虚拟网卡
	reclaimer := shared.NewPortReclaimer()
	engine := proxy.NewSupervisor(proxy.EngineSpec{
		Command:   cfg.Engine.Command,
		Args:      cfg.Engine.Args,
		Dir:       cfg.Engine.Dir,
		Signature: cfg.Engine.Signature,
	}, agg, reclaimer, proxy.WithLogPath(layout.EngineLogPath()), proxy.WithEcho(devMode))

	netStore, provider := hostNetwork(cfg, layout, log)
	tunCtl := tun.NewController(provider, tun.NewDescriptorStore(layout.TunnelDir()), agg, tun.WithIdentifier(cfg.Tun.ProviderIdentifier))
	defer tunCtl.Close()

	// 4. Facade 与路由
	facade := service.NewFacade(configs, settings, agg, engine, sysproxy.NewController(netStore), tunCtl, service.WithReclaimer(reclaimer))
	facade.SetAppLog(layout.AppLogPath(), appLogStartedAt)
	defer facade.Close()
	tasks.NewScheduler(facade).Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(facade),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cleanupDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Info().Msg("收到退出信号，正在清理...")

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := facade.StopProxy(stopCtx); err != nil {
			log.Warn().Err(err).Msg("停止代理失败")
		}
		if err := settings.SaveNow(); err != nil {
			log.Warn().Err(err).Msg("保存设置失败")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
		}
		close(cleanupDone)
	}()

	log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("listen")
		cancel()
		<-cleanupDone
		return err
	}
	<-cleanupDone
	return nil
}

// hostNetwork 选择网络配置存储与虚拟网卡实现；dry-run 或平台不支持时使用内存实现
func hostNetwork(cfg config.Config, layout shared.Layout, log zerolog.Logger) (sysproxy.NetworkStore, tun.Provider) {
	if cfg.DryRun {
		return sysproxy.NewMemoryStore(layout.LockPath()), tun.NewMemoryProvider()
	}
	var store sysproxy.NetworkStore
	if hs, err := sysproxy.NewHostStore(layout.LockPath()); err != nil {
		log.Warn().Err(err).Msg("系统代理不可用，改用内存实现")
		store = sysproxy.NewMemoryStore(layout.LockPath())
	} else {
		store = hs
	}
	return store, tun.NewHostProvider(cfg.Tun.InterfaceName)
}
