package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/wfunc/mafia-game/internal/api"
	"github.com/wfunc/mafia-game/internal/config"
	"github.com/wfunc/mafia-game/internal/database"
	"github.com/wfunc/mafia-game/internal/errors"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/logger"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/service"
	ws "github.com/wfunc/mafia-game/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务组件
	games  *game.GameManager
	hub    *ws.Hub
	router *api.Router
	http   *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	// 显示版本信息
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 显示帮助信息
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 设置系统参数
	setupSystem(&cfg.System)

	// 打印启动信息
	printStartInfo(cfg)

	// 创建服务器实例
	server := NewServer(cfg)

	// 启动服务器
	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	// 等待退出信号
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动黑手党游戏服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	// 初始化各个组件
	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	// 启动各个服务
	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 把上次停机时仍在进行的对局拉起来
	s.resumeGames()

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)),
		zap.String("websocket", "/ws/game"),
	)

	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	// 初始化数据库
	if err := s.initDatabase(); err != nil {
		return err
	}

	// 对局管理器：内存缓存挂在数据库存档前面
	s.games = game.NewGameManager(&game.ManagerConfig{
		Logger:      s.logger,
		DB:          database.GetDB(),
		MaxGames:    s.cfg.Game.Manager.MaxGames,
		IdleTimeout: s.cfg.Game.Manager.IdleTimeout,
	})

	// WebSocket集线器
	s.hub = ws.NewHub(s.games, s.cfg.WebSocket, s.logger)

	// 路由器，服务层与落库器在里面组装
	s.router = api.NewRouter(database.GetDB(), s.games, s.hub, s.cfg, s.logger)

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	// 初始化数据库连接
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	// 自动迁移数据库
	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	// 检查数据库连接
	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	// WebSocket集线器
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	// 闲置对局清理任务
	if interval := s.cfg.Game.Manager.CleanupInterval; interval > 0 {
		s.games.StartCleanupTask(s.ctx, interval)
	}

	// HTTP服务，REST与WebSocket共用一个端口
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// resumeGames 恢复库中状态仍为进行中的对局
// 恢复后一律按人工对局续跑，决策只来自提交接口。
// 存档过期或损坏的对局标记中止，不影响启动。
func (s *Server) resumeGames() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	repos := repository.NewManager(database.GetDB())
	rows, err := repos.Game().FindByStatus(ctx, models.GameStatusRunning, repository.NewPagination(1, 100))
	if err != nil {
		s.logger.Error("查询未完结对局失败", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	recorder := s.router.Services().Recorder
	sink := service.NewMultiSink(recorder, s.hub)

	resumed := 0
	for _, row := range rows {
		if _, err := s.games.RecoverGame(ctx, row.GameID); err != nil {
			s.logger.Warn("对局恢复失败，标记中止",
				zap.String("game_id", row.GameID),
				zap.Error(err))
			row.Status = models.GameStatusAborted
			if uerr := repos.Game().Update(ctx, row); uerr != nil {
				s.logger.Error("标记对局中止失败",
					zap.String("game_id", row.GameID),
					zap.Error(uerr))
			}
			continue
		}

		if err := recorder.Resume(ctx, row.GameID); err != nil {
			s.logger.Warn("落库游标对齐失败",
				zap.String("game_id", row.GameID),
				zap.Error(err))
		}

		// 调度生命周期长于恢复流程，不能挂在带超时的上下文上
		if err := s.games.StartGame(context.Background(), row.GameID, nil, sink); err != nil {
			s.logger.Warn("对局续跑失败",
				zap.String("game_id", row.GameID),
				zap.Error(err))
			continue
		}
		resumed++
	}

	s.logger.Info("未完结对局恢复完成",
		zap.Int("resumed", resumed),
		zap.Int("found", len(rows)))
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	// 创建超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	if s.http != nil {
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务关闭异常", zap.Error(err))
		}
	}

	// 取消主上下文，集线器与清理任务随之退出
	s.cancel()

	// 等待所有服务关闭
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// 等待关闭完成或超时
	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	// 关闭各个组件
	if err := s.closeComponents(shutdownCtx); err != nil {
		s.logger.Error("关闭组件失败", zap.Error(err))
		return err
	}

	// 同步日志
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// closeComponents 关闭组件
// 在跑的对局先停调度并保存最终存档，下次启动可以续跑。
func (s *Server) closeComponents(ctx context.Context) error {
	s.logger.Info("关闭组件...")

	for _, gameID := range s.games.GameIDs() {
		if err := s.games.RemoveGame(ctx, gameID); err != nil {
			s.logger.Error("对局停机存档失败",
				zap.String("game_id", gameID),
				zap.Error(err))
		}
	}

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 重新加载配置
// 热生效的只有日志级别，组件持有的其余配置在重启后生效。
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg
	logger.SetLevel(newCfg.Log.Level)

	s.logger.Info("配置重新加载完成")
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	// 设置时区
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	// 设置最大处理器数
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	// 设置文件描述符限制（Unix系统）
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err == nil {
		rLimit.Cur = rLimit.Max
		syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("黑手党游戏服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("黑手党游戏服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  mafia-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  MAFIA_GAME_SERVER_MODE     运行模式 (development/production)")
	fmt.Println("  MAFIA_GAME_DATABASE_DSN    数据库连接串")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  mafia-server -config=/path/to/config.yaml")
	fmt.Println("  mafia-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║                                                               ║
║    __  __        __ _          ____                           ║
║   |  \/  | __ _ / _(_) __ _   / ___| __ _ _ __ ___   ___      ║
║   | |\/| |/ _` + "`" + ` | |_| |/ _` + "`" + ` | | |  _ / _` + "`" + ` | '_ ` + "`" + ` _ \ / _ \     ║
║   | |  | | (_| |  _| | (_| | | |_| | (_| | | | | | |  __/     ║
║   |_|  |_|\__,_|_| |_|\__,_|  \____|\__,_|_| |_| |_|\___|     ║
║                                                               ║
║                     黑手党游戏后端服务器                      ║
║                                                               ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("监听: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
