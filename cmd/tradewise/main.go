package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tradewise-engine/internal/backtest"
	"tradewise-engine/internal/config"
	"tradewise-engine/internal/downloader"
	"tradewise-engine/internal/feed"
	"tradewise-engine/internal/logger"
	"tradewise-engine/internal/models"
	"tradewise-engine/internal/monitor"
	"tradewise-engine/internal/persistence"
	"tradewise-engine/internal/reporter"
	"tradewise-engine/internal/rules"
	"tradewise-engine/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type options struct {
	strategyFile string
	strategyID   string
	userID       string
	symbol       string
	start        string
	end          string
	dataPath     string
	cash         float64
	subscribe    bool
	list         bool
	deleteID     string
	unreadOnly   bool
	markRead     string
	eventsSubID  string
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "backtest", "running mode: backtest, monitor, strategy or notifications")
	var opts options
	flag.StringVar(&opts.strategyFile, "strategy", "", "strategy definition file (.json/.yaml)")
	flag.StringVar(&opts.strategyID, "strategy-id", "", "stored strategy id")
	flag.StringVar(&opts.userID, "user", "", "owner / user id")
	flag.StringVar(&opts.symbol, "symbol", "", "symbol (e.g., BTCUSDT)")
	flag.StringVar(&opts.start, "start", "", "start date for backtesting (YYYY-MM-DD)")
	flag.StringVar(&opts.end, "end", "", "end date for backtesting (YYYY-MM-DD, exclusive)")
	flag.StringVar(&opts.dataPath, "data", "", "path to a kline CSV for backtesting")
	flag.Float64Var(&opts.cash, "cash", 0, "initial cash, overrides the config")
	flag.BoolVar(&opts.subscribe, "subscribe", false, "strategy mode: also activate monitoring for -symbol")
	flag.BoolVar(&opts.list, "list", false, "strategy mode: list the user's strategies")
	flag.StringVar(&opts.deleteID, "delete", "", "strategy mode: delete a strategy and its subscriptions")
	flag.BoolVar(&opts.unreadOnly, "unread", false, "notifications mode: only unread")
	flag.StringVar(&opts.markRead, "mark-read", "", "notifications mode: notification id to mark as read")
	flag.StringVar(&opts.eventsSubID, "events", "", "notifications mode: list the trigger history of a subscription")
	flag.Parse()

	// 在加载配置前先用默认配置初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Debug("未找到 .env 文件，将从系统环境变量中读取。")
	}
	if opts.userID == "" {
		opts.userID = os.Getenv("TRADEWISE_USER")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "backtest":
		err = runBacktestMode(ctx, cfg, opts)
	case "monitor":
		err = runMonitorMode(ctx, cfg)
	case "strategy":
		err = runStrategyMode(cfg, opts)
	case "notifications":
		err = runNotificationsMode(ctx, cfg, opts)
	default:
		err = fmt.Errorf("未知的运行模式: %s。请选择 'backtest', 'monitor', 'strategy' 或 'notifications'。", *mode)
	}
	if err != nil {
		logger.S().Fatal(err)
	}
}

// runBacktestMode 运行回测模式
func runBacktestMode(ctx context.Context, cfg *models.Config, opts options) error {
	logger.S().Info("--- 启动回测模式 ---")

	strategy, err := resolveStrategy(cfg, opts)
	if err != nil {
		return err
	}

	series, dataPath, err := loadSeries(ctx, cfg, opts)
	if err != nil {
		return err
	}
	logger.S().Infof("已加载 %s 的 %d 根日K线", series.Symbol, series.Len())

	cash := cfg.InitialCash
	if opts.cash != 0 {
		cash = opts.cash
	}
	report, err := backtest.Run(strategy, series, decimal.NewFromFloat(cash))
	if err != nil {
		return fmt.Errorf("回测失败: %w", err)
	}
	for _, w := range report.Warnings {
		logger.S().Warn(w)
	}
	logger.S().Info(reporter.Summary(report))
	reporter.GenerateReport(os.Stdout, report, dataPath)
	return nil
}

// loadSeries 优先使用 -data 指定的文件, 否则按 symbol/start/end 下载并缓存
func loadSeries(ctx context.Context, cfg *models.Config, opts options) (*models.BarSeries, string, error) {
	if opts.dataPath != "" {
		symbol := opts.symbol
		if symbol == "" {
			symbol = symbolFromPath(opts.dataPath)
		}
		series, err := downloader.LoadBarsCSV(opts.dataPath, symbol)
		return series, opts.dataPath, err
	}
	if opts.symbol == "" || opts.start == "" || opts.end == "" {
		return nil, "", errors.New("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
	}
	start, err1 := time.Parse("2006-01-02", opts.start)
	end, err2 := time.Parse("2006-01-02", opts.end)
	if err1 != nil || err2 != nil {
		return nil, "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}

	provider := downloader.NewCSVProvider(cfg.DataDir, downloader.NewKlineDownloader("", logger.L()))
	series, err := provider.Bars(ctx, opts.symbol, start, end)
	if err != nil {
		return nil, "", fmt.Errorf("下载数据失败: %w", err)
	}
	return series, provider.Path(opts.symbol, start, end), nil
}

// symbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-1d-20240101-20240601.csv" -> "BNBUSDT"
func symbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ToUpper(strings.SplitN(name, "-", 2)[0])
}

// resolveStrategy 从文件或存储中取得策略
func resolveStrategy(cfg *models.Config, opts options) (*models.Strategy, error) {
	if opts.strategyFile != "" {
		return config.LoadStrategy(opts.strategyFile)
	}
	if opts.strategyID == "" {
		return nil, errors.New("需要通过 --strategy 或 --strategy-id 指定策略")
	}
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.LoadStrategy(opts.strategyID, opts.userID)
}

// runMonitorMode 订阅实时行情并对所有激活的订阅进行评估
func runMonitorMode(ctx context.Context, cfg *models.Config) error {
	logger.S().Info("--- 启动实时监控模式 ---")

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	db, err := storage.InitDB(cfg.NotificationsDB)
	if err != nil {
		return fmt.Errorf("初始化通知数据库失败: %w", err)
	}
	notifier := storage.NewNotificationStore(db)
	defer notifier.Close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.S().Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		logger.S().Infof("Prometheus 指标地址: http://%s/metrics", cfg.MetricsAddr)
	}

	m := monitor.NewMonitor(cfg.Monitor, repo, notifier, logger.L().Named("monitor"))
	n, err := m.LoadSubscriptions()
	if err != nil {
		return err
	}
	symbols := m.Symbols()
	if len(symbols) == 0 {
		return errors.New("没有激活的订阅，请先使用 -mode strategy -subscribe 创建订阅")
	}
	logger.S().Infof("已加载 %d 个订阅，交易对: %s", n, strings.Join(symbols, ", "))

	stream := feed.NewStream(cfg.StreamURL, symbols, cfg.Monitor, logger.L().Named("feed"))
	go func() {
		if err := stream.Run(ctx); err != nil {
			logger.S().Errorf("行情流退出: %v", err)
		}
	}()

	m.Start(ctx)
	m.Run(ctx, stream.Ticks())
	m.Stop()

	logger.S().Infof("监控已停止。处理 %d 条行情，丢弃 %d 条通知。", m.Processed(), m.Dropped())
	return nil
}

// runStrategyMode 导入、列出或删除策略, 可选地为其创建订阅
func runStrategyMode(cfg *models.Config, opts options) error {
	if opts.userID == "" {
		return errors.New("策略模式需要 --user")
	}
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	if opts.list {
		strategies, err := repo.ListStrategies(opts.userID)
		if err != nil {
			return err
		}
		for _, s := range strategies {
			fmt.Printf("%s\t%s\t%d rules\n", s.ID, s.Name, len(s.Rules))
		}
		return nil
	}

	if opts.deleteID != "" {
		if err := repo.DeleteStrategy(opts.deleteID, opts.userID); err != nil {
			return err
		}
		logger.S().Infof("策略 %s 及其订阅已删除", opts.deleteID)
		return nil
	}

	var strategy *models.Strategy
	if opts.strategyFile != "" {
		strategy, err = config.LoadStrategy(opts.strategyFile)
		if err != nil {
			return err
		}
		// 导入前先编译一次, 无效策略不入库
		if _, err := rules.Compile(strategy); err != nil {
			return err
		}
		strategy.OwnerID = opts.userID
		if err := repo.SaveStrategy(strategy); err != nil {
			return err
		}
		logger.S().Infof("策略 '%s' 已保存，ID: %s", strategy.Name, strategy.ID)
	} else if opts.strategyID != "" {
		if strategy, err = repo.LoadStrategy(opts.strategyID, opts.userID); err != nil {
			return err
		}
	} else {
		return errors.New("需要通过 --strategy 或 --strategy-id 指定策略")
	}

	if opts.subscribe {
		if opts.symbol == "" {
			return errors.New("订阅需要 --symbol")
		}
		sub := &models.Subscription{
			UserID:     opts.userID,
			StrategyID: strategy.ID,
			Symbol:     strings.ToUpper(opts.symbol),
			Active:     true,
		}
		if err := repo.SaveSubscription(sub); err != nil {
			return err
		}
		logger.S().Infof("已订阅 %s，订阅ID: %s", sub.Symbol, sub.ID)
	}
	return nil
}

// runNotificationsMode 列出或标记用户的通知, 或查看某个订阅的触发历史
func runNotificationsMode(ctx context.Context, cfg *models.Config, opts options) error {
	if opts.userID == "" {
		return errors.New("通知模式需要 --user")
	}
	db, err := storage.InitDB(cfg.NotificationsDB)
	if err != nil {
		return err
	}
	store := storage.NewNotificationStore(db)
	defer store.Close()

	if opts.markRead != "" {
		return store.MarkRead(ctx, opts.markRead, opts.userID)
	}
	if opts.eventsSubID != "" {
		events, err := store.Events(ctx, opts.userID, opts.eventsSubID)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("%s  %-4s %s @ %s  %s\n", ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Action, ev.Symbol, ev.Price.String(), ev.ID)
		}
		return nil
	}
	list, err := store.List(ctx, opts.userID, opts.unreadOnly)
	if err != nil {
		return err
	}
	for _, n := range list {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", mark, n.CreatedAt.Local().Format("2006-01-02 15:04:05"), n.ID, n.Message)
	}
	return nil
}
