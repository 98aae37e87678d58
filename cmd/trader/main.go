package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/tradestream/internal/client"
	"github.com/betbot/tradestream/internal/datum"
	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
	"github.com/betbot/tradestream/pkg/config"
	"github.com/betbot/tradestream/pkg/logger"
	sdkhttp "github.com/betbot/tradestream/pkg/sdk/http"
	"github.com/betbot/tradestream/pkg/secretstore"
	"github.com/betbot/tradestream/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("TRADESTREAM_CONFIG"), "config file path (.yaml/.yml/.json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败，使用默认配置:", err.Error())
		if err := logger.InitDefault(); err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
	}
	log := logger.Component("main").WithField("session", cfg.SessionID)
	if file := logger.GetCurrentLogFile(); file != "" {
		log.Infof("日志文件: %s", file)
	}

	keyBytes, err := secretstore.ParseKey(cfg.SecretStore.EncryptionKey)
	if err != nil {
		return fmt.Errorf("密钥库加密 key 无效: %w", err)
	}
	secrets, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStore.Path,
		EncryptionKey: keyBytes,
		InMemory:      cfg.SecretStore.InMemory,
	})
	if err != nil {
		return err
	}

	sess := client.New(cfg, client.Deps{
		Forwarder: sdkhttp.NewClient(cfg.Endpoints.ProxyURL, cfg.HTTPTimeout),
		Secrets:   secrets,
	})

	sm := shutdown.NewManager()
	sm.OnShutdown("secretstore", func(context.Context) error { return secrets.Close() })
	sm.OnShutdown("session", func(context.Context) error { return sess.Close() })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if cfg.MetricsAddr != "" {
		debugCtx, cancelDebug := context.WithCancel(context.Background())
		if _, err := metrics.StartAsync(debugCtx, cfg.MetricsAddr, sess.DebugViews()); err != nil {
			cancelDebug()
			return fmt.Errorf("启动调试服务失败: %w", err)
		}
		sm.OnShutdown("debug", func(context.Context) error { cancelDebug(); return nil })
		log.Infof("调试服务监听 %s", cfg.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-sess.Errors():
			log.WithError(err).Error(domain.UserMessage(err))
			return err
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sess.Estimates():
				log.Debug("保证金已更新")
			}
		}
	})

	cancelOrders := sess.SubscribeOrders(datum.Filter{}, func(v datum.OrderView) {
		log.Infof("订单 %s %s %s %d/%d手 @ %s [%s]", v.OrderID, v.Symbol, v.Side, v.FilledLots, v.Lots, v.PriceValue, v.Resolved)
	})
	defer cancelOrders()
	cancelTrades := sess.SubscribeTimeline(datum.Filter{}, func(v datum.TradeView) {
		log.Infof("成交 %s %s %s %d手 @ %s 手续费 %s", v.OrderID, v.Symbol, v.Side, v.Lots, v.PriceValue, v.Commission)
	})
	defer cancelTrades()

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sm.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("关闭过程中出现错误")
	}
	if runErr != nil {
		return runErr
	}
	log.Info("已退出")
	return nil
}
