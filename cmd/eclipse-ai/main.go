// AIセキュリティガバナンスダッシュボードの通知サーバーのエントリポイント。
// ユーザーごとの通知ストアとシミュレーションをHTTP APIとSSEで公開する。
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/audit"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/config"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/gateway"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/logging"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/metrics"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/httpclient"
)

func main() {
	configPath := flag.String("config", os.Getenv("ECLIPSE_CONFIG"), "YAML設定ファイルのパス")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("サーバーが異常終了しました", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return err
	}

	attach := []notification.AttachFunc{
		metrics.Attach,
		func(sess *notification.Session) func() {
			return sess.Store.Subscribe(notification.PresentAdded(notification.LogPresenter{Logger: logger}))
		},
	}

	var recorder *audit.Recorder
	if cfg.Audit.DSN != "" {
		r, err := audit.Open(ctx, cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer r.Close()
		recorder = r
		attach = append(attach, recorder.Attach)
		logger.Info("監査ログを有効にしました", slog.String("dsn", cfg.Audit.DSN))
	}

	if cfg.Webhook.URL != "" {
		opts := []httpclient.Option{httpclient.WithTimeout(cfg.Webhook.Timeout)}
		if cfg.Webhook.Secret != "" {
			opts = append(opts, httpclient.WithHeader("X-Webhook-Secret", cfg.Webhook.Secret))
		}
		forwarder := notification.NewForwarder(
			httpclient.New(cfg.Webhook.URL, opts...),
			cfg.Webhook.Path,
			notification.Level(cfg.Webhook.MinLevel),
			cfg.Webhook.Timeout,
		)
		defer forwarder.Wait()
		attach = append(attach, forwarder.Attach)
		logger.Info("Webhook転送を有効にしました",
			slog.String("url", cfg.Webhook.URL),
			slog.String("min_level", cfg.Webhook.MinLevel))
	}

	var templates []notification.Input
	if cfg.Simulation.TemplatesPath != "" {
		loaded, err := notification.LoadTemplates(cfg.Simulation.TemplatesPath)
		if err != nil {
			return err
		}
		templates = loaded
	}

	sessions := notification.NewSessions(notification.SessionConfig{
		Capacity:          cfg.Store.Capacity,
		SimulationEnabled: cfg.Simulation.Enabled,
		Templates:         templates,
		NextDelay:         notification.RandomDelay(cfg.Simulation.MinDelay, cfg.Simulation.MaxDelay),
		OnTick:            metrics.ObserveSimulationTick,
		IdleTimeout:       cfg.Store.SessionIdleTimeout,
	}, attach...)
	defer sessions.CloseAll()

	server := gateway.NewServer(gateway.Config{
		Port:           cfg.Server.Port,
		JWTSecret:      cfg.Server.JWTSecret,
		FrontendURLs:   cfg.Server.FrontendURLs,
		DevToken:       cfg.Server.DevToken,
		Logger:         logger,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, sessions, recorder)

	logger.Info("通知サービスを起動します",
		slog.String("port", cfg.Server.Port),
		slog.Int("capacity", cfg.Store.Capacity),
		slog.Bool("simulation", cfg.Simulation.Enabled))
	return server.Run(ctx, cfg.Server.ShutdownTimeout)
}
