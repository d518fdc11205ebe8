package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/songzhibin97/sellflux/internal/backend"
	"github.com/songzhibin97/sellflux/internal/configs"
	"github.com/songzhibin97/sellflux/internal/data"
	collectorData "github.com/songzhibin97/sellflux/internal/data/collector"
	"github.com/songzhibin97/sellflux/internal/data/collector/binance"
	"github.com/songzhibin97/sellflux/internal/data/collector/birdeye"
	"github.com/songzhibin97/sellflux/internal/data/collector/dexscreener"
	"github.com/songzhibin97/sellflux/internal/data/storage"
	"github.com/songzhibin97/sellflux/internal/decision"
	decisionOpenAI "github.com/songzhibin97/sellflux/internal/decision/openai"
	"github.com/songzhibin97/sellflux/internal/intake"
	"github.com/songzhibin97/sellflux/internal/metrics"
	"github.com/songzhibin97/sellflux/internal/registry"
	"github.com/songzhibin97/sellflux/internal/registry/sonar"
	"github.com/songzhibin97/sellflux/internal/risk"
	"github.com/songzhibin97/sellflux/internal/scanner"
	"github.com/songzhibin97/sellflux/internal/trading/simulation"
	"github.com/songzhibin97/sellflux/internal/utils/request"
)

var (
	flagconf string

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	}))

	logLevel = new(slog.LevelVar)
)

func init() {
	flag.StringVar(&flagconf, "conf", "", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Error("sellflux exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// 加载配置
	config, err := configs.Load(flagconf)
	if err != nil {
		return err
	}
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(config.LogLevel))); err != nil {
		log.Warn("unknown log level, using info", "level", config.LogLevel)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	log.Debug("loaded config", "queue", config.Broker.Queue, "backend", config.Backend.URL, "sonar", config.Sonar.URL)

	if config.Proxy != "" {
		_ = os.Setenv("HTTP_PROXY", config.Proxy)
		_ = os.Setenv("HTTPS_PROXY", config.Proxy)
		log.Debug("set proxy ok", "proxy", config.Proxy)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if config.MetricsAddr != "" {
		srv := &http.Server{Addr: config.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
			}
		}()
		defer shutdown(srv)
		log.Info("metrics server listening", "addr", config.MetricsAddr)
	}

	httpClient := request.New(config.HTTPTimeout.Std())

	// 存储
	store, closeStore, err := newStore(config)
	if err != nil {
		return err
	}
	defer closeStore()

	log.Debug("init storage")

	// 行情
	var sources []collectorData.DataSource
	if config.Birdeye.APIKey != "" {
		sources = append(sources, birdeye.NewBirdeyeDataSource(config.Birdeye.APIKey, httpClient))
	}
	sources = append(sources, dexscreener.NewDexScreenerDataSource(httpClient))
	market := collectorData.NewMultiSourceCollector(sources, binance.NewBinanceDataSource(config.BasePriceSymbol).SetTimeout(config.HTTPTimeout.Std()), log)

	log.Debug("init collector", "sources", len(sources))

	// 活跃 token 集合
	set, closeSet, err := newActiveSet(ctx, config)
	if err != nil {
		return err
	}
	defer closeSet()

	reg := registry.New(set, sonar.NewClient(config.Sonar.URL, config.Sonar.Token, httpClient), log, m)

	go reg.KeepAlive(ctx)

	log.Debug("init registry")

	syncer := backend.NewSyncer(config.Backend.URL, config.Backend.Token, httpClient, log,
		backend.WithRetries(config.Backend.MaxRetries, config.Backend.RetryDelay.Std()),
		backend.WithMetrics(m))

	executor := simulation.NewExecutor(store, market, risk.NewBasicEvaluator(config.RiskParams), syncer, reg, log,
		simulation.WithMetrics(m))
	defer executor.Wait()

	log.Debug("init executor")

	consumer := intake.NewConsumer(intake.Config{
		URL:                config.Broker.URL,
		Queue:              config.Broker.Queue,
		DeadLetterExchange: config.Broker.DeadLetterExchange,
	}, executor, log, m)
	if err := consumer.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error("failed to close consumer", "err", err)
		}
	}()

	var engine decision.Engine = decision.PassThrough{}
	if config.AIConfig.APIKey != "" {
		aiConfig := openai.DefaultConfig(config.AIConfig.APIKey)
		aiConfig.HTTPClient = &http.Client{Timeout: 2 * config.HTTPTimeout.Std()}
		engine = decisionOpenAI.NewEngineWithConfig(aiConfig, config.AIConfig.ModelType, market, log)
		log.Info("using llm decision engine", "model", config.AIConfig.ModelType)
	}

	scan := scanner.New(store, reg, engine, log, m, config.Scan.Concurrency)
	go func() {
		if err := scan.Run(ctx, config.Scan.Interval.Std()); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scan loop stopped", "err", err)
		}
	}()

	log.Info("sellflux started", "queue", config.Broker.Queue)

	if err := consumer.Run(ctx); err != nil {
		return err
	}

	log.Info("shutting down")
	return nil
}

func newStore(config *configs.Config) (data.PerformanceStore, func(), error) {
	if config.Database.ConnStr == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return storage.NewMemoryStorage(), func() {}, nil
	}

	pg, err := storage.NewPostgresStorage(config.Database.ConnStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage: %w", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Error("failed to close storage", "err", err)
		}
	}, nil
}

func newActiveSet(ctx context.Context, config *configs.Config) (registry.ActiveSet, func(), error) {
	if config.Redis.Addr == "" {
		return registry.NewMemorySet(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	set := registry.NewRedisSet(client, "", config.Redis.ClaimTTL.Std())
	return set, func() {
		if err := set.Close(); err != nil {
			log.Error("failed to close redis", "err", err)
		}
	}, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("failed to stop metrics server", "err", err)
	}
}
