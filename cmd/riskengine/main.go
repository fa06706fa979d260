package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"riskengine/internal/cascade"
	"riskengine/internal/feed"
	"riskengine/internal/ingestion"
	"riskengine/internal/margin"
	"riskengine/internal/montecarlo"
	"riskengine/internal/observability"
	"riskengine/internal/persistence"
	"riskengine/internal/pipeline"
	"riskengine/internal/query"
	"riskengine/internal/server"
	"riskengine/internal/state"
)

// Config holds all application configuration, loaded from environment
// variables. Empty PostgresDSN or NATSURL disables that integration.
type Config struct {
	// Market data feed
	FeedEnabled bool
	Symbols     []string
	WSBaseURL   string
	RESTBaseURL string

	// Postgres
	PostgresDSN   string
	MigrationsDir string

	// NATS
	NATSURL string

	// Channels
	JournalChanSize int
	ReportChanSize  int
	PublishChanSize int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	// Price history
	HistoryCapacity int

	// Pipeline rings
	IngestRingSize        int
	OutputRingSize        int
	WaitStrategy          string
	BackpressureThreshold float64

	// Monte Carlo
	MonteCarloEnabled  bool
	MonteCarloPaths    int
	MonteCarloThrottle time.Duration
	MonteCarloFatTails bool
	MonteCarloGarch    bool

	// Feed pollers
	OpenInterestInterval time.Duration

	// gRPC/HTTP
	GRPCAddr string
	HTTPAddr string
}

func DefaultConfig() Config {
	return Config{
		FeedEnabled:         envBoolOrDefault("RISK_FEED_ENABLED", true),
		Symbols:             splitSymbols(envOrDefault("RISK_SYMBOLS", "btcusdt,ethusdt")),
		WSBaseURL:           envOrDefault("RISK_WS_BASE_URL", "wss://fstream.binance.com"),
		RESTBaseURL:         envOrDefault("RISK_REST_BASE_URL", "https://fapi.binance.com"),
		PostgresDSN:         os.Getenv("RISK_POSTGRES_DSN"),
		MigrationsDir:       envOrDefault("RISK_MIGRATIONS_DIR", "migrations"),
		NATSURL:             os.Getenv("RISK_NATS_URL"),
		JournalChanSize:     envIntOrDefault("RISK_JOURNAL_CHAN_SIZE", 1024),
		ReportChanSize:      envIntOrDefault("RISK_REPORT_CHAN_SIZE", 2048),
		PublishChanSize:     envIntOrDefault("RISK_PUBLISH_CHAN_SIZE", 4096),
		PersistBatchSize:    envIntOrDefault("RISK_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: envDurOrDefault("RISK_PERSIST_FLUSH_TIMEOUT", 100*time.Millisecond),
		HistoryCapacity:     envIntOrDefault("RISK_HISTORY_CAPACITY", 86400),

		IngestRingSize:        envIntOrDefault("RISK_INGEST_RING_SIZE", 64*1024),
		OutputRingSize:        envIntOrDefault("RISK_OUTPUT_RING_SIZE", 16*1024),
		WaitStrategy:          envOrDefault("RISK_WAIT_STRATEGY", "sleeping"),
		BackpressureThreshold: envFloatOrDefault("RISK_BACKPRESSURE_THRESHOLD", 0.95),

		MonteCarloEnabled:  envBoolOrDefault("RISK_MC_ENABLED", true),
		MonteCarloPaths:    envIntOrDefault("RISK_MC_PATHS", 10000),
		MonteCarloThrottle: envDurOrDefault("RISK_MC_THROTTLE", 5*time.Second),
		MonteCarloFatTails: envBoolOrDefault("RISK_MC_FAT_TAILS", false),
		MonteCarloGarch:    envBoolOrDefault("RISK_MC_USE_GARCH", true),

		OpenInterestInterval: envDurOrDefault("RISK_OI_POLL_INTERVAL", 3*time.Second),

		GRPCAddr:            envOrDefault("RISK_GRPC_ADDR", ":9090"),
		HTTPAddr:            envOrDefault("RISK_HTTP_ADDR", ":8080"),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("risk engine starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres (optional) ---
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
	} else {
		log.Warn().Msg("RISK_POSTGRES_DSN not set, journaling and history queries disabled")
	}

	// --- Market state ---
	markPrices := state.NewMarkPriceCache()
	history := state.NewPriceHistoryBuffer(cfg.HistoryCapacity)
	riskState := state.NewRiskStateManager()
	positions := state.NewPositionRegistry()
	leverage := state.NewLeverageEstimator(state.DefaultLeverageConfig(), margin.DistanceRatio, margin.TierLeverages)

	// --- Risk calculators ---
	calculator := cascade.NewCalculator(cascade.DefaultConfig(), riskState, leverage, observability.NewLogger("cascade"))

	restClient := feed.NewRESTClient(cfg.RESTBaseURL)
	feedCfg := feed.DefaultConfig()
	feedCfg.WSBaseURL = cfg.WSBaseURL
	feedCfg.RESTBaseURL = cfg.RESTBaseURL
	if len(cfg.Symbols) > 0 {
		feedCfg.Symbols = cfg.Symbols
	}
	feedCfg.OpenInterestInterval = cfg.OpenInterestInterval
	fundingService := feed.NewFundingService(restClient, feedCfg, observability.NewLogger("funding"))

	mcCfg := montecarlo.DefaultConfig()
	mcCfg.Enabled = cfg.MonteCarloEnabled
	mcCfg.PathCount = cfg.MonteCarloPaths
	mcCfg.ThrottleInterval = cfg.MonteCarloThrottle
	mcCfg.UseFatTail = cfg.MonteCarloFatTails
	mcCfg.UseGarch = cfg.MonteCarloGarch
	volEstimator := montecarlo.NewVolatilityEstimator(history, observability.NewLogger("volatility"))
	garchEstimator := montecarlo.NewGarchEstimator(montecarlo.DefaultGarchConfig(), observability.NewLogger("garch"))
	driftEstimator := montecarlo.NewDriftEstimator(montecarlo.DefaultDriftConfig(), fundingService, history, observability.NewLogger("drift"))
	tailEstimator := montecarlo.NewTailEstimator(history, observability.NewLogger("tail"))
	simulator := montecarlo.NewService(mcCfg, markPrices, volEstimator, garchEstimator, driftEstimator, tailEstimator, history, observability.NewLogger("montecarlo"))

	// --- Outbound channels ---
	publishChan := make(chan ingestion.PublishableReport, cfg.PublishChanSize)

	var journalChan chan persistence.JournalBatch
	var reportChan chan persistence.ReportRow
	if db != nil {
		journalChan = make(chan persistence.JournalBatch, cfg.JournalChanSize)
		reportChan = make(chan persistence.ReportRow, cfg.ReportChanSize)
	}

	// --- Pipeline ---
	engineCfg := pipeline.EngineConfig{
		IngestRingSize:        cfg.IngestRingSize,
		OutputRingSize:        cfg.OutputRingSize,
		WaitStrategy:          cfg.WaitStrategy,
		BackpressureThreshold: cfg.BackpressureThreshold,
	}
	engine, err := pipeline.NewEngine(engineCfg, pipeline.Deps{
		MarkPrices:  markPrices,
		History:     history,
		RiskState:   riskState,
		Leverage:    leverage,
		Positions:   positions,
		Calculator:  calculator,
		Simulator:   simulator,
		Funding:     fundingService,
		PublishChan: publishChan,
		JournalChan: journalChan,
		ReportChan:  reportChan,
	}, metrics, observability.NewLogger("pipeline"))
	if err != nil {
		log.Fatal().Err(err).Msg("build pipeline")
	}

	// --- Query service + servers ---
	queryService := query.NewService(engine, simulator, positions, markPrices, leverage, db)
	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, queryService, healthChecker, metrics, observability.NewLogger("server"))
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}

	engine.Start()

	errChan := make(chan error, 10)

	// 1. Persistence worker
	if db != nil {
		worker := persistence.NewWorker(db, journalChan, reportChan,
			cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
		go func() {
			errChan <- worker.Run(ctx)
		}()
	}

	// 2. NATS: inbound consumers and outbound report publisher
	var natsSubscriber *ingestion.NATSSubscriber
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
			log.Fatal().Err(err).Msg("ensure market stream")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, log); err != nil {
			log.Fatal().Err(err).Msg("ensure report stream")
		}

		rawEventChan := make(chan ingestion.RawEvent, 4096)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("nats"))
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			log.Fatal().Err(err).Msg("nats subscribe")
		}
		go engine.RunNATSPump(ctx, rawEventChan)

		publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	} else {
		log.Warn().Msg("RISK_NATS_URL not set, report publishing disabled")
		go drainReports(ctx, publishChan)
	}

	// 3. Binance feed: websocket streams plus REST pollers
	if cfg.FeedEnabled {
		wsClient := feed.NewWSClient(feedCfg, engine, observability.NewLogger("binance_ws"))
		go func() {
			errChan <- wsClient.Run(ctx)
		}()

		oiPoller := feed.NewOIPoller(restClient, engine, feedCfg, observability.NewLogger("oi_poller"))
		go func() {
			errChan <- oiPoller.Run(ctx)
		}()

		go func() {
			errChan <- fundingService.Run(ctx)
		}()
	}

	// 4. gRPC + HTTP servers
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()

	healthChecker.SetReady(true)
	log.Info().
		Strs("symbols", cfg.Symbols).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Bool("postgres", db != nil).
		Bool("nats", cfg.NATSURL != "").
		Msg("risk engine ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()

	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}

	// Stop the rings after producers are gone so consumers drain the tail.
	engine.Stop()

	if journalChan != nil {
		close(journalChan)
	}
	if reportChan != nil {
		close(reportChan)
	}

	log.Info().Msg("risk engine shutdown complete")
}

// drainReports discards broadcast reports when no NATS publisher is wired.
func drainReports(ctx context.Context, ch <-chan ingestion.PublishableReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBoolOrDefault(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envFloatOrDefault(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDurOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
