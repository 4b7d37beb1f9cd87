package di

import (
	"context"
	"fmt"
	"io"

	"Heimdall/internal/domain/repository"
	domsvc "Heimdall/internal/domain/service"
	"Heimdall/internal/handler/api"
	mid "Heimdall/internal/middleware"
	internalrepo "Heimdall/internal/repository"
	icache "Heimdall/internal/service/cache"
	svcmetrics "Heimdall/internal/service/metrics"
	"Heimdall/internal/service/ratelimit"
	"Heimdall/internal/service/realtime"
	"Heimdall/internal/service/txstream"
	"Heimdall/internal/services/chat"
	"Heimdall/internal/services/csvdata"
	"Heimdall/internal/services/detector"
	"Heimdall/internal/services/history"
	"Heimdall/internal/usecase"
	pkgcache "Heimdall/pkg/cache"
	pkgch "Heimdall/pkg/clickhouse"
	"Heimdall/pkg/config"
	xhttp "Heimdall/pkg/http"
	pkgkafka "Heimdall/pkg/kafka"
	applogger "Heimdall/pkg/logger"
	pkgmetrics "Heimdall/pkg/metrics"
	"Heimdall/pkg/server"
)

// Disabled backends are returned as untyped nil so consumers can compare interfaces against nil.

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRecorder registers the shared collectors on the default registry,
// which the Kafka client metrics and /metrics also use.
func ProvideRecorder() *pkgmetrics.Recorder {
	return pkgmetrics.New(nil)
}

func ProvideFraudMetrics(rec *pkgmetrics.Recorder) *svcmetrics.FraudMetrics {
	return svcmetrics.NewFraudMetrics(rec)
}

func ProvideMetrics(m *svcmetrics.FraudMetrics) repository.Metrics {
	return m
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		l.Info("redis disabled, using memory cache")
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Redis.MemoryMax)), nil
	}
	c, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, cfg.Redis.DialTimeout),
		pkgcache.WithRedisDialTimeout(cfg.Redis.DialTimeout),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	l.Info("redis connected", applogger.String("host", cfg.Redis.Host), applogger.Int("port", cfg.Redis.Port))
	return c, nil
}

func ProvideSnapshotStore(c pkgcache.Service, cfg *config.Config) repository.SnapshotStore {
	return internalrepo.NewCacheSnapshotStore(c, cfg.Detector.SnapshotKey)
}

func ProvideHistoryStore(snaps repository.SnapshotStore, metrics repository.Metrics, l *applogger.Logger, cfg *config.Config) *history.Store {
	return history.NewStore(snaps, l,
		history.WithCapacity(cfg.Detector.WindowSize),
		history.WithSnapshotSize(cfg.Detector.SnapshotSize),
		history.WithPersistTimeout(cfg.Detector.PersistTimeout),
		history.WithMetrics(metrics),
	)
}

func ProvideAnalyzer(cfg *config.Config) domsvc.Analyzer {
	return detector.NewAnalyzer(detector.WithMinHistory(cfg.Detector.MinHistory))
}

func ProvideAggregator(cfg *config.Config) *usecase.RealtimeAggregator {
	return usecase.NewRealtimeAggregator(cfg.Realtime.BatchSize, cfg.Realtime.WindowMinutes, cfg.Realtime.TopAlerts)
}

func ProvideHub(cfg *config.Config, rec *pkgmetrics.Recorder, l *applogger.Logger) *realtime.Hub {
	return realtime.NewHub(l,
		realtime.WithMaxClients(cfg.Realtime.MaxClients),
		realtime.WithClientGauge(rec.WSClients()),
		realtime.WithAllowedOrigins(cfg.Server.CORSOrigins),
	)
}

// ProvideClickHouseClient connects and creates the analysis table. Nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxConnections, cfg.ClickHouse.MaxConnections/2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.InitSchema {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.ReadTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.AnalysisSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func ProvideStorage(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.Storage {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseStorage(ch.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table, l)
}

// ProvideKafkaProducer builds the analysis producer. Nil without an analysis topic.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Kafka.AnalysisTopic == "" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvidePublisher(p *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if p == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(p, cfg.Kafka.AnalysisTopic)
}

func ProvideSink(pub repository.Publisher, store repository.Storage, metrics repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.AnalysisSink {
	return usecase.NewAnalysisSink(pub, store, metrics, l, cfg.Sink.BatchSize, cfg.Sink.BatchTimeout, cfg.Sink.QueueSize)
}

func ProvideMonitor(
	store *history.Store,
	analyzer domsvc.Analyzer,
	agg *usecase.RealtimeAggregator,
	metrics repository.Metrics,
	hub *realtime.Hub,
	sink *usecase.AnalysisSink,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.FraudMonitor {
	return usecase.NewFraudMonitor(store, analyzer, agg, metrics, l, cfg.Detector.MinHistory,
		usecase.WithBroadcaster(hub),
		usecase.WithSink(sink),
		usecase.WithRecentCapacity(cfg.Detector.RecentResults),
	)
}

func ProvidePipeline(monitor *usecase.FraudMonitor, metrics repository.Metrics, cfg *config.Config) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(monitor, metrics, mid.WithMaxRPS(cfg.Pipeline.MaxRPS))
}

// ProvideStream selects the push source. Kafka and none have no stream.
func ProvideStream(cfg *config.Config, l *applogger.Logger) repository.TransactionStream {
	switch cfg.Stream.Source {
	case "ws":
		return txstream.NewWSClient(cfg.Stream.WSURL, cfg.Stream.ReconnectDelay, cfg.Stream.PingInterval, l)
	case "csv":
		return txstream.NewCSVReplay(cfg.Stream.CSVPath, cfg.Stream.ReplayInterval, l)
	default:
		return nil
	}
}

func ProvideCollector(stream repository.TransactionStream, pipe *mid.RealtimePipeline, metrics repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.TransactionCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewTransactionCollector(stream, pipe, metrics, l, cfg.Stream.ReconnectDelay)
}

// ProvideKafkaConsumer is nil unless transactions arrive over Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Stream.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaHandler feeds the monitor directly; the consumer's worker pool bounds intake.
func ProvideKafkaHandler(monitor *usecase.FraudMonitor, metrics repository.Metrics, cfg *config.Config) *usecase.KafkaTransactionsHandler {
	return usecase.NewKafkaTransactionsHandler(cfg.Kafka.TransactionsTopic, monitor, metrics)
}

func ProvideChatForwarder(monitor *usecase.FraudMonitor, l *applogger.Logger, cfg *config.Config) domsvc.ChatForwarder {
	return chat.NewForwarder(cfg.Chat.Endpoint, cfg.Chat.Timeout, monitor, l, chat.WithAttempts(cfg.Chat.Attempts))
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Chat.Burst, cfg.Chat.PerSecond, ratelimit.DefaultIdleTTL)
}

// ProvidePageCache shares CSV pages through Redis when it is enabled.
func ProvidePageCache(c pkgcache.Service, cfg *config.Config) icache.BytesCache {
	if cfg.Redis.Enabled {
		return icache.NewServiceCache(c, cfg.Redis.DialTimeout)
	}
	return icache.NewTTLCache(cfg.Redis.MemoryMax)
}

func ProvideCSVData(pages icache.BytesCache, l *applogger.Logger, cfg *config.Config) (*csvdata.Service, error) {
	svc, err := csvdata.NewService(cfg.Data.Root, l,
		csvdata.WithPageCache(pages, cfg.Data.CacheTTL),
		csvdata.WithMaxLimit(cfg.Data.MaxRows),
	)
	if err != nil {
		return nil, fmt.Errorf("csv data: %w", err)
	}
	return svc, nil
}

func ProvideHandlers(
	monitor *usecase.FraudMonitor,
	data *csvdata.Service,
	forwarder domsvc.ChatForwarder,
	limiter *ratelimit.Limiter,
	hub *realtime.Hub,
	l *applogger.Logger,
) []xhttp.Handler {
	return []xhttp.Handler{
		api.NewFraudHandler(monitor, l),
		api.NewDataHandler(data, l),
		api.NewChatHandler(forwarder, limiter, l),
		api.NewStreamHandler(hub),
	}
}

func ProvideHTTPServer(handlers []xhttp.Handler, l *applogger.Logger, cfg *config.Config) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
	}
	path := cfg.Metrics.Path
	if !cfg.Metrics.Enabled {
		path = ""
	}
	opts = append(opts, xhttp.WithMetricsPath(path))
	return xhttp.NewServer(l, handlers, opts...)
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	monitor *usecase.FraudMonitor,
	hub *realtime.Hub,
	sink *usecase.AnalysisSink,
	collector *usecase.TransactionCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTransactionsHandler,
	limiter *ratelimit.Limiter,
	srv *xhttp.Server,
	c pkgcache.Service,
	ch *pkgch.Client,
) *server.App {
	closers := []io.Closer{c}
	if ch != nil {
		closers = append(closers, ch)
	}
	comps := server.Components{
		Monitor:   monitor,
		Hub:       hub,
		Sink:      sink,
		Collector: collector,
		Limiter:   limiter,
		HTTP:      srv,
		Closers:   closers,
	}
	if consumer != nil {
		comps.Consumer = consumer
		comps.Handler = kh
	}
	return server.New(cfg, l, comps)
}
