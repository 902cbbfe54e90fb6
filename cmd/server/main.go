package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"venue/api/feed"
	"venue/api/grpcserver"
	"venue/config"
	"venue/domain/registry"
	"venue/infra/kafka"
	"venue/infra/logging"
	"venue/infra/sequence"
	entrywal "venue/infra/wal/entry"
	exitwal "venue/infra/wal/exit"
	"venue/jobs/broadcaster"
	"venue/service"
	"venue/snapshot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	backpressure, err := service.ParseBackpressure(cfg.Engine.Backpressure)
	if err != nil {
		return err
	}

	// ---------------- Entry WAL ----------------

	journal, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.Storage.WALDir(),
		SegmentSize:     cfg.Storage.SegmentSize,
		SegmentDuration: cfg.Storage.SegmentDuration,
		Sync:            cfg.Storage.Sync,
	}, logger)
	if err != nil {
		return fmt.Errorf("entry wal: %w", err)
	}
	defer func() { err = errors.Join(err, journal.Close()) }()

	// ---------------- Exit WAL ----------------

	outbox, err := exitwal.Open(cfg.Storage.OutboxDir(), exitwal.Options{Sync: cfg.Storage.Sync}, logger)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	defer func() { err = errors.Join(err, outbox.Close()) }()

	// ---------------- Engine ----------------

	tracker := service.NewTracker()
	sinks := service.Sinks{outbox, tracker}

	var marketFeed *feed.Feed
	if cfg.Feed.Enabled {
		marketFeed = feed.New(cfg.Engine.TickSize, cfg.Feed.SendBuffer, logger)
		sinks = append(sinks, marketFeed)
	}

	engine := service.New(service.Options{
		QueueSize:    cfg.Engine.QueueSize,
		Backpressure: backpressure,
		Verify:       cfg.Engine.Verify,
	}, service.Deps{
		Books:   registry.New(),
		Seq:     sequence.New(0),
		Sink:    sinks,
		Journal: journal,
		Log:     logger,
	})

	// ---------------- Recovery ----------------

	published, err := outbox.LastSeq()
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	if _, err := engine.Recover(service.ReplayOptions{
		SnapshotDir:    cfg.Storage.SnapshotDir(),
		WALDir:         cfg.Storage.WALDir(),
		Redeliver:      outbox,
		RedeliverAfter: published,
		SeqFloor:       published,
	}); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	for _, s := range cfg.Engine.Symbols {
		if err := engine.Register(ctx, s); err != nil {
			return err
		}
	}

	// The engine outlives ctx so shutdown can take a final snapshot.
	if err := engine.Start(context.Background()); err != nil {
		return err
	}
	defer engine.Stop()

	// ---------------- Background Jobs ----------------

	var jobs sync.WaitGroup

	snapJob := &service.SnapshotJob{
		Engine:   engine,
		Writer:   &snapshot.Writer{Dir: cfg.Storage.SnapshotDir(), Keep: cfg.Storage.SnapshotKeep},
		Journal:  journal,
		Outbox:   outbox,
		Interval: cfg.Storage.SnapshotInterval,
		Log:      logger.Named("snapshot"),
	}
	if snapJob.Interval > 0 {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			snapJob.Run(ctx)
		}()
	}

	var bc *broadcaster.Broadcaster
	if cfg.Kafka.Enabled {
		pub, err := newPublisher(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("publisher: %w", err)
		}
		bc = broadcaster.New(outbox, pub, broadcaster.Config{
			Interval:   cfg.Kafka.Interval,
			MaxRetries: uint32(cfg.Kafka.MaxRetries),
		}, logger)
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			bc.Run(ctx)
		}()
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcSrv := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageSize),
	)
	grpcserver.Register(grpcSrv, grpcserver.NewServer(engine, tracker, cfg.Engine.TickSize, logger))

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		serveErr <- grpcSrv.Serve(lis)
	}()

	// ---------------- Feed ----------------

	var httpSrv *http.Server
	if marketFeed != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Feed.Path, marketFeed)
		httpSrv = &http.Server{
			Addr:              cfg.Feed.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("feed listening", zap.String("addr", cfg.Feed.Addr), zap.String("path", cfg.Feed.Path))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serveErr:
		logger.Error("listener failed", zap.Error(runErr))
	}

	// ---------------- Shutdown ----------------

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("feed shutdown", zap.Error(err))
		}
		marketFeed.Close()
	}

	jobs.Wait()

	if seq, err := snapJob.TakeOnce(shutdownCtx); err != nil {
		logger.Warn("final snapshot failed", zap.Error(err))
	} else {
		logger.Info("final snapshot", zap.Uint64("seq", seq))
	}

	engine.Stop()

	if bc != nil {
		if n, err := bc.DrainOnce(shutdownCtx); err != nil {
			logger.Warn("final drain failed", zap.Error(err))
		} else {
			logger.Info("final drain", zap.Int("delivered", n))
		}
		if err := bc.Close(); err != nil {
			logger.Warn("publisher close", zap.Error(err))
		}
	}
	return runErr
}

func newPublisher(cfg config.KafkaConfig) (broadcaster.Publisher, error) {
	switch cfg.Client {
	case "kafka-go":
		return kafka.NewProducer(cfg.Brokers, cfg.Topic), nil
	default:
		return broadcaster.NewSaramaPublisher(cfg.Brokers, cfg.Topic)
	}
}
