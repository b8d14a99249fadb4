package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"limitbook/api/grpcserver"
	"limitbook/config"
	"limitbook/domain/orderbook"
	"limitbook/infra/logging"
	"limitbook/infra/metrics"
	entrywal "limitbook/infra/wal/entry"
	exitwal "limitbook/infra/wal/exit"
	"limitbook/jobs/broadcaster"
	"limitbook/service"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Replay the journal and serve orders over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer log.AtExit()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ---------------- Entry WAL ----------------

	journal, err := entrywal.Open(log, cfg.Journal)
	if err != nil {
		return errors.Wrap(err, "entry WAL init failed")
	}
	defer journal.Close()

	// ---------------- Exit WAL ----------------

	outbox, err := exitwal.Open(log, cfg.Outbox.Dir)
	if err != nil {
		return errors.Wrap(err, "exit WAL init failed")
	}
	defer outbox.Close()

	// ---------------- Domain + replay ----------------

	market := orderbook.NewMarket(log, cfg.Engine)
	svc, err := service.NewOrderService(log, market, journal, outbox, m)
	if err != nil {
		return err
	}
	if _, err := svc.ReplayFromWAL(cfg.Journal.Dir); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// ---------------- Broadcaster ----------------

	if cfg.Broadcast.Enabled {
		pub, err := broadcaster.NewPublisher(cfg.Broadcast)
		if err != nil {
			return err
		}
		bc := broadcaster.New(log, cfg.Broadcast, outbox, pub, m)
		defer bc.Close()
		g.Go(func() error { return bc.Run(gctx) })
	}

	// ---------------- Metrics ----------------

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	srv := grpcserver.NewGRPCServer(log, svc)

	g.Go(func() error {
		log.Info("gRPC listening", zap.String("addr", cfg.GRPC.Addr))
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cfg.GRPC.ShutdownTimeout):
			log.Warn("graceful stop timed out")
			srv.Stop()
		}
		return nil
	})

	err = g.Wait()
	log.Info("engine stopped", zap.Uint64("journal_seq", journal.LastSeq()))
	return err
}
