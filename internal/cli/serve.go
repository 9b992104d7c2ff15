package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/executor"
	"github.com/teslashibe/go-voicenav/pkg/hub"
	"github.com/teslashibe/go-voicenav/pkg/metrics"
	"github.com/teslashibe/go-voicenav/pkg/pipeline"
	"github.com/teslashibe/go-voicenav/pkg/queue"
	"github.com/teslashibe/go-voicenav/pkg/speech"
	"github.com/teslashibe/go-voicenav/pkg/web"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline with the HTTP API and page bridge",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.L()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cl closers
	defer func() {
		if cerr := cl.close(); cerr != nil {
			logger.Warn("shutdown", "error", cerr)
		}
	}()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	resolverOpts, fb, err := resolverOptions(ctx, cfg, reg, logger, &cl)
	if err != nil {
		return err
	}
	engine, err := newEngine(ctx, cfg, logger, &cl)
	if err != nil {
		return err
	}

	h := hub.New("status", logger)
	bridge := web.NewPageBridge(logger)
	feedback := web.NewFeedbackLog(0)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithEvents(h),
		pipeline.WithSignaler(feedback),
		pipeline.WithCooldownFeedback(cfg.Queue.CooldownFeedback),
		pipeline.WithResolverOptions(resolverOpts...),
		pipeline.WithQueueOptions(queue.WithCooldown(cfg.Queue.Cooldown)),
		pipeline.WithSpeechOptions(speech.WithInterruptReads(cfg.Speech.InterruptReads)),
		pipeline.WithExecutorOptions(
			executor.WithSpokenConfirmations(cfg.Executor.SpokenConfirmations),
			executor.WithConfirmTTL(cfg.Executor.ConfirmTTL),
			executor.WithGraceDelay(cfg.Speech.GraceDelay),
			executor.WithMaxChunk(cfg.Speech.MaxChunk),
		),
	}
	if fb != nil {
		opts = append(opts, pipeline.WithFallback(fb))
	}

	p, err := pipeline.New(reg, bridge, engine, opts...)
	if err != nil {
		return err
	}
	cl.add(p.Close)
	p.Start(ctx)

	if cfg.NATS.URL != "" {
		src, err := pipeline.ConnectNATS(ctx, cfg.NATS.URL, p, logger)
		if err != nil {
			return err
		}
		cl.add(src.Close)
		if err := src.Subscribe(cfg.NATS.Subject); err != nil {
			return err
		}
	}

	srv := web.NewServer(cfg.HTTP.Addr, p,
		web.WithHub(h),
		web.WithBridge(bridge),
		web.WithFeedback(feedback),
		web.WithGatherer(promReg),
		web.WithLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
