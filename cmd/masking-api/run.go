package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	apiserver "github.com/safemasking/masking-api/internal/api_server"
	"github.com/safemasking/masking-api/internal/blob"
	"github.com/safemasking/masking-api/internal/config"
	"github.com/safemasking/masking-api/internal/events"
	"github.com/safemasking/masking-api/internal/service"
	"github.com/safemasking/masking-api/internal/store/model"
	"github.com/safemasking/masking-api/internal/worker"
	"github.com/safemasking/masking-api/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the masking api",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		logger := zap.S().Named("masking_api")
		logger.Info("Starting API service")
		defer logger.Info("API service stopped")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if err := a.migrate(ctx); err != nil {
			return err
		}

		issuer, err := newIssuer(ctx, a.cfg.Service.S3)
		if err != nil {
			return err
		}

		producer, err := newEventProducer(a.cfg.Service.Kafka)
		if err != nil {
			return err
		}
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Errorw("failed to close event producer", "error", err)
			}
		}()

		workerClient := worker.NewHTTPClient(a.cfg.Service.Worker.URL, a.cfg.Service.Worker.Timeout)

		jobsCfg := a.cfg.Service.Jobs
		dispatcher := service.NewDispatcher(
			service.DispatcherConfig{
				CallbackURL:    strings.TrimSuffix(a.cfg.Service.BaseUrl, "/") + "/api/v1/jobs/callback",
				DownloadURLTTL: jobsCfg.DownloadURLTTL,
				ResultURLTTL:   jobsCfg.ResultUploadURLTTL,
				Timeout:        a.cfg.Service.Worker.Timeout,
				MaxConcurrent:  a.cfg.Service.Worker.MaxConcurrentDispatch,
			},
			workerClient,
			issuer,
			a.store,
			producer,
		)
		dispatcher.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := dispatcher.Stop(stopCtx); err != nil {
				logger.Errorw("failed to drain dispatcher", "error", err)
			}
		}()

		jobSrv := service.NewJobService(a.store, issuer, dispatcher, producer, jobsCfg)

		statuses := []string{
			model.JobStatusUploaded.String(),
			model.JobStatusProcessing.String(),
			model.JobStatusCompleted.String(),
			model.JobStatusFailed.String(),
		}
		if err := metrics.RegisterJobStatusCollector(jobSrv, statuses); err != nil {
			return fmt.Errorf("registering job collector: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			service.NewReaper(a.store, producer, jobsCfg.ReaperInterval, jobsCfg.ProcessingTimeout).Run(gctx)
			return nil
		})

		g.Go(func() error {
			listener, err := newListener(a.cfg.Service.Address)
			if err != nil {
				return fmt.Errorf("creating listener: %w", err)
			}
			return apiserver.New(a.cfg, a.store, jobSrv, listener).Run(gctx)
		})

		g.Go(func() error {
			listener, err := newListener(a.cfg.Service.MetricsAddress)
			if err != nil {
				return fmt.Errorf("creating metrics listener: %w", err)
			}
			return apiserver.NewMetricServer(a.cfg.Service.MetricsAddress, listener,
				apiserver.ReadinessCheck{Name: "database", Check: a.store.Ping},
				apiserver.ReadinessCheck{Name: "worker", Check: workerClient.HealthCheck},
			).Run(gctx)
		})

		return g.Wait()
	},
}

func newIssuer(ctx context.Context, cfg config.S3) (*blob.MinioIssuer, error) {
	issuer, err := blob.NewMinioIssuer(
		blob.WithEndpoint(cfg.Endpoint),
		blob.WithBucket(cfg.Bucket),
		blob.WithAccessKey(cfg.AccessKey),
		blob.WithSecretKey(cfg.SecretKey),
		blob.WithRegion(cfg.Region),
		blob.WithSSL(cfg.UseSSL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating blob issuer: %w", err)
	}

	if err := issuer.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensuring bucket %q: %w", cfg.Bucket, err)
	}
	return issuer, nil
}

func newEventProducer(cfg config.Kafka) (*events.EventProducer, error) {
	var writer events.Writer = &events.StdoutWriter{}
	if len(cfg.Brokers) > 0 {
		kw, err := events.NewKafkaWriter(cfg.Brokers, cfg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("creating kafka writer: %w", err)
		}
		writer = kw
	}
	return events.NewEventProducer(writer, events.WithOutputTopic(cfg.Topic)), nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
