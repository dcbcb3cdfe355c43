package main

import (
	"context"
	"encoding/json"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/redis/go-redis/v9"

	"github.com/transloadr/transloader/pkg/config"
	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/notify"
	"github.com/transloadr/transloader/pkg/notify/notifyconsole"
	"github.com/transloadr/transloader/pkg/notify/notifyses"
	"github.com/transloadr/transloader/pkg/queuex"
	"github.com/transloadr/transloader/pkg/queuex/queuexredis"
	"github.com/transloadr/transloader/pkg/transfer"
	"github.com/transloadr/transloader/pkg/transfer/engine"
	"github.com/transloadr/transloader/pkg/transfer/engine/aria2"
	"github.com/transloadr/transloader/pkg/transfer/engine/httpstream"
	"github.com/transloadr/transloader/pkg/transfer/transferinfra"
)

// Container holds every wired dependency of the service.
type Container struct {
	Config *config.Config

	// Infrastructure
	Redis       *redis.Client
	S3Client    *s3.Client
	Aria2Client *aria2.Client

	// Queue
	Queue   *queuexredis.RedisQueue
	Workers *queuex.Client

	// Transfer module
	Store    transfer.RecordStore
	Uploader transfer.Uploader
	Selector *engine.Selector
	Pipeline *transfer.Pipeline
	Service  *transfer.Service
	Handlers *transfer.Handlers
	Notifier notify.Notifier
}

// NewContainer wires the application.
func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initTransfer()
	c.initWorkers()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure: Redis, AWS clients, download engines
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err := c.Redis.Ping(context.Background()).Err(); err != nil {
		logx.Fatalf("Unable to connect to Redis at %s: %v", c.Config.Redis.Address(), err)
	}
	logx.Infof("  ✅ Redis connected (%s)", c.Config.Redis.Address())

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(c.Config.Storage.Region),
	)
	if err != nil {
		logx.Fatalf("Unable to load AWS SDK config: %v", err)
	}
	c.S3Client = s3.NewFromConfig(awsCfg)
	logx.Infof("  ✅ S3 client configured (bucket: %s, region: %s)",
		c.Config.Storage.Bucket, c.Config.Storage.Region)

	c.Aria2Client = aria2.NewClient(c.Config.Aria2.RPCURL, c.Config.Aria2.RPCSecret, nil)
	logx.Infof("  ✅ aria2 RPC client configured (%s)", c.Config.Aria2.RPCURL)

	switch c.Config.Notify.Provider {
	case "ses":
		sesCfg := awsCfg
		if c.Config.Notify.AWSRegion != c.Config.Storage.Region {
			sesCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
				awsconfig.WithRegion(c.Config.Notify.AWSRegion),
			)
			if err != nil {
				logx.Fatalf("Unable to load AWS SDK config for SES: %v", err)
			}
		}
		c.Notifier = notifyses.New(ses.NewFromConfig(sesCfg),
			c.Config.Notify.FromAddress, c.Config.Notify.ToAddress)
		logx.Info("  ✅ SES notifier configured")
	default:
		c.Notifier = notifyconsole.New()
		logx.Info("  ✅ Console notifier configured")
	}
}

// ---------------------------------------------------------------------------
// Transfer module
// ---------------------------------------------------------------------------

func (c *Container) initTransfer() {
	logx.Info("📦 Initializing transfer module...")

	tc := c.Config.Transfer

	primary := aria2.New(c.Aria2Client, aria2.Options{
		MaxConnections: c.Config.Aria2.MaxConnections,
		Split:          c.Config.Aria2.Split,
	})
	fallback := httpstream.New(&http.Client{Timeout: tc.DownloadTimeout}, tc.MaxFileSize)
	c.Selector = engine.NewSelector(primary, fallback, tc.ProbeTimeout)

	validator := transfer.NewValidator(nil, c.Selector,
		&http.Client{Timeout: tc.ProbeTimeout}, tc.MaxFileSize)
	cleaner := transfer.NewCleaner(tc.StagingDir)

	c.Store = transferinfra.NewRedisStore(c.Redis, tc.RecordTTL)
	c.Uploader = transferinfra.NewS3Uploader(c.S3Client,
		c.Config.Storage.Bucket, c.Config.Storage.Prefix)

	c.Pipeline = transfer.NewPipeline(
		c.Store, validator, c.Selector, c.Uploader, cleaner, c.Notifier,
		transfer.PipelineConfig{
			Retry: transfer.RetryPolicy{
				MaxAttempts: tc.MaxAttempts,
				BaseDelay:   tc.RetryBaseDelay,
				MaxDelay:    tc.RetryMaxDelay,
			},
			DownloadTimeout: tc.DownloadTimeout,
			JobTimeout:      tc.JobTimeout,
			PollInterval:    tc.PollInterval,
		},
	)

	c.Queue = queuexredis.NewRedisQueue(c.Redis)
	workerClient := queuex.NewClient(c.Queue,
		queuex.WithQueues(c.Config.Queue.Queues...),
		queuex.WithConcurrency(c.Config.Queue.Concurrency),
		queuex.WithPollInterval(c.Config.Queue.PollInterval),
		queuex.WithShutdownTimeout(c.Config.Queue.ShutdownTimeout),
		queuex.WithDequeueTimeout(c.Config.Queue.DequeueTimeout),
		queuex.WithRedeliveryDelay(c.Config.Queue.RedeliveryDelay),
	)
	c.Workers = workerClient

	c.Service = transfer.NewService(c.Store, workerClient, cleaner, transfer.ServiceConfig{
		Queue:             c.Config.Queue.Queues[0],
		MaxDeliveries:     tc.MaxAttempts,
		CancelGracePeriod: tc.CancelGracePeriod,
	})
	c.Handlers = transfer.NewHandlers(c.Service)

	logx.Info("  ✅ Transfer module wired")
}

// ---------------------------------------------------------------------------
// Workers
// ---------------------------------------------------------------------------

func (c *Container) initWorkers() {
	c.Workers.Register(transfer.TaskTypeProcess, func(ctx context.Context, task *queuex.TaskInfo) error {
		var payload transfer.ProcessPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			// A payload that never decodes will never decode; drop it.
			logx.WithError(err).WithField("task_id", task.ID).Error("worker: undecodable payload")
			return nil
		}
		return c.Pipeline.Process(ctx, payload.JobID, task.Deliveries >= task.MaxDeliveries)
	})
}

// StartBackgroundServices launches the queue workers.
func (c *Container) StartBackgroundServices(ctx context.Context) {
	go func() {
		if err := c.Workers.Start(ctx); err != nil {
			logx.WithError(err).Error("worker pool stopped with error")
		}
	}()
	logx.Infof("✅ Background workers started (concurrency: %d)", c.Config.Queue.Concurrency)
}

// Cleanup releases held connections.
func (c *Container) Cleanup() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.WithError(err).Warn("closing Redis connection failed")
		}
	}
}
