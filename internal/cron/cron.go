package cron

import (
	"context"
	"os"
	"sync"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailpilot/mailpilot/config"
	"github.com/mailpilot/mailpilot/interfaces"
	cron_config "github.com/mailpilot/mailpilot/internal/cron/config"
	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tracing"
)

// CONSTANTS
const (
	// GroupPolling serializes jobs that touch IMAP connections
	GroupPolling = "polling"
	// GroupPipeline serializes jobs that drive the reply pipeline
	GroupPipeline = "pipeline"

	staleBatchSize = 50
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupPolling:  new(sync.Mutex),
		GroupPipeline: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	imap     interfaces.IMAPService
	pipeline interfaces.ReplyPipeline
	repos    *repository.Repositories
}

func NewCronManager(cfg *config.Config, log logger.Logger, imap interfaces.IMAPService, pipeline interfaces.ReplyPipeline, repos *repository.Repositories) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		imap:     imap,
		pipeline: pipeline,
		repos:    repos,
	}
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	// Load cron config from environment variables
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	// Register heartbeat job
	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	// Account poll sweep
	if cronConfig.CronSchedulePollAccounts != "" {
		id, err := c.AddFunc(cronConfig.CronSchedulePollAccounts, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupPolling].Lock()
			defer jobLocks.locks[GroupPolling].Unlock()
			cm.pollAccounts()
		})
		if err != nil {
			cm.log.Fatalf("Could not add account poll cron job: %v", err)
		}
		cm.jobIDs["poll_accounts"] = id
		cm.log.Infof("Registered account poll job with schedule: %s", cronConfig.CronSchedulePollAccounts)
	}

	// Recovery sweep for unprocessed messages
	if cronConfig.CronScheduleProcessStale != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleProcessStale, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupPipeline].Lock()
			defer jobLocks.locks[GroupPipeline].Unlock()
			cm.processStaleMessages()
		})
		if err != nil {
			cm.log.Fatalf("Could not add stale message cron job: %v", err)
		}
		cm.jobIDs["process_stale"] = id
		cm.log.Infof("Registered stale message job with schedule: %s", cronConfig.CronScheduleProcessStale)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger), // Skip if still running
			cronv3.Recover(cronv3.DefaultLogger),            // Default recovery as backup
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) pollAccounts() {
	cm.log.Info("Running account poll sweep")

	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.pollAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := cm.imap.PollAll(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Account poll sweep failed: %v", err)
		return
	}

	cm.log.Info("Completed account poll sweep")
}

// processStaleMessages picks up messages that were stored but whose pipeline
// dispatch was lost, typically to a crash between ingestion and processing.
func (cm *CronManager) processStaleMessages() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.processStaleMessages")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	messages, err := cm.repos.MessageRepository.ListByStatus(ctx, enum.MessageStatusNew, staleBatchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list unprocessed messages: %v", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	cm.log.Infof("Reprocessing %d unprocessed messages", len(messages))
	for _, message := range messages {
		if err := cm.pipeline.Process(ctx, message.ID); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to process message %s: %v", message.ID, err)
		}
	}
}
