package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"leadrelay_backend/internal/relay"
	"leadrelay_backend/platform/config"
	"leadrelay_backend/platform/logger"
)

// Client enqueues lead reprocess tasks. Without a Redis URL it is inert:
// ScheduleReprocess becomes a logged no-op so the relay can run without a
// queue in small deployments.
type Client struct {
	client      *asynq.Client
	maxAttempts int
	log         *logger.Logger
}

// NewClient creates the enqueue side of the reprocess queue.
func NewClient(cfg config.JobsConfig, log *logger.Logger) (*Client, error) {
	c := &Client{maxAttempts: cfg.GetReprocessMaxAttempts(), log: log}

	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return c, nil
	}

	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	c.client = asynq.NewClient(opt)
	return c, nil
}

// ScheduleReprocess enqueues the lead for a delayed retry. The delay grows
// with the attempt counter; leads past the attempt budget are dropped.
func (c *Client) ScheduleReprocess(ctx context.Context, lead relay.Lead) error {
	if c == nil || c.client == nil {
		return nil
	}
	if lead.Attempt > c.maxAttempts {
		c.log.Warn("lead reprocess budget exhausted, dropping",
			"origin_lead_id", lead.OriginLeadID,
			"attempt", lead.Attempt)
		return nil
	}

	payload, err := json.Marshal(lead)
	if err != nil {
		return err
	}

	delay := time.Duration(lead.Attempt) * time.Minute
	task := asynq.NewTask(TaskLeadReprocess, payload)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueLeads),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return err
	}

	c.log.Info("lead scheduled for reprocess",
		"task_id", info.ID,
		"attempt", lead.Attempt,
		"delay", delay.String())
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
