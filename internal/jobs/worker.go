package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"leadrelay_backend/internal/relay"
	"leadrelay_backend/platform/apperr"
	"leadrelay_backend/platform/config"
	"leadrelay_backend/platform/logger"
)

// Worker processes deferred lead tasks against the relay service.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates the dequeue side of the reprocess queue.
func NewWorker(cfg config.JobsConfig, service *relay.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, errors.New("worker requires REDIS_URL")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{QueueLeads: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskLeadReprocess, reprocessHandler(service, log))

	return &Worker{server: server, mux: mux}, nil
}

func reprocessHandler(service *relay.Service, log *logger.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		taskLog := log
		if taskID, ok := asynq.GetTaskID(ctx); ok {
			taskLog = taskLog.WithRequestID(taskID)
		}

		var lead relay.Lead
		if err := json.Unmarshal(task.Payload(), &lead); err != nil {
			// A malformed payload can never succeed.
			return fmt.Errorf("decode lead payload: %v: %w", err, asynq.SkipRetry)
		}

		result, err := service.Process(ctx, lead)
		if err != nil {
			// The service already re-enqueued transient failures with a
			// bumped attempt counter; asynq itself must not also retry.
			if apperr.Is(err, apperr.KindUpstream) {
				taskLog.Warn("lead reprocess failed upstream",
					"origin_lead_id", lead.OriginLeadID,
					"attempt", lead.Attempt,
					"error", err.Error())
				return nil
			}
			return fmt.Errorf("reprocess lead: %v: %w", err, asynq.SkipRetry)
		}

		taskLog.Info("lead reprocessed",
			"origin_lead_id", lead.OriginLeadID,
			"attempt", lead.Attempt,
			"outcome", result.Outcome.String())
		return nil
	}
}

// Run blocks serving tasks until Shutdown.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the worker gracefully.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
