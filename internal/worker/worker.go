// Package worker executes run requests received from the EventBus.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/liquidity/internal/bus"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/metrics"
)

// Worker results counted in metrics.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// Worker processes run requests asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	runner *Runner

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, runner *Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing run requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes to run requests of every tenant.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.SubscribeAll(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	slog.Info("global worker started", "topic", domain.TopicRunRequested)
	return nil
}

// startTenantWorker subscribes to run requests of one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicRunRequested,
	)

	return nil
}

func (w *Worker) addSubscription(sub domain.Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscriptions = append(w.subscriptions, sub)
}

// handleMessage executes one run request and publishes its outcome.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.RunRequestedMessage
	if err := bus.DecodePayload(msg, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The bus tenant is authoritative.
	tenantID := msg.TenantID
	if tenantID == "" {
		tenantID = req.TenantID
	}
	req.TenantID = tenantID

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	reportingDate, err := domain.ParseReportingDate(req.ReportingDate)
	if err != nil {
		return w.publishFailure(ctx, req, err)
	}

	slog.Debug("processing run request",
		"tenant_id", tenantID,
		"submission_id", req.SubmissionID,
		"ratio", req.Ratio,
		"trace_id", traceID,
	)

	run, err := w.runner.Execute(ctx, Request{
		TenantID:      tenantID,
		SubmissionID:  req.SubmissionID,
		ReportingDate: reportingDate,
		Ratio:         req.Ratio,
		TraceID:       traceID,
	})
	if err != nil {
		return w.publishFailure(ctx, req, err)
	}

	res := run.Result
	completed := domain.RunCompletedMessage{
		RunID:         res.RunID,
		TenantID:      tenantID,
		SubmissionID:  res.SubmissionID,
		ReportingDate: res.ReportingDate.Format(domain.DateLayout),
		Ratio:         res.Ratio,
		Status:        res.Status,
		RatioValue:    res.RatioValue,
		ReasonCode:    res.ReasonCode,
	}
	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicRunCompleted, completed); err != nil {
		slog.Error("failed to publish run completion",
			"run_id", res.RunID,
			"error", err,
		)
	}

	metrics.IncWorkerRun(ResultCompleted)
	return nil
}

// publishFailure reports a request that produced no run.
func (w *Worker) publishFailure(ctx context.Context, req domain.RunRequestedMessage, cause error) error {
	slog.Error("run request failed",
		"tenant_id", req.TenantID,
		"submission_id", req.SubmissionID,
		"ratio", req.Ratio,
		"error", cause,
	)

	failed := domain.RunFailedMessage{
		TenantID:      req.TenantID,
		SubmissionID:  req.SubmissionID,
		ReportingDate: req.ReportingDate,
		Ratio:         req.Ratio,
		Error:         cause.Error(),
	}
	if err := bus.PublishJSON(ctx, w.bus, req.TenantID, domain.TopicRunFailed, failed); err != nil {
		slog.Error("failed to publish run failure",
			"submission_id", req.SubmissionID,
			"error", err,
		)
	}

	metrics.IncWorkerRun(ResultFailed)
	return cause
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
