package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/config"
	"github.com/nexconsult/cookie-refresher/internal/logger"
	"github.com/nexconsult/cookie-refresher/internal/metrics"
	"github.com/nexconsult/cookie-refresher/internal/models"
	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

// ErrRunInProgress is returned when a refresh is requested while one runs
var ErrRunInProgress = errors.New("a refresh run is already in progress")

// ErrRunNotFound is returned for unknown run IDs
var ErrRunNotFound = errors.New("run not found")

// Triggers
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

const runKeyPrefix = "run:"

// Refresher runs one refresh
type Refresher interface {
	Run(ctx context.Context, in refresh.Input, sink refresh.EventSink) (models.RefreshResult, error)
}

// RunDefaults fill whatever a request leaves out
type RunDefaults struct {
	WebhookURL string
	ProxyURL   string
	Timeout    time.Duration
	// Cookies loads the configured input jar
	Cookies func() ([]models.SessionCookie, error)
}

// RefreshService serialises refresh runs and keeps their records
type RefreshService struct {
	refresher Refresher
	store     ArtifactStore
	defaults  RunDefaults
	logger    *logrus.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running string
	lastRun *models.RunRecord
}

// NewRefreshService creates a refresh service
func NewRefreshService(refresher Refresher, store ArtifactStore, defaults RunDefaults, logger *logrus.Logger) *RefreshService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshService{
		refresher: refresher,
		store:     store,
		defaults:  defaults,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Start launches a run in the background and returns its ID
func (s *RefreshService) Start(trigger string, req models.RefreshRequest) (string, error) {
	runID, err := s.acquire()
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		s.execute(s.baseCtx, runID, trigger, req)
	}()

	return runID, nil
}

// Run performs a run synchronously
func (s *RefreshService) Run(ctx context.Context, trigger string, req models.RefreshRequest) (*models.RunRecord, models.RefreshResult, error) {
	runID, err := s.acquire()
	if err != nil {
		return nil, models.RefreshResult{}, err
	}
	defer s.release()

	return s.execute(ctx, runID, trigger, req)
}

func (s *RefreshService) acquire() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != "" {
		return "", ErrRunInProgress
	}
	s.running = uuid.New().String()
	return s.running, nil
}

func (s *RefreshService) release() {
	s.mu.Lock()
	s.running = ""
	s.mu.Unlock()
}

func (s *RefreshService) execute(ctx context.Context, runID, trigger string, req models.RefreshRequest) (*models.RunRecord, models.RefreshResult, error) {
	entry := logger.WithRun(s.logger, runID, trigger)

	if s.defaults.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.defaults.Timeout)
		defer cancel()
	}

	record := &models.RunRecord{
		RunID:     runID,
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	s.saveRecord(ctx, record)

	in := s.resolveInput(ctx, entry, req)

	recorder := &refresh.Recorder{}
	sink := refresh.MultiSink{refresh.NewLogSink(entry), metrics.NewSink(), recorder}

	result, err := s.refresher.Run(ctx, in, sink)

	finished := time.Now().UTC()
	record.FinishedAt = &finished
	record.DurationMs = finished.Sub(record.StartedAt).Milliseconds()
	record.Status = models.RunStatusSucceeded
	if err != nil {
		record.Status = models.RunStatusFailed
		record.Cause = string(refresh.CauseOf(err))
		record.Error = err.Error()
	}
	for _, state := range recorder.States() {
		record.States = append(record.States, string(state))
	}
	for _, e := range recorder.Events() {
		if acq, ok := e.(refresh.AcquisitionAttempted); ok {
			record.Acquisition = acq.Kind.String()
		}
	}

	s.saveRecord(context.WithoutCancel(ctx), record)

	// An expired jar is never replayed by later runs
	if refresh.CauseOf(err) == refresh.CauseSessionExpired {
		s.forgetSessionJar(context.WithoutCancel(ctx), entry)
	}

	s.mu.Lock()
	s.lastRun = record
	s.mu.Unlock()

	return record, result, err
}

// resolveInput prefers the request, then the jar left by the last
// successful run, then the configured input
func (s *RefreshService) resolveInput(ctx context.Context, entry *logrus.Entry, req models.RefreshRequest) refresh.Input {
	in := refresh.Input{
		Cookies:  req.Cookies,
		Endpoint: req.WebhookURL,
		ProxyURL: req.ProxyURL,
	}
	if in.Endpoint == "" {
		in.Endpoint = s.defaults.WebhookURL
	}
	if in.ProxyURL == "" {
		in.ProxyURL = s.defaults.ProxyURL
	}
	if len(in.Cookies) > 0 {
		return in
	}

	if artifact, err := s.store.Get(ctx, refresh.KeyLastSessionJar); err == nil {
		cookies, parseErr := config.ParseCookies(artifact.Data)
		if parseErr == nil && len(cookies) > 0 {
			entry.WithField("stored_at", artifact.StoredAt).Info("Using cookie jar from last successful run")
			in.Cookies = cookies
			return in
		}
		if parseErr != nil {
			entry.WithError(parseErr).Warn("Stored cookie jar is unreadable")
		}
	}

	if s.defaults.Cookies != nil {
		cookies, err := s.defaults.Cookies()
		if err != nil {
			entry.WithError(err).Error("Failed to load input cookies")
		}
		in.Cookies = cookies
	}
	return in
}

func (s *RefreshService) forgetSessionJar(ctx context.Context, entry *logrus.Entry) {
	if err := s.store.Delete(ctx, refresh.KeyLastSessionJar); err != nil {
		entry.WithError(err).Warn("Failed to drop expired cookie jar")
		return
	}
	entry.Info("Dropped stored cookie jar after session expiry")
}

func (s *RefreshService) saveRecord(ctx context.Context, record *models.RunRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.store.Put(ctx, runKeyPrefix+record.RunID, data, "application/json"); err != nil {
		s.logger.WithError(err).WithField("run_id", record.RunID).Warn("Failed to save run record")
	}
}

// Status returns the record of a run
func (s *RefreshService) Status(ctx context.Context, runID string) (*models.RunRecord, error) {
	artifact, err := s.store.Get(ctx, runKeyPrefix+runID)
	if errors.Is(err, ErrArtifactNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	var record models.RunRecord
	if err := json.Unmarshal(artifact.Data, &record); err != nil {
		return nil, fmt.Errorf("corrupt run record: %w", err)
	}
	return &record, nil
}

// LatestCookies returns the payload delivered by the last successful run
func (s *RefreshService) LatestCookies(ctx context.Context) (*models.WebhookPayload, error) {
	artifact, err := s.store.Get(ctx, refresh.KeyFreshCookies)
	if err != nil {
		return nil, err
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(artifact.Data, &payload); err != nil {
		return nil, fmt.Errorf("corrupt cookie payload: %w", err)
	}
	return &payload, nil
}

// StartScheduler triggers a run every interval until ctx is done
func (s *RefreshService) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.logger.WithField("interval", interval.String()).Info("Refresh scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.baseCtx.Done():
				return
			case <-ticker.C:
				runID, err := s.Start(TriggerSchedule, models.RefreshRequest{})
				if errors.Is(err, ErrRunInProgress) {
					s.logger.Info("Skipping scheduled refresh, a run is in progress")
					continue
				}
				s.logger.WithField("run_id", runID).Info("Scheduled refresh started")
			}
		}
	}()
}

// Running returns the ID of the active run, empty when idle
func (s *RefreshService) Running() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Health returns refresh service health status
func (s *RefreshService) Health() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := map[string]interface{}{
		"status":  "healthy",
		"running": s.running != "",
	}
	if s.lastRun != nil {
		health["last_run"] = map[string]interface{}{
			"run_id": s.lastRun.RunID,
			"status": s.lastRun.Status,
			"cause":  s.lastRun.Cause,
		}
		if s.lastRun.Status == models.RunStatusFailed {
			health["status"] = "degraded"
		}
	}
	return health
}

// Close cancels background runs and waits for them to finish
func (s *RefreshService) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
