// internal/engine/engine.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"jobmarket-client/internal/common/config"
	apperrors "jobmarket-client/internal/common/errors"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/common/metrics"
	"jobmarket-client/internal/common/observability"
	"jobmarket-client/internal/events"
	"jobmarket-client/internal/models"
	"jobmarket-client/internal/store"
)

// Backend is the slice of the request layer the engine depends on.
type Backend interface {
	UpdateApplicationStatus(ctx context.Context, id, status, notes string) (*models.Application, error)
	MyJobApplications(ctx context.Context) ([]models.Application, error)
}

// NotificationRecord is the user-facing outcome of one transition. A
// non-final record means the transition is still being processed; final
// records expire after the configured TTL.
type NotificationRecord struct {
	ApplicationID string
	Status        string
	Message       string
	Final         bool
	CreatedAt     time.Time
}

const processingMessage = "Processing application update..."

// Transitions the entity store accepts. Hired and rejected applications can
// only be reopened back to pending.
var allowedTransitions = map[string][]string{
	models.StatusPending:  {models.StatusInReview, models.StatusHired, models.StatusRejected},
	models.StatusInReview: {models.StatusHired, models.StatusRejected},
	models.StatusHired:    {models.StatusPending},
	models.StatusRejected: {models.StatusPending},
}

func transitionAllowed(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Engine executes status transitions: per-application in-flight guard,
// persistence through the backend, best-effort notifications, and a
// TTL-bound outcome record. It also reconciles local entity state from push
// events, which bypass the in-flight guard entirely.
type Engine struct {
	backend     Backend
	notifier    TransitionNotifier
	entityCache *store.EntityCache
	obs         *observability.Observability
	logger      logger.Logger
	recordTTL   time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
	records  map[string]*NotificationRecord
	entities map[string]*models.Application
}

// New builds an Engine and registers its reconciliation handlers on the
// dispatcher. entityCache and obs may be nil.
func New(cfg config.EngineConfig, backend Backend, notifier TransitionNotifier, dispatcher *events.Dispatcher, entityCache *store.EntityCache, obs *observability.Observability, log logger.Logger) *Engine {
	e := &Engine{
		backend:     backend,
		notifier:    notifier,
		entityCache: entityCache,
		obs:         obs,
		logger:      log.WithFields(map[string]interface{}{"component": "engine"}),
		recordTTL:   config.GetDuration(cfg.NotificationTTL),
		inFlight:    make(map[string]bool),
		records:     make(map[string]*NotificationRecord),
		entities:    make(map[string]*models.Application),
	}

	if dispatcher != nil {
		dispatcher.Subscribe(models.EventNewApplication, e.onApplicationEvent)
		dispatcher.Subscribe(models.EventApplicationUpdated, e.onApplicationEvent)
	}
	return e
}

// Transition moves an application to target status. A transition already in
// flight for the same application makes this a silent no-op. The in-flight
// guard is released on every path, including a panicking notifier.
func (e *Engine) Transition(ctx context.Context, id, target, notes string) error {
	start := time.Now()

	e.mu.Lock()
	if e.inFlight[id] {
		e.mu.Unlock()
		e.logger.Warn("transition already in flight, ignoring", map[string]interface{}{
			"application_id": id,
			"target":         target,
		})
		metrics.TransitionsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	current := ""
	if app, ok := e.entities[id]; ok {
		current = app.Status
	}
	e.inFlight[id] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inFlight, id)
		e.mu.Unlock()
	}()

	// Unknown local state defers validation to the entity store.
	if current != "" && !transitionAllowed(current, target) {
		metrics.TransitionsTotal.WithLabelValues("invalid").Inc()
		return apperrors.NewInvalidTransitionError(current, target)
	}

	e.putRecord(&NotificationRecord{
		ApplicationID: id,
		Status:        target,
		Message:       processingMessage,
		CreatedAt:     time.Now(),
	})

	app, err := e.backend.UpdateApplicationStatus(ctx, id, target, notes)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues("error").Inc()
		e.recordOutcome(ctx, "error", start)
		e.finishRecord(id, target, "Failed to update application status.")
		return fmt.Errorf("update application %s: %w", id, err)
	}

	e.storeEntity(ctx, app)

	message := e.notify(ctx, app, target)
	e.finishRecord(id, target, message)

	metrics.TransitionsTotal.WithLabelValues("success").Inc()
	e.recordOutcome(ctx, "success", start)
	return nil
}

// notify runs the side-effect phase and builds the combined outcome message.
// A panic inside a delivery channel is contained here so the transition
// itself still completes and the in-flight guard is released normally.
func (e *Engine) notify(ctx context.Context, app *models.Application, target string) (message string) {
	message = fmt.Sprintf("Application marked as %s successfully!", strings.ToUpper(target))

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("notification delivery panicked", map[string]interface{}{
				"application_id": app.ID,
				"panic":          rec,
			})
		}
	}()

	subject := "Application Status Update"
	body := fmt.Sprintf("Your application for job %s is now %s.", app.JobID, target)

	if res := e.notifier.Email(ctx, app.ContactEmail, subject, body); res.Failure != "" {
		message += " " + res.Failure
	}
	if res := e.notifier.SMS(ctx, app.ContactPhone, body); res.Failure != "" {
		message += " " + res.Failure
	}
	return message
}

// Hydrate pulls the caller's applications and seeds local entity state.
func (e *Engine) Hydrate(ctx context.Context) error {
	apps, err := e.backend.MyJobApplications(ctx)
	if err != nil {
		return fmt.Errorf("hydrate applications: %w", err)
	}
	for i := range apps {
		e.storeEntity(ctx, &apps[i])
	}
	e.logger.Info("entity state hydrated", map[string]interface{}{
		"applications": len(apps),
	})
	return nil
}

// Notification returns the current outcome record for an application, nil
// once it has expired.
func (e *Engine) Notification(id string) *NotificationRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records[id]
}

// Entity returns the locally known application state, nil when unknown.
func (e *Engine) Entity(id string) *models.Application {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entities[id]
}

// onApplicationEvent reconciles entity state pushed by the server. Pushed
// state is authoritative and lands regardless of any in-flight transition.
func (e *Engine) onApplicationEvent(payload json.RawMessage) {
	var evt models.ApplicationEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Application == nil || evt.Application.ID == "" {
		e.logger.Warn("dropping application event without entity", nil)
		return
	}
	e.storeEntity(context.Background(), evt.Application)
}

func (e *Engine) storeEntity(ctx context.Context, app *models.Application) {
	if app == nil || app.ID == "" {
		return
	}

	e.mu.Lock()
	e.entities[app.ID] = app
	e.mu.Unlock()

	if e.entityCache != nil {
		if err := e.entityCache.Put(ctx, app); err != nil {
			e.logger.Warn("entity cache write failed", map[string]interface{}{
				"application_id": app.ID,
				"error":          err.Error(),
			})
		}
	}
}

func (e *Engine) putRecord(rec *NotificationRecord) {
	e.mu.Lock()
	e.records[rec.ApplicationID] = rec
	e.mu.Unlock()
}

// finishRecord installs the final outcome record and schedules its expiry.
// Expiry compares record identity so a newer record written for the same
// application is never clobbered by an older record's timer.
func (e *Engine) finishRecord(id, status, message string) {
	rec := &NotificationRecord{
		ApplicationID: id,
		Status:        status,
		Message:       message,
		Final:         true,
		CreatedAt:     time.Now(),
	}
	e.putRecord(rec)

	time.AfterFunc(e.recordTTL, func() {
		e.mu.Lock()
		if e.records[id] == rec {
			delete(e.records, id)
		}
		e.mu.Unlock()
	})
}

func (e *Engine) recordOutcome(ctx context.Context, outcome string, start time.Time) {
	if e.obs != nil {
		e.obs.RecordTransition(ctx, outcome, time.Since(start))
	}
}
