package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// ProgressPayload is one progress log line for an owner.
type ProgressPayload struct {
	JobID     domain.JobID    `json:"job_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Message   string          `json:"message"`
	Severity  domain.Severity `json:"severity"`
	Target    string          `json:"target,omitempty"`
}

// StatPayload is a counter delta.
type StatPayload struct {
	Counter string `json:"counter"`
	Value   int    `json:"value"`
}

// StatusPayload reports a job state change.
type StatusPayload struct {
	JobID   domain.JobID      `json:"job_id"`
	Action  domain.ActionKind `json:"action"`
	State   domain.JobState   `json:"state"`
	Result  string            `json:"result,omitempty"`
	Partial bool              `json:"partial,omitempty"`
}

// Emitter publishes owner events on the bus and persists critical notifications.
type Emitter struct {
	logger *slog.Logger
	bus    *EventBus
	notes  ports.NotificationStore
	now    func() time.Time
}

func NewEmitter(logger *slog.Logger, bus *EventBus, notes ports.NotificationStore) *Emitter {
	return &Emitter{logger: logger, bus: bus, notes: notes, now: time.Now}
}

func (e *Emitter) publish(owner domain.OwnerID, typ EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to encode event", "owner_id", owner, "type", typ, "error", err)
		return
	}
	e.bus.Publish(Event{
		OwnerID:   string(owner),
		Type:      typ,
		Data:      string(data),
		Timestamp: e.now().UnixMilli(),
	})
}

func (e *Emitter) Progress(owner domain.OwnerID, job domain.JobID, severity domain.Severity, target, message string) {
	e.publish(owner, EventTypeProgress, ProgressPayload{
		JobID:     job,
		Timestamp: e.now().UnixMilli(),
		Message:   message,
		Severity:  severity,
		Target:    target,
	})
}

func (e *Emitter) Stat(owner domain.OwnerID, counter string, value int) {
	e.publish(owner, EventTypeStat, StatPayload{Counter: counter, Value: value})
}

func (e *Emitter) Status(job domain.JobRecord) {
	e.publish(job.OwnerID, EventTypeStatus, StatusPayload{
		JobID:   job.ID,
		Action:  job.Action,
		State:   job.State,
		Result:  job.Result,
		Partial: job.Partial,
	})
}

// Critical persists a notification and publishes it. The event goes out even if
// the write fails.
func (e *Emitter) Critical(ctx context.Context, owner domain.OwnerID, title, message string) error {
	n := domain.Notification{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Severity:  domain.SeverityCritical,
		Title:     title,
		Message:   message,
		CreatedAt: e.now().UTC(),
	}
	e.publish(owner, EventTypeNotification, n)
	if e.notes == nil {
		return nil
	}
	if err := e.notes.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}
	return nil
}
