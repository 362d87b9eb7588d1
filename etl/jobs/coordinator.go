package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/internal/util"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

const (
	// SubscriberChannelBufferSize is the buffer size for event subscriber channels
	SubscriberChannelBufferSize = 100
)

// EventType names a coordinator state change
type EventType string

const (
	EventClaimed    EventType = "claimed"
	EventUnclaimed  EventType = "unclaimed"
	EventPending    EventType = "pending"
	EventFinished   EventType = "finished"
	EventCheckpoint EventType = "checkpoint"
)

// Event is published to subscribers after a state change is persisted
type Event struct {
	Type         EventType `json:"type"`
	InstanceID   string    `json:"job_instance_id,omitempty"`
	DefinitionID string    `json:"job_definition_id,omitempty"`
	WorkerID     string    `json:"worker_id,omitempty"`
	Status       Status    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Coordinator grants and revokes exclusive ownership of job instances.
// Exclusivity rests entirely on the store's conditional update; the
// coordinator holds no locks across store calls.
type Coordinator struct {
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time

	mu          sync.RWMutex
	subscribers []chan Event
}

// NewCoordinator creates a coordinator over store
func NewCoordinator(store Store, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		log = logger.Logger
	}
	return &Coordinator{
		store:  store,
		logger: log.Named("coordinator"),
		now:    time.Now,
	}
}

// Claim moves a claimable instance to ACCEPTED owned by workerID.
// It returns the fresh job context (definition metadata re-read) so the
// caller never runs from a stale cached snapshot.
func (c *Coordinator) Claim(ctx context.Context, instanceID, workerID string) (JobContext, error) {
	if instanceID == "" || workerID == "" {
		return JobContext{}, errors.NewInvalidRequestError("job_instance_id and worker_id are required")
	}

	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return JobContext{}, errors.Wrapf(err, "claim %s", instanceID)
	}

	def, err := c.store.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		err = errors.Wrapf(err, "claim %s", instanceID)
		return JobContext{}, errors.WithDetail(err, fmt.Sprintf("Definition ID: %s", inst.DefinitionID))
	}

	if !def.IsActive {
		return JobContext{}, errors.WithDetail(ErrDefinitionInactive, fmt.Sprintf("Definition ID: %s", def.ID))
	}
	if !inst.Status.IsClaimable() {
		err := errors.WithDetail(ErrAlreadyRunning, fmt.Sprintf("Job ID: %s", instanceID))
		return JobContext{}, errors.WithDetail(err, fmt.Sprintf("Status: %s", inst.Status))
	}

	accepted := StatusAccepted
	ok, err := c.store.UpdateInstanceIf(ctx, instanceID,
		InstanceUpdate{Status: &accepted, WorkerID: &workerID},
		Precondition{Statuses: []Status{inst.Status}},
	)
	if err != nil {
		return JobContext{}, errors.Wrapf(err, "claim %s", instanceID)
	}
	if !ok {
		// Lost the race; routine under contention
		c.logger.Debugw("Claim conflict",
			logger.FieldJobID, instanceID,
			logger.FieldWorkerID, workerID,
			"observed_status", inst.Status)
		return JobContext{}, errors.WithDetail(ErrClaimConflict, fmt.Sprintf("Job ID: %s", instanceID))
	}

	inst.Status = accepted
	inst.WorkerID = workerID

	c.logger.Infow("Job claimed",
		logger.FieldJobID, instanceID,
		logger.FieldDefinitionID, def.ID,
		logger.FieldWorkerID, workerID,
		logger.FieldProcessor, def.ProcessorName)
	c.publish(Event{Type: EventClaimed, InstanceID: instanceID, DefinitionID: def.ID, WorkerID: workerID, Status: accepted})

	return NewJobContext(def, inst), nil
}

// Unclaim returns an owned instance to SCHEDULED with no worker.
// Only the current owner may unclaim; nothing is changed otherwise.
func (c *Coordinator) Unclaim(ctx context.Context, instanceID, workerID string) error {
	if instanceID == "" || workerID == "" {
		return errors.NewInvalidRequestError("job_instance_id and worker_id are required")
	}

	inst, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return errors.Wrapf(err, "unclaim %s", instanceID)
	}
	if inst.WorkerID != workerID {
		err := errors.WithDetail(ErrNotOwner, fmt.Sprintf("Job ID: %s", instanceID))
		return errors.WithDetail(err, fmt.Sprintf("Worker: %s", workerID))
	}

	ok, err := c.store.UpdateInstanceIf(ctx, instanceID,
		InstanceUpdate{Status: util.Ptr(StatusScheduled), WorkerID: util.Ptr("")},
		Precondition{Statuses: []Status{StatusAccepted, StatusPending}, WorkerID: &workerID},
	)
	if err != nil {
		return errors.Wrapf(err, "unclaim %s", instanceID)
	}
	if !ok {
		// Ownership or state changed between read and write
		err := errors.WithDetail(ErrNotOwner, fmt.Sprintf("Job ID: %s", instanceID))
		return errors.WithDetail(err, fmt.Sprintf("Worker: %s", workerID))
	}

	c.logger.Infow("Job unclaimed",
		logger.FieldJobID, instanceID,
		logger.FieldWorkerID, workerID)
	c.publish(Event{Type: EventUnclaimed, InstanceID: instanceID, DefinitionID: inst.DefinitionID, WorkerID: workerID, Status: StatusScheduled})

	return nil
}

// MarkPending records that the owner has started running the instance
func (c *Coordinator) MarkPending(ctx context.Context, instanceID, workerID string) error {
	ok, err := c.store.UpdateInstanceIf(ctx, instanceID,
		InstanceUpdate{Status: util.Ptr(StatusPending)},
		Precondition{Statuses: []Status{StatusAccepted}, WorkerID: &workerID},
	)
	if err != nil {
		return errors.Wrapf(err, "mark %s pending", instanceID)
	}
	if !ok {
		return errors.WithDetail(ErrNotOwner, fmt.Sprintf("Job ID: %s", instanceID))
	}

	c.publish(Event{Type: EventPending, InstanceID: instanceID, WorkerID: workerID, Status: StatusPending})
	return nil
}

// Finish moves an owned instance to a terminal status. runErr, when set,
// is recorded as the instance error message.
func (c *Coordinator) Finish(ctx context.Context, instanceID, workerID string, status Status, runErr error) error {
	if !status.IsTerminal() {
		return errors.NewInvalidRequestError("cannot finish job instance %s with non-terminal status %s", instanceID, status)
	}

	message := ""
	if runErr != nil {
		message = runErr.Error()
	}

	ok, err := c.store.UpdateInstanceIf(ctx, instanceID,
		InstanceUpdate{Status: &status, Error: &message},
		Precondition{Statuses: []Status{StatusAccepted, StatusPending}, WorkerID: &workerID},
	)
	if err != nil {
		return errors.Wrapf(err, "finish %s", instanceID)
	}
	if !ok {
		err := errors.WithDetail(ErrNotOwner, fmt.Sprintf("Job ID: %s", instanceID))
		return errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
	}

	c.logger.Infow("Job finished",
		logger.FieldJobID, instanceID,
		logger.FieldWorkerID, workerID,
		logger.FieldStatus, status)
	c.publish(Event{Type: EventFinished, InstanceID: instanceID, WorkerID: workerID, Status: status, Error: message})

	return nil
}

// PersistCheckpoint stores metadata (a checkpoint envelope) on the definition
// so the next instance resumes from it. Nil clears the checkpoint.
func (c *Coordinator) PersistCheckpoint(ctx context.Context, definitionID string, metadata json.RawMessage) error {
	if err := c.store.UpdateDefinitionMetadata(ctx, definitionID, metadata); err != nil {
		err = errors.Wrap(err, "failed to persist checkpoint")
		return errors.WithDetail(err, fmt.Sprintf("Definition ID: %s", definitionID))
	}

	c.logger.Debugw("Checkpoint persisted",
		logger.FieldDefinitionID, definitionID,
		"cleared", metadata == nil)
	c.publish(Event{Type: EventCheckpoint, DefinitionID: definitionID})

	return nil
}

// Subscribe returns a channel that receives coordinator events
func (c *Coordinator) Subscribe() chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, SubscriberChannelBufferSize)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
// The channel is NOT closed; callers manage its lifecycle.
func (c *Coordinator) Unsubscribe(ch chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// publish fans ev out without blocking; slow subscribers miss events
func (c *Coordinator) publish(ev Event) {
	ev.At = c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
