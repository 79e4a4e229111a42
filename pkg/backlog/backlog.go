package backlog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/metrics"
	"github.com/cuemby/swiftfleet/pkg/storage"
	"github.com/cuemby/swiftfleet/pkg/types"
	"github.com/google/uuid"
)

// ErrInvalidTask is returned for tasks with an unknown event type or no target
var ErrInvalidTask = errors.New("invalid maintenance task")

// Backlog records fleet-health events for operator review. It never
// decides remediation.
type Backlog struct {
	store storage.Store
	now   func() time.Time
}

// New creates a backlog over a store
func New(store storage.Store) *Backlog {
	return &Backlog{store: store, now: time.Now}
}

// AddTask appends a task and returns it with its assigned id
func (b *Backlog) AddTask(eventType types.EventType, target string, reserve, replace []string) (*types.MaintenanceTask, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidTask, eventType)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidTask)
	}

	task := &types.MaintenanceTask{
		ID:           uuid.New().String(),
		EventType:    eventType,
		Target:       target,
		ReserveDisks: nonNil(reserve),
		ReplaceDisks: nonNil(replace),
		CreatedAt:    b.now().UTC(),
	}
	if err := b.store.PutTask(task); err != nil {
		return nil, fmt.Errorf("failed to store task: %w", err)
	}

	logger := log.WithComponent("backlog")
	logger.Info().
		Str("task_id", task.ID).
		Str("event_type", string(eventType)).
		Str("target", target).
		Msg("Maintenance task recorded")
	b.refreshGauge()
	return task, nil
}

// QueryByTarget returns the tasks recorded for one target, oldest first
func (b *Backlog) QueryByTarget(target string) ([]*types.MaintenanceTask, error) {
	all, err := b.ListAll()
	if err != nil {
		return nil, err
	}
	var out []*types.MaintenanceTask
	for _, t := range all {
		if t.Target == target {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListAll returns every task, oldest first
func (b *Backlog) ListAll() ([]*types.MaintenanceTask, error) {
	tasks, err := b.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// Resolve marks a task as handled by an operator. Resolving twice keeps
// the first resolution time.
func (b *Backlog) Resolve(id string) (*types.MaintenanceTask, error) {
	task, err := b.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Resolved {
		return task, nil
	}
	now := b.now().UTC()
	task.Resolved = true
	task.ResolvedAt = &now
	if err := b.store.PutTask(task); err != nil {
		return nil, fmt.Errorf("failed to store task: %w", err)
	}
	logger := log.WithComponent("backlog")
	logger.Info().Str("task_id", id).Msg("Maintenance task resolved")
	b.refreshGauge()
	return task, nil
}

func (b *Backlog) refreshGauge() {
	tasks, err := b.store.ListTasks()
	if err != nil {
		return
	}
	metrics.BacklogTasks.Reset()
	for _, t := range tasks {
		metrics.BacklogTasks.WithLabelValues(string(t.EventType), strconv.FormatBool(t.Resolved)).Inc()
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
