package integrity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Scan task statuses.
const (
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusFailed  = "failed"
)

// Scanner produces integrity reports.
type Scanner interface {
	Scan(ctx context.Context) (*Report, error)
}

// Task is an asynchronous scan.
type Task struct {
	TaskID     string     `json:"task_id"`
	CreatedBy  string     `json:"created_by"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
	LastError  string     `json:"last_error,omitempty"`
	Report     *Report    `json:"report,omitempty"`
}

// TaskStore keeps recent scan tasks in memory. Finished tasks expire after
// ttl and the oldest finished tasks are evicted beyond maxTasks.
type TaskStore struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	ttl      time.Duration
	maxTasks int
	latest   *Report
	now      func() time.Time
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore(ttl time.Duration, maxTasks int) *TaskStore {
	return &TaskStore{
		tasks:    make(map[string]*Task),
		order:    make([]string, 0),
		ttl:      ttl,
		maxTasks: maxTasks,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Create registers a running task.
func (s *TaskStore) Create(createdBy string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	task := &Task{
		TaskID:    uuid.NewString(),
		CreatedBy: strings.TrimSpace(createdBy),
		Status:    TaskStatusRunning,
		CreatedAt: now,
	}
	s.tasks[task.TaskID] = task
	s.order = append(s.order, task.TaskID)
	s.cleanupExpiredLocked(now)
	s.enforceMaxTasksLocked()
	return cloneTask(task)
}

// Get returns a copy of a task.
func (s *TaskStore) Get(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpiredLocked(s.now())
	s.enforceMaxTasksLocked()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return cloneTask(task), true
}

// Finish stores the outcome of a task. It returns false for unknown or
// already finished tasks.
func (s *TaskStore) Finish(taskID string, report *Report, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.FinishedAt != nil {
		return false
	}
	finishedAt := s.now()
	task.FinishedAt = &finishedAt
	if err != nil {
		task.Status = TaskStatusFailed
		task.LastError = err.Error()
	} else {
		task.Status = TaskStatusSuccess
		task.Report = report
		s.latest = report
	}
	s.cleanupExpiredLocked(finishedAt)
	s.enforceMaxTasksLocked()
	return true
}

// Latest returns the report of the most recently finished successful scan.
func (s *TaskStore) Latest() (*Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest != nil
}

// Run creates a task and scans in a background goroutine.
func (s *TaskStore) Run(ctx context.Context, scanner Scanner, createdBy string) Task {
	task := s.Create(createdBy)
	go func() {
		report, err := scanner.Scan(ctx)
		if err != nil {
			log.WithError(err).WithField("task_id", task.TaskID).Warn("integrity: scan task failed")
		}
		s.Finish(task.TaskID, report, err)
	}()
	return task
}

func (s *TaskStore) cleanupExpiredLocked(now time.Time) {
	if s.ttl <= 0 || len(s.order) == 0 {
		return
	}
	kept := make([]string, 0, len(s.order))
	for _, taskID := range s.order {
		task, ok := s.tasks[taskID]
		if !ok {
			continue
		}
		if task.FinishedAt != nil && now.Sub(*task.FinishedAt) >= s.ttl {
			delete(s.tasks, taskID)
			continue
		}
		kept = append(kept, taskID)
	}
	s.order = kept
}

func (s *TaskStore) enforceMaxTasksLocked() {
	if s.maxTasks <= 0 {
		return
	}
	for len(s.tasks) > s.maxTasks {
		index := -1
		for i, taskID := range s.order {
			if task, ok := s.tasks[taskID]; ok && task.FinishedAt != nil {
				index = i
				break
			}
		}
		if index < 0 {
			// Running tasks are never evicted.
			return
		}
		delete(s.tasks, s.order[index])
		s.order = append(s.order[:index], s.order[index+1:]...)
	}
}

func cloneTask(src *Task) Task {
	cloned := *src
	if src.FinishedAt != nil {
		finishedAt := *src.FinishedAt
		cloned.FinishedAt = &finishedAt
	}
	return cloned
}
