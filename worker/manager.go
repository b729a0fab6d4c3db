package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task lifecycle errors.
var (
	ErrTimeout    = errors.New("worker: task deadline exceeded")
	ErrTerminated = errors.New("worker: manager terminated")
)

// TaskError is a typed failure surfaced from the worker side of the wire.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("worker: task %s failed: %s", e.TaskID, e.Message)
}

// Handler executes one decoded payload worker-side and returns the result
// value to be marshaled into the response. Handlers run on worker
// goroutines and must not touch simulation state.
type Handler func(taskType TaskType, payload any) (any, error)

// Task is a pending or settled offload request.
type Task struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	result json.RawMessage
	err    error
}

// ID returns the unique task id.
func (t *Task) ID() string { return t.id }

// Wait blocks until the task settles or ctx is done, then returns the raw
// result or the task's typed error.
func (t *Task) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

func (t *Task) settle(result json.RawMessage, err error) {
	t.mu.Lock()
	t.result = result
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// Manager owns a fixed pool of offload workers selected round-robin. Each
// submitted task is bound to a deadline; a response arriving after its task
// has timed out is dropped silently.
type Manager struct {
	handler Handler
	timeout time.Duration

	queues []chan Request
	respCh chan Response
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	pending    map[string]*pendingTask
	next       int
	terminated bool

	termOnce sync.Once
}

type pendingTask struct {
	task  *Task
	timer *time.Timer
}

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	poolSize   int
	timeout    time.Duration
	queueDepth int
}

// WithPoolSize fixes the number of workers. Default: NumCPU clamped to 8.
func WithPoolSize(n int) Option {
	return func(c *managerConfig) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithTimeout sets the per-task deadline. Default 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *managerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithQueueDepth sets the per-worker request buffer. Default 16.
func WithQueueDepth(n int) Option {
	return func(c *managerConfig) {
		if n > 0 {
			c.queueDepth = n
		}
	}
}

// NewManager starts the worker pool. The handler runs on worker goroutines;
// a panic inside it becomes an ERROR response, never a crashed pool.
func NewManager(handler Handler, opts ...Option) *Manager {
	cfg := managerConfig{
		poolSize:   defaultPoolSize(),
		timeout:    10 * time.Second,
		queueDepth: 16,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		handler: handler,
		timeout: cfg.timeout,
		queues:  make([]chan Request, cfg.poolSize),
		respCh:  make(chan Response, cfg.poolSize*cfg.queueDepth),
		stopCh:  make(chan struct{}),
		pending: make(map[string]*pendingTask),
	}

	for i := range m.queues {
		m.queues[i] = make(chan Request, cfg.queueDepth)
		m.wg.Add(1)
		go m.worker(i)
	}
	m.wg.Add(1)
	go m.dispatcher()

	return m
}

func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// PoolSize returns the number of workers.
func (m *Manager) PoolSize() int { return len(m.queues) }

// Submit marshals the payload, assigns a unique task id, and dispatches the
// request to the next worker round-robin. The returned Task settles with the
// correlated response, an ERROR response, or ErrTimeout.
func (m *Manager) Submit(taskType TaskType, payload any) (*Task, error) {
	if !taskType.valid() {
		return nil, fmt.Errorf("worker: unknown task type %q", taskType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("worker: marshaling %s payload: %w", taskType, err)
	}

	task := &Task{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	req := Request{ID: task.id, Type: taskType, Data: data}

	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return nil, ErrTerminated
	}
	pt := &pendingTask{task: task}
	pt.timer = time.AfterFunc(m.timeout, func() { m.fail(task.id, ErrTimeout) })
	m.pending[task.id] = pt
	queue := m.queues[m.next]
	m.next = (m.next + 1) % len(m.queues)
	m.mu.Unlock()

	select {
	case queue <- req:
	case <-m.stopCh:
		m.fail(task.id, ErrTerminated)
	}
	return task, nil
}

// worker consumes requests from its queue until terminated.
func (m *Manager) worker(id int) {
	defer m.wg.Done()
	queue := m.queues[id]
	for {
		select {
		case <-m.stopCh:
			return
		case req := <-queue:
			m.respondTo(req)
		}
	}
}

// respondTo executes one request and emits the correlated response.
func (m *Manager) respondTo(req Request) {
	resp := m.execute(req)
	select {
	case m.respCh <- resp:
	case <-m.stopCh:
	}
}

// execute decodes, validates, and runs one request. Handler panics become
// ERROR responses.
func (m *Manager) execute(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = errorResponse(req.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	payload, err := DecodePayload(req)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	result, err := m.handler(req.Type, payload)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, fmt.Sprintf("marshaling result: %v", err))
	}
	return Response{ID: req.ID, Type: req.Type.ResultType(), Data: data}
}

func errorResponse(id, msg string) Response {
	data, _ := json.Marshal(msg)
	return Response{ID: id, Type: ResponseError, Data: data}
}

// dispatcher correlates responses to pending tasks by id. Responses for
// unknown ids (already timed out or terminated) are dropped.
func (m *Manager) dispatcher() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case resp := <-m.respCh:
			m.complete(resp)
		}
	}
}

func (m *Manager) complete(resp Response) {
	m.mu.Lock()
	pt, ok := m.pending[resp.ID]
	if ok {
		delete(m.pending, resp.ID)
		pt.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		// Late response to a timed-out task.
		slog.Debug("dropping uncorrelated worker response", "id", resp.ID, "type", resp.Type)
		return
	}

	if resp.Type == ResponseError {
		var msg string
		if err := json.Unmarshal(resp.Data, &msg); err != nil {
			msg = string(resp.Data)
		}
		pt.task.settle(nil, &TaskError{TaskID: resp.ID, Message: msg})
		return
	}
	pt.task.settle(resp.Data, nil)
}

// fail settles a pending task with the given error and frees its slot.
func (m *Manager) fail(id string, err error) {
	m.mu.Lock()
	pt, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
		pt.timer.Stop()
	}
	m.mu.Unlock()
	if ok {
		pt.task.settle(nil, err)
	}
}

// Terminate stops all workers and rejects every outstanding task with
// ErrTerminated. Safe to call more than once.
func (m *Manager) Terminate() {
	m.termOnce.Do(func() {
		m.mu.Lock()
		m.terminated = true
		outstanding := make([]*pendingTask, 0, len(m.pending))
		for id, pt := range m.pending {
			outstanding = append(outstanding, pt)
			pt.timer.Stop()
			delete(m.pending, id)
		}
		m.mu.Unlock()

		close(m.stopCh)
		m.wg.Wait()

		for _, pt := range outstanding {
			pt.task.settle(nil, ErrTerminated)
		}
	})
}
