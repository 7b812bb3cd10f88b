package tasks

import (
	"container/heap"
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type queuedTask struct {
	task     Task
	priority int
	seq      uint64
	result   chan error
}

// taskQueue orders by priority, highest first, then by arrival
type taskQueue []*queuedTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*queuedTask))
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// TaskRunner runs the OMCI tasks of one device, one at a time
type TaskRunner struct {
	deviceID string
	lg       *zap.Logger

	mu        sync.Mutex
	queue     taskQueue
	seq       uint64
	running   *queuedTask
	completed int
	failed    int

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	cancel context.CancelFunc
}

func NewTaskRunner(deviceID string, lg *zap.Logger) *TaskRunner {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &TaskRunner{
		deviceID: deviceID,
		lg:       lg.With(zap.String("device_id", deviceID), zap.String("component", "task-runner")),
		wakeCh:   make(chan struct{}, 1),
	}
}

func (r *TaskRunner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCh != nil
}

func (r *TaskRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopCh != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(ctx, r.stopCh, r.doneCh)

	r.wake()
}

// Stop aborts the running task and fails every queued one
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}

	stopCh, doneCh, cancel := r.stopCh, r.doneCh, r.cancel
	r.stopCh, r.doneCh, r.cancel = nil, nil, nil
	running := r.running
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	cancel()
	if running != nil {
		running.task.Stop()
	}
	close(stopCh)
	<-doneCh

	for _, qt := range pending {
		qt.result <- errors.Wrapf(ErrRunnerStopped, "%s", qt.task.Name())
	}
}

// Queue schedules a task and returns the channel its result is delivered on
func (r *TaskRunner) Queue(t Task) <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	qt := &queuedTask{
		task:     t,
		priority: clampPriority(t.Priority()),
		seq:      r.seq,
		result:   make(chan error, 1),
	}
	heap.Push(&r.queue, qt)

	r.lg.Debug("task queued", zap.String("task", t.Name()), zap.Int("priority", qt.priority))

	if r.stopCh != nil {
		r.wake()
	}

	return qt.result
}

// Cancel drops a task that has not started yet
func (r *TaskRunner) Cancel(t Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, qt := range r.queue {
		if qt.task == t {
			heap.Remove(&r.queue, i)
			qt.result <- errors.Wrapf(context.Canceled, "%s", t.Name())
			return true
		}
	}

	return false
}

func (r *TaskRunner) PendingTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// RunningTask returns nil when the runner is idle
func (r *TaskRunner) RunningTask() Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running == nil {
		return nil
	}
	return r.running.task
}

func (r *TaskRunner) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *TaskRunner) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *TaskRunner) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *TaskRunner) next() *queuedTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return nil
	}

	qt := heap.Pop(&r.queue).(*queuedTask)
	r.running = qt
	return qt
}

func (r *TaskRunner) finish(qt *queuedTask, err error) {
	r.mu.Lock()
	r.running = nil
	if err != nil {
		r.failed++
	} else {
		r.completed++
	}
	r.mu.Unlock()

	qt.result <- err
}

func (r *TaskRunner) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-r.wakeCh:
		}

		for {
			select {
			case <-stopCh:
				return
			default:
			}

			qt := r.next()
			if qt == nil {
				break
			}

			r.lg.Debug("task starting", zap.String("task", qt.task.Name()))
			err := qt.task.Start(ctx)
			if err != nil {
				r.lg.Info("task failed", zap.String("task", qt.task.Name()), zap.Error(err))
			}
			r.finish(qt, err)
		}
	}
}
