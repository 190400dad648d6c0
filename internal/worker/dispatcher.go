package worker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs flow jobs on a bounded pool, taking turns between keys so
// one busy dialog cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake for submitted jobs
	logger   *zap.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // LRU queue of keys with pending jobs
	positions map[string]*list.Element
	pending   int // queued, not yet started; running jobs are bounded by MaxWorkers
	limit     int
	closed    bool
	inflight  sync.WaitGroup
}

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	logger = logger.Named("worker")
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	d := newDispatcherState(cfg.QueueSize, logger)
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d)
	d.JobQueue = make(chan Job, cfg.QueueSize)

	// warm up workers
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

func newDispatcherState(limit int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		limit:     limit,
		logger:    logger,
	}
}

// Submit queues task under key. The returned channel receives the task's
// result exactly once. ErrDispatcherBusy is returned when the intake is full.
func (d *Dispatcher) Submit(ctx context.Context, key, name string, task Task) (<-chan error, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	if d.pending >= d.limit {
		d.mu.Unlock()
		d.logger.Warn("dispatcher busy", zap.String("key", key), zap.String("job", name), zap.Int("pending", d.pending))
		return nil, ErrDispatcherBusy
	}
	d.pending++
	d.inflight.Add(1)
	d.mu.Unlock()

	result := make(chan error, 1)
	d.JobQueue <- Job{Type: Run, Key: key, Name: name, ctx: ctx, task: task, result: result}
	return result, nil
}

// Do submits task and waits for it. If ctx ends first the task may still run
// to completion in the background.
func (d *Dispatcher) Do(ctx context.Context, key, name string, task Task) error {
	result, err := d.Submit(ctx, key, name, task)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new jobs and waits for queued and running ones.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the key in front of the LRU queue
		if !d.dispatchOne() {
			job := <-d.JobQueue // nothing ready, block for intake
			d.enqueueJob(job)
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// next pops the first job of the key at the front of the LRU queue and moves
// that key to the back.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.next()
	if !ok {
		return false
	}
	workerChan := d.pool.acquire()
	d.logger.Debug("assign job",
		zap.String("job", job.Name),
		zap.String("key", job.Key),
		zap.Int("worker", d.pool.workerID(workerChan)))
	workerChan <- job
	return true
}

// started is called by a worker when it takes a job off the queue.
func (d *Dispatcher) started() {
	d.mu.Lock()
	if d.pending > 0 {
		d.pending--
	}
	d.mu.Unlock()
}

func (d *Dispatcher) finished() {
	d.inflight.Done()
}
