package worker

import (
	"fmt"

	"go.uber.org/zap"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

// run executes one job. A job whose context already ended reports that
// instead of running; panics are turned into errors.
func (w *Worker) run(job Job) {
	d := w.pool.dispatcher
	d.started()
	defer d.finished()

	if err := job.ctx.Err(); err != nil {
		d.logger.Debug("skipping cancelled job", zap.String("job", job.Name), zap.String("key", job.Key))
		job.result <- err
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("job panicked", zap.String("job", job.Name), zap.Any("panic", r), zap.Stack("stack"))
				err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			}
		}()
		err = job.task(job.ctx)
	}()
	job.result <- err
}
