package worker

import (
	"log"
	"runtime/debug"
)

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// announce idleness, then wait for the dispatcher to hand over a job
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.execute(job)
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer w.pool.finish(job)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker job %s for user %d panicked: %v\n%s", job.Name, job.UserID, r, debug.Stack())
		}
	}()
	if job.Fn != nil {
		job.Fn()
	}
}
