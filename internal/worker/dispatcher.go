package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type userQueue struct {
	jobs     []Job
	enqueued bool // in the ready list
	busy     bool // a job of this user is running
}

// Dispatcher hands jobs to a worker pool, rotating between users so a user
// with many queued jobs cannot starve the others. Jobs of one user never
// overlap.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // LRU queue storing user IDs
	positions map[int64]*list.Element
	closed    bool

	seq     uint64
	pending map[int64]int    // jobs per user still in JobQueue
	cutoff  map[int64]uint64 // JobQueue jobs up to this seq were cancelled

	wake     chan struct{}
	quit     chan struct{}
	inflight sync.WaitGroup
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	d := newDispatcher(minWorkers, maxWorkers, queueSize, idleTimeout)
	go d.run()
	return d
}

func newDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pending:   make(map[int64]int),
		cutoff:    make(map[int64]uint64),
		JobQueue:  make(chan Job, queueSize),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(minWorkers, maxWorkers, idleTimeout, d.jobDone)

	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}
	return d
}

// Submit queues fn for userID without blocking.
func (d *Dispatcher) Submit(userID int64, name string, fn func()) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	d.seq++
	job := Job{Type: Run, UserID: userID, Name: name, Fn: fn, seq: d.seq}
	d.pending[userID]++
	d.mu.Unlock()

	select {
	case d.JobQueue <- job:
		return nil
	default:
		d.mu.Lock()
		d.leaveQueueLocked(userID)
		d.mu.Unlock()
		d.inflight.Done()
		return ErrDispatcherBusy
	}
}

// leaveQueueLocked accounts for a job of userID that left JobQueue.
func (d *Dispatcher) leaveQueueLocked(userID int64) {
	d.pending[userID]--
	if d.pending[userID] <= 0 {
		delete(d.pending, userID)
		delete(d.cutoff, userID)
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of user in the front of LRU queue
		if d.dispatchOne() {
			// if we have a new job, enqueue it and its caller user
			select {
			case job := <-d.JobQueue: // non-congestion
				d.enqueueJob(job)
			case <-d.quit:
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

// CancelUser drops every job the user submitted so far that has not started,
// including jobs still waiting in JobQueue. A running job is left alone.
func (d *Dispatcher) CancelUser(userID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := d.pending[userID]
	if dropped > 0 {
		d.cutoff[userID] = d.seq
	}
	q := d.queues[userID]
	if q == nil {
		return dropped
	}
	dropped += len(q.jobs)
	for range q.jobs {
		d.inflight.Done()
	}
	q.jobs = nil
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	q.enqueued = false
	if !q.busy {
		delete(d.queues, userID)
	}
	return dropped
}

func (d *Dispatcher) enqueueJob(job Job) {
	userID := job.UserID

	d.mu.Lock()
	defer d.mu.Unlock()

	cut, cancelled := d.cutoff[userID]
	d.leaveQueueLocked(userID)
	if cancelled && job.seq <= cut {
		debugf("dispatcher", "drop cancelled job %s for user %d", job.Name, userID)
		d.inflight.Done()
		return
	}

	q := d.queues[userID]
	if q == nil {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.jobs = append(q.jobs, job)
	d.markReadyLocked(userID, q)
}

func (d *Dispatcher) markReadyLocked(userID int64, q *userQueue) {
	if q.enqueued || q.busy || len(q.jobs) == 0 {
		return
	}
	q.enqueued = true
	d.positions[userID] = d.ready.PushBack(userID)
}

// dispatchOne get first user in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	// the user leaves the ready list until this job finishes
	q.enqueued = false
	q.busy = true
	d.ready.Remove(elem)
	delete(d.positions, userID)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.jobDone(job)
		return false
	}
	debugf("dispatcher", "assign job %s for user %d", job.Name, userID)
	workerChan <- job
	return true
}

// jobDone puts the user back in rotation once its running job completes.
func (d *Dispatcher) jobDone(job Job) {
	d.mu.Lock()
	if q := d.queues[job.UserID]; q != nil {
		q.busy = false
		if len(q.jobs) == 0 {
			delete(d.queues, job.UserID)
		} else {
			d.markReadyLocked(job.UserID, q)
		}
	}
	d.mu.Unlock()
	d.inflight.Done()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting jobs and waits for queued and running ones to
// finish, or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(d.quit)
	d.pool.close()
	return err
}

// Workers reports how many workers are alive.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

func (d *Dispatcher) queued(userID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q := d.queues[userID]; q != nil {
		return len(q.jobs)
	}
	return 0
}
