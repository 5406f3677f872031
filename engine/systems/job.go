package systems

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/containers"
	"github.com/spaghettifunk/nextrender/engine/core"
)

/**
 * @brief Describes a job to be run.
 */
type Job struct {
	/** @brief Used in log lines only. */
	Name string
	/** @brief Invoked on a worker when the job starts. Required. */
	Run func() error
	/** @brief Invoked on the worker when Run returns nil. Optional. */
	OnComplete func()
	/** @brief Invoked on the worker when Run fails. Optional. */
	OnFailure func(err error)
	/** @brief Invoked when the job will never run. Optional. */
	OnAbandon func(err error)
}

func (j *Job) abandon() error {
	err := errors.Wrapf(core.ErrJobAbandoned, "job %q", j.Name)
	if j.OnAbandon != nil {
		j.OnAbandon(err)
	}
	return err
}

type jobWorker struct {
	index int
	jobs  chan *Job
}

type JobSystem struct {
	mu      sync.Mutex
	workers []*jobWorker
	idle    []*jobWorker
	pending *containers.RingQueue[*Job]
	dying   bool
	wg      sync.WaitGroup
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeQueueSize = errors.New("attempting to create worker pool with a negative queue size")

// NewJobSystem starts numWorkers workers. At most queueSize jobs wait for a
// free worker; zero means one slot per worker.
func NewJobSystem(numWorkers int, queueSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if queueSize < 0 {
		return nil, ErrNegativeQueueSize
	}
	if queueSize == 0 {
		queueSize = numWorkers
	}

	js := &JobSystem{
		pending: containers.NewRingQueue[*Job](queueSize),
	}
	for i := 0; i < numWorkers; i++ {
		w := &jobWorker{index: i, jobs: make(chan *Job, 1)}
		js.workers = append(js.workers, w)
		js.idle = append(js.idle, w)
		js.wg.Add(1)
		go js.run(w)
	}
	core.LogDebug("Job system started with %d workers.", numWorkers)
	return js, nil
}

func (js *JobSystem) run(w *jobWorker) {
	defer js.wg.Done()
	for job := range w.jobs {
		for job != nil {
			js.execute(w, job)
			job = js.release(w)
		}
	}
}

func (js *JobSystem) execute(w *jobWorker, job *Job) {
	if err := job.Run(); err != nil {
		core.LogError("job %q failed on worker %d: %s", job.Name, w.index, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

// release hands the worker the next pending job or parks it.
func (js *JobSystem) release(w *jobWorker) *Job {
	js.mu.Lock()
	defer js.mu.Unlock()
	if !js.dying {
		if next, err := js.pending.Dequeue(); err == nil {
			return next
		}
	}
	js.idle = append(js.idle, w)
	return nil
}

/**
 * @brief Dispatches the job to an idle worker, or queues it until one frees up.
 * Once the system is shutting down the job is abandoned.
 */
func (js *JobSystem) Dispatch(job *Job) error {
	if job == nil || job.Run == nil {
		return errors.Wrap(core.ErrValidationFailure, "job has no entry point")
	}

	js.mu.Lock()
	if js.dying {
		js.mu.Unlock()
		return job.abandon()
	}
	if n := len(js.idle); n > 0 {
		w := js.idle[n-1]
		js.idle = js.idle[:n-1]
		// An idle worker's channel is always empty, so this never blocks.
		w.jobs <- job
		js.mu.Unlock()
		return nil
	}
	err := js.pending.Enqueue(job)
	js.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "job %q", job.Name)
	}
	return nil
}

// Pending returns the number of jobs waiting for a worker.
func (js *JobSystem) Pending() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.pending.Len()
}

/**
 * @brief Shuts the job system down. Pending jobs are abandoned, running jobs
 * finish before this returns.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.dying {
		js.mu.Unlock()
		return nil
	}
	js.dying = true
	abandoned := js.pending.Drain()
	for _, w := range js.workers {
		close(w.jobs)
	}
	js.mu.Unlock()

	for _, job := range abandoned {
		_ = job.abandon()
	}
	if len(abandoned) > 0 {
		core.LogWarn("Job system abandoned %d pending jobs.", len(abandoned))
	}
	js.wg.Wait()
	return nil
}
