package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kolla/backend/pkg/gen"
	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/metrics"
)

// RunnerFunc executes one job synchronously. The scheduler owns job
// state transitions and per-meeting sequencing; the runner owns the
// semantics of each kind.
type RunnerFunc func(ctx context.Context, job *entity.Job) error

type Config struct {
	Workers        int
	QueueSize      int
	BarrierTimeout time.Duration
}

// Scheduler drains one shared queue with a fixed pool of workers. Kind
// dispatch happens inside the worker, so any worker may execute any
// kind. Per meeting it tracks outstanding stt jobs (the barrier a
// transcript merge waits on) and single-flight status per merge kind.
type Scheduler struct {
	cfg Config
	log *slog.Logger
	met *metrics.Metrics
	gen gen.UUIDGenerator

	queue chan *entity.Job

	mu       sync.Mutex
	jobs     map[string]*entity.Job
	meetings map[string]*meetingState
	stopped  bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

type meetingState struct {
	sttOutstanding     int
	drained            *sync.Cond
	audioInFlight      bool
	transcriptInFlight bool
}

func New(cfg Config, log *slog.Logger, met *metrics.Metrics) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.BarrierTimeout <= 0 {
		cfg.BarrierTimeout = 2 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		met:      met,
		gen:      gen.UUID(),
		queue:    make(chan *entity.Job, cfg.QueueSize),
		jobs:     make(map[string]*entity.Job),
		meetings: make(map[string]*meetingState),
	}
}

// state returns the per-meeting bookkeeping, creating it on first use.
// Callers must hold s.mu.
func (s *Scheduler) state(meetingID string) *meetingState {
	st, ok := s.meetings[meetingID]
	if !ok {
		st = &meetingState{drained: sync.NewCond(&s.mu)}
		s.meetings[meetingID] = st
	}
	return st
}

// Start launches the worker pool. Jobs already in the queue and jobs
// enqueued later are executed until Stop closes the queue.
func (s *Scheduler) Start(ctx context.Context, run RunnerFunc) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			for job := range s.queue {
				s.execute(ctx, run, job)
			}
		}(i)
	}
	s.log.Info("scheduler started",
		slog.Int("workers", s.cfg.Workers),
		slog.Int("queue_size", s.cfg.QueueSize))
}

// Stop rejects further enqueues, drains the queue and waits for the
// workers to finish their current jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
		s.log.Info("scheduler stopped")
	})
}

// Enqueue registers a job and places it on the shared queue. It returns
// immediately; there is no synchronous result. A merge enqueue while
// one of the same kind is queued or running for the meeting is rejected
// with ErrMergeInProgress rather than queued behind it.
func (s *Scheduler) Enqueue(kind entity.JobKind, meetingID string, payload *entity.STTPayload) (*entity.Job, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is stopped")
	}

	st := s.state(meetingID)
	switch kind {
	case entity.JobSTT:
		st.sttOutstanding++
	case entity.JobMergeAudio:
		if st.audioInFlight {
			s.mu.Unlock()
			return nil, entity.ErrMergeInProgress
		}
		st.audioInFlight = true
	case entity.JobMergeTranscript:
		if st.transcriptInFlight {
			s.mu.Unlock()
			return nil, entity.ErrMergeInProgress
		}
		st.transcriptInFlight = true
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	job := &entity.Job{
		ID:         s.gen.Hex(),
		Kind:       kind,
		MeetingID:  meetingID,
		STT:        payload,
		Status:     entity.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	select {
	case s.queue <- job:
	default:
		s.rollbackLocked(st, kind)
		s.mu.Unlock()
		return nil, entity.ErrQueueFull
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if s.met != nil {
		s.met.RecordEnqueued(string(kind))
		s.met.QueueDepth.Set(float64(len(s.queue)))
		switch kind {
		case entity.JobSTT:
			s.met.STTOutstanding.Inc()
		default:
			s.met.MergesInFlight.Inc()
		}
	}

	s.log.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(kind)),
		slog.String("meeting_id", meetingID))
	return job, nil
}

// rollbackLocked undoes the state bump taken for a job that never made
// it onto the queue. Callers must hold s.mu.
func (s *Scheduler) rollbackLocked(st *meetingState, kind entity.JobKind) {
	switch kind {
	case entity.JobSTT:
		st.sttOutstanding--
	case entity.JobMergeAudio:
		st.audioInFlight = false
	case entity.JobMergeTranscript:
		st.transcriptInFlight = false
	}
}

// Job returns a snapshot of a job's current state.
func (s *Scheduler) Job(id string) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, entity.ErrJobNotFound
	}
	cp := *j
	if j.STT != nil {
		p := *j.STT
		cp.STT = &p
	}
	return &cp, nil
}

func (s *Scheduler) execute(ctx context.Context, run RunnerFunc, job *entity.Job) {
	s.mu.Lock()
	now := time.Now().UTC()
	job.Status = entity.JobRunning
	job.StartedAt = &now
	s.mu.Unlock()

	var err error
	if job.Kind == entity.JobMergeTranscript {
		// The barrier: every stt job for this meeting must reach a
		// terminal state before the transcript is assembled.
		err = s.waitSTTDrained(job.MeetingID)
	}
	if err == nil {
		err = run(ctx, job)
	}
	s.finish(job, err)
}

// waitSTTDrained blocks until the meeting's outstanding stt count
// reaches zero, bounded by the configured timeout.
func (s *Scheduler) waitSTTDrained(meetingID string) error {
	s.mu.Lock()
	st := s.state(meetingID)
	if st.sttOutstanding == 0 {
		s.mu.Unlock()
		return nil
	}

	timedOut := false
	timer := time.AfterFunc(s.cfg.BarrierTimeout, func() {
		s.mu.Lock()
		timedOut = true
		st.drained.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	for st.sttOutstanding > 0 && !timedOut {
		st.drained.Wait()
	}
	outstanding := st.sttOutstanding
	s.mu.Unlock()

	if outstanding > 0 {
		return fmt.Errorf("%w: %d transcription job(s) still outstanding", entity.ErrBarrierTimeout, outstanding)
	}
	return nil
}

// finish moves a job to its terminal state and releases the per-meeting
// bookkeeping it held: the stt counter (signalling the barrier) or the
// single-flight slot. Runs on every exit path, including barrier
// timeouts.
func (s *Scheduler) finish(job *entity.Job, err error) {
	s.mu.Lock()
	now := time.Now().UTC()
	job.FinishedAt = &now
	if err != nil {
		job.Status = entity.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = entity.JobCompleted
	}

	st := s.state(job.MeetingID)
	switch job.Kind {
	case entity.JobSTT:
		st.sttOutstanding--
		if st.sttOutstanding <= 0 {
			st.sttOutstanding = 0
			st.drained.Broadcast()
		}
	case entity.JobMergeAudio:
		st.audioInFlight = false
	case entity.JobMergeTranscript:
		st.transcriptInFlight = false
	}

	status := job.Status
	duration := now.Sub(job.EnqueuedAt)
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt)
	}
	s.mu.Unlock()

	if s.met != nil {
		s.met.RecordCompleted(string(job.Kind), string(status), duration.Seconds())
		s.met.QueueDepth.Set(float64(len(s.queue)))
		switch job.Kind {
		case entity.JobSTT:
			s.met.STTOutstanding.Dec()
		default:
			s.met.MergesInFlight.Dec()
		}
	}

	if err != nil {
		// Failed jobs are recorded, not re-enqueued.
		s.log.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.String("meeting_id", job.MeetingID),
			slog.String("error", err.Error()))
		return
	}
	s.log.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("meeting_id", job.MeetingID),
		slog.Duration("duration", duration))
}
