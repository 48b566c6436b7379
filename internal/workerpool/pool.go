// Package workerpool runs the background jobs the request path enqueues
// without blocking on: scoring a freshly-seen content item, and re-deriving
// a user's or content item's MBTI vector once a threshold is crossed.
// Grounded on internal/services/pipeline_orchestrator.go's worker-pool-of-
// channels shape (a fixed set of workers registering their job channel into
// a shared pool, a dispatcher handing jobs to whichever worker is free),
// generalized from Kafka message processing to the three job kinds C4/C5
// submit, and from a blocking 5s-timeout enqueue to drop-on-full since the
// caller here is a live HTTP request, not a retryable consumer loop.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/profile"
	"github.com/mbti-rec/server/internal/scoring"
)

// JobKind names which of the three background operations a Job runs.
type JobKind string

const (
	JobScoreContent  JobKind = "score_content"
	JobUpdateUser    JobKind = "update_user"
	JobUpdateContent JobKind = "update_content"
)

// Job is one unit of background work. Only the fields relevant to Kind are
// populated; ContentInput carries the title/text a score_content job scores,
// Force lets update_user/update_content jobs bypass their threshold check.
type Job struct {
	Kind         JobKind
	ContentInput scoring.ContentInput
	UserID       int64
	ContentID    int64
	Force        bool
}

var (
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mbti_worker_jobs_submitted_total",
		Help: "Jobs accepted onto the background worker queue, by kind.",
	}, []string{"kind"})
	jobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mbti_worker_jobs_dropped_total",
		Help: "Jobs rejected because the background worker queue was full, by kind.",
	}, []string{"kind"})
	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mbti_worker_jobs_failed_total",
		Help: "Jobs that returned an error while running, by kind.",
	}, []string{"kind"})
)

// Pool is a fixed-size worker pool draining a bounded job queue.
type Pool struct {
	scoring *scoring.Engine
	profile *profile.Updater
	logger  *logrus.Logger

	size       int
	queue      chan Job
	workerPool chan chan Job
	quit       chan struct{}
	wg         sync.WaitGroup
	drainGrace time.Duration
}

// New builds a Pool sized and queued per config.WorkerConfig (size/capacity),
// but takes them as plain ints/durations to keep this package independent of
// internal/config.
func New(size, queueCapacity int, drainGrace time.Duration, eng *scoring.Engine, upd *profile.Updater, logger *logrus.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		scoring:    eng,
		profile:    upd,
		logger:     logger,
		size:       size,
		queue:      make(chan Job, queueCapacity),
		workerPool: make(chan chan Job, size),
		quit:       make(chan struct{}),
		drainGrace: drainGrace,
	}
}

// Start launches the dispatcher and the fixed worker set.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		jobChannel := make(chan Job)
		p.wg.Add(1)
		go p.runWorker(i+1, jobChannel)
	}
	p.wg.Add(1)
	go p.dispatch()
}

// Stop signals all workers to exit after their current job, then waits up
// to drainGrace for them to finish (§4.7 "graceful drain").
func (p *Pool) Stop() {
	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.drainGrace):
		p.logger.Warn("worker pool drain grace period expired, some jobs may be abandoned")
	}
}

func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queue:
			select {
			case jobChannel := <-p.workerPool:
				jobChannel <- job
			case <-p.quit:
				return
			}
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) runWorker(id int, jobChannel chan Job) {
	defer p.wg.Done()
	for {
		p.workerPool <- jobChannel
		select {
		case job := <-jobChannel:
			p.run(id, job)
		case <-p.quit:
			return
		}
	}
}

// submit enqueues a job without blocking, reporting false (and incrementing
// jobsDropped) if the queue is already full.
func (p *Pool) submit(job Job) bool {
	select {
	case p.queue <- job:
		jobsSubmitted.WithLabelValues(string(job.Kind)).Inc()
		return true
	default:
		jobsDropped.WithLabelValues(string(job.Kind)).Inc()
		p.logger.WithField("kind", job.Kind).Warn("worker queue full, dropping job")
		return false
	}
}

// SubmitScoreContent satisfies internal/recommend.ScoreEnqueuer: it enqueues
// a content id for scoring with whatever input the caller already has (often
// just the id, when the recommender found an unscored candidate mid-ranking).
func (p *Pool) SubmitScoreContent(contentID int64) bool {
	return p.submit(Job{Kind: JobScoreContent, ContentInput: scoring.ContentInput{ContentID: contentID}})
}

// SubmitScoreContentInput enqueues a content item together with the
// title/text the caller already has, so the job scores that text rather than
// the bare id.
func (p *Pool) SubmitScoreContentInput(in scoring.ContentInput) bool {
	return p.submit(Job{Kind: JobScoreContent, ContentInput: in})
}

// SubmitUpdateUser enqueues a user profile re-derivation.
func (p *Pool) SubmitUpdateUser(userID int64, force bool) bool {
	return p.submit(Job{Kind: JobUpdateUser, UserID: userID, Force: force})
}

// SubmitUpdateContent enqueues a content vector re-derivation.
func (p *Pool) SubmitUpdateContent(contentID int64, force bool) bool {
	return p.submit(Job{Kind: JobUpdateContent, ContentID: contentID, Force: force})
}

func (p *Pool) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := p.logger.WithField("worker_id", workerID).WithField("kind", job.Kind)

	var err error
	switch job.Kind {
	case JobScoreContent:
		_, err = p.scoring.EnsureScored(ctx, job.ContentInput)
	case JobUpdateUser:
		_, err = p.profile.UpdateUserFromBehaviors(ctx, job.UserID, job.Force, 0)
	case JobUpdateContent:
		_, err = p.profile.UpdateContentFromUsers(ctx, job.ContentID, job.Force)
	default:
		logger.Warn("unknown job kind")
		return
	}

	if err != nil {
		jobsFailed.WithLabelValues(string(job.Kind)).Inc()
		logger.WithError(err).Warn("background job failed")
	}
}
