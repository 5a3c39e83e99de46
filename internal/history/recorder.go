package history

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/optimizer"
)

// RecorderConfig holds configuration for the recorder.
type RecorderConfig struct {
	// Repository stores the results (required).
	Repository Repository

	// QueueSize bounds how many results wait to be saved (default: 256).
	// Results arriving while the queue is full are dropped.
	QueueSize int

	// SaveTimeout bounds each save (default: 5s).
	SaveTimeout time.Duration

	Logger zerolog.Logger
}

// Recorder saves results in the background so requests never wait on
// storage. It implements optimizer.Recorder.
type Recorder struct {
	repo        Repository
	queue       chan *optimizer.Result
	saveTimeout time.Duration
	logger      zerolog.Logger

	saved   *xsync.Counter
	dropped *xsync.Counter
	failed  *xsync.Counter

	closeOnce sync.Once
	done      chan struct{}
}

// RecorderStats counts recorder outcomes.
type RecorderStats struct {
	Saved   int64 `json:"saved"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Queued  int   `json:"queued"`
}

// NewRecorder creates a recorder and starts its worker.
func NewRecorder(cfg RecorderConfig) *Recorder {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.SaveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := &Recorder{
		repo:        cfg.Repository,
		queue:       make(chan *optimizer.Result, size),
		saveTimeout: timeout,
		logger:      cfg.Logger,
		saved:       xsync.NewCounter(),
		dropped:     xsync.NewCounter(),
		failed:      xsync.NewCounter(),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues a result without blocking. It must not be called after
// Close.
func (r *Recorder) Record(result *optimizer.Result) {
	select {
	case r.queue <- result:
	default:
		r.dropped.Inc()
		r.logger.Warn().
			Str("optimization_id", result.ID.String()).
			Msg("history queue full, dropping result")
	}
}

// Close stops accepting results and waits for queued ones to be saved or
// for ctx to be done.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.queue) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Saved:   r.saved.Value(),
		Dropped: r.dropped.Value(),
		Failed:  r.failed.Value(),
		Queued:  len(r.queue),
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for result := range r.queue {
		r.save(result)
	}
}

func (r *Recorder) save(result *optimizer.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()

	if err := r.repo.Save(ctx, result); err != nil {
		r.failed.Inc()
		r.logger.Error().Err(err).
			Str("optimization_id", result.ID.String()).
			Msg("failed to save optimization")
		return
	}
	r.saved.Inc()
}

// Ensure Recorder implements optimizer.Recorder.
var _ optimizer.Recorder = (*Recorder)(nil)
