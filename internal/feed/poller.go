package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/provider/resilience"
)

// Source is one feed endpoint to poll.
type Source struct {
	// Name identifies the source in logs and errors (default: feed/format).
	Name   string
	Feed   livesignal.Feed
	Format Format
	URL    string
}

func (s Source) label() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Feed) + "/" + string(s.Format)
}

// Sink receives the records decoded from one source.
type Sink interface {
	Deliver(ctx context.Context, records []livesignal.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, records []livesignal.Record) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, records []livesignal.Record) error {
	return f(ctx, records)
}

// IngestInto returns a sink that feeds records straight into an aggregator.
func IngestInto(agg *livesignal.Aggregator) Sink {
	return SinkFunc(func(ctx context.Context, records []livesignal.Record) error {
		agg.Ingest(ctx, records)
		return nil
	})
}

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PollerConfig holds configuration for the feed poller.
type PollerConfig struct {
	Sources []Source
	Sink    Sink

	// Interval between poll rounds (default: 5s).
	Interval time.Duration

	// Concurrency is the number of sources fetched at once (default: 4).
	Concurrency int

	// Timeout bounds fetching and delivering one source (default: 4s).
	Timeout time.Duration

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with retries.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Poller fetches every source on a fixed interval and hands the decoded
// records to a sink.
type Poller struct {
	sources     []Source
	decoders    []Decoder
	sink        Sink
	interval    time.Duration
	concurrency int
	timeout     time.Duration
	httpClient  HTTPDoer
	logger      zerolog.Logger

	rounds    *xsync.Counter
	fetched   *xsync.Counter
	failed    *xsync.Counter
	delivered *xsync.Counter

	mu        sync.RWMutex
	lastRound *PollResult
}

// NewPoller validates the sources and creates a poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("feed poller: sink is required")
	}
	decoders := make([]Decoder, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if src.URL == "" {
			return nil, fmt.Errorf("feed poller: source %s has no url", src.label())
		}
		dec, err := NewDecoder(src.Format, src.Feed)
		if err != nil {
			return nil, fmt.Errorf("feed poller: source %s: %w", src.label(), err)
		}
		decoders[i] = dec
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig("live-feeds")
		clientCfg.Timeout = timeout
		clientCfg.MaxRetries = 2
		clientCfg.MaxInterval = time.Second
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Poller{
		sources:     cfg.Sources,
		decoders:    decoders,
		sink:        cfg.Sink,
		interval:    interval,
		concurrency: concurrency,
		timeout:     timeout,
		httpClient:  httpClient,
		logger:      cfg.Logger,
		rounds:      xsync.NewCounter(),
		fetched:     xsync.NewCounter(),
		failed:      xsync.NewCounter(),
		delivered:   xsync.NewCounter(),
	}, nil
}

// PollResult contains the result of one poll round.
type PollResult struct {
	StartTime  time.Time     `json:"startTime"`
	Duration   time.Duration `json:"duration"`
	Sources    int           `json:"sources"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Records    int           `json:"records"`
	Errors     []PollError   `json:"errors,omitempty"`
}

// PollError is a failure for one source.
type PollError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().
		Int("sources", len(p.sources)).
		Dur("interval", p.interval).
		Msg("starting feed poller")

	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

type sourceResult struct {
	source  string
	records int
	err     error
}

// PollOnce fetches every source once with a bounded worker pool.
func (p *Poller) PollOnce(ctx context.Context) *PollResult {
	start := time.Now()
	result := &PollResult{StartTime: start, Sources: len(p.sources)}

	work := make(chan int, len(p.sources))
	results := make(chan sourceResult, len(p.sources))

	var wg sync.WaitGroup
	for i := 0; i < min(p.concurrency, len(p.sources)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil {
					results <- sourceResult{source: p.sources[idx].label(), err: ctx.Err()}
					continue
				}
				results <- p.pollSource(ctx, idx)
			}
		}()
	}

	for i := range p.sources {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	for sr := range results {
		if sr.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, PollError{Source: sr.source, Error: sr.err.Error()})
			continue
		}
		result.Successful++
		result.Records += sr.records
	}
	result.Duration = time.Since(start)

	p.rounds.Inc()
	p.fetched.Add(int64(result.Successful))
	p.failed.Add(int64(result.Failed))
	p.delivered.Add(int64(result.Records))

	p.mu.Lock()
	p.lastRound = result
	p.mu.Unlock()

	event := p.logger.Debug()
	if result.Failed > 0 {
		event = p.logger.Warn().Interface("errors", result.Errors)
	}
	event.
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("records", result.Records).
		Msg("feed poll completed")

	return result
}

func (p *Poller) pollSource(ctx context.Context, idx int) sourceResult {
	src := p.sources[idx]
	res := sourceResult{source: src.label()}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.fetch(ctx, src)
	if err != nil {
		res.err = err
		return res
	}
	records, err := p.decoders[idx].Decode(data)
	if err != nil {
		res.err = err
		return res
	}
	if len(records) == 0 {
		return res
	}
	if err := p.sink.Deliver(ctx, records); err != nil {
		res.err = fmt.Errorf("delivering records: %w", err)
		return res
	}
	res.records = len(records)
	return res
}

func (p *Poller) fetch(ctx context.Context, src Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if src.Format == FormatJSON {
		req.Header.Set("Accept", "application/json")
	} else {
		req.Header.Set("Accept", "application/x-protobuf")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching feed: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}
	return data, nil
}

// PollerMetrics counts poller activity.
type PollerMetrics struct {
	Rounds    int64       `json:"rounds"`
	Fetched   int64       `json:"fetched"`
	Failed    int64       `json:"failed"`
	Delivered int64       `json:"delivered"`
	LastRound *PollResult `json:"lastRound,omitempty"`
}

// Metrics returns the poller counters and the last round.
func (p *Poller) Metrics() PollerMetrics {
	p.mu.RLock()
	last := p.lastRound
	p.mu.RUnlock()

	return PollerMetrics{
		Rounds:    p.rounds.Value(),
		Fetched:   p.fetched.Value(),
		Failed:    p.failed.Value(),
		Delivered: p.delivered.Value(),
		LastRound: last,
	}
}
