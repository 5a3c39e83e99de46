package livesignal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wayforge/wayforge/internal/transit"
)

const meterName = "github.com/wayforge/wayforge/internal/livesignal"

// Config holds configuration for the aggregator.
type Config struct {
	// Store is the shared signal store. A new one is created when nil.
	Store *Store

	// MaxAge is how old a signal may be before it is treated as absent
	// (default: 30 seconds).
	MaxAge time.Duration

	// StopRadiusKm is the search radius around a boarding point
	// (default: 1.0).
	StopRadiusKm float64

	// CorridorRadiusKm is the search radius for traffic along the trip
	// (default: 3.0).
	CorridorRadiusKm float64

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// Aggregator normalizes ingested records into the store and answers
// per-mode queries against it.
type Aggregator struct {
	store            *Store
	maxAge           time.Duration
	stopRadiusKm     float64
	corridorRadiusKm float64
	clock            func() time.Time
	logger           zerolog.Logger

	accepted   *xsync.Counter
	dropped    *xsync.Counter
	superseded *xsync.Counter
	pruned     *xsync.Counter

	ingested metric.Int64Counter
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg Config) *Aggregator {
	store := cfg.Store
	if store == nil {
		store = NewStore()
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}

	stopRadius := cfg.StopRadiusKm
	if stopRadius <= 0 {
		stopRadius = 1.0
	}

	corridorRadius := cfg.CorridorRadiusKm
	if corridorRadius <= 0 {
		corridorRadius = 3.0
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	a := &Aggregator{
		store:            store,
		maxAge:           maxAge,
		stopRadiusKm:     stopRadius,
		corridorRadiusKm: corridorRadius,
		clock:            clock,
		logger:           cfg.Logger,
		accepted:         xsync.NewCounter(),
		dropped:          xsync.NewCounter(),
		superseded:       xsync.NewCounter(),
		pruned:           xsync.NewCounter(),
	}

	counter, err := otel.Meter(meterName).Int64Counter(
		"livesignal.records.total",
		metric.WithDescription("Live signal records processed by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to create live signal counter")
	} else {
		a.ingested = counter
	}

	return a
}

// IngestResult summarizes one ingestion batch.
type IngestResult struct {
	Accepted   int `json:"accepted"`
	Dropped    int `json:"dropped"`
	Superseded int `json:"superseded"`
}

// Ingest normalizes records and upserts the valid ones. Malformed records
// are dropped and counted; they never fail the batch.
func (a *Aggregator) Ingest(ctx context.Context, records []Record) IngestResult {
	now := a.clock()
	signals := make([]Signal, 0, len(records))
	var res IngestResult

	for i := range records {
		sig, err := records[i].Normalize(now)
		if err != nil {
			res.Dropped++
			a.logger.Debug().
				Err(err).
				Str("feed", records[i].Feed).
				Str("entity_id", records[i].EntityID).
				Msg("dropping malformed live record")
			continue
		}
		signals = append(signals, sig)
	}

	return a.apply(ctx, signals, res)
}

// IngestSignals upserts already-normalized signals, e.g. from a GTFS-realtime
// decoder. Signals without a feed, entity id or timestamp are dropped.
func (a *Aggregator) IngestSignals(ctx context.Context, signals []Signal) IngestResult {
	now := a.clock()
	valid := make([]Signal, 0, len(signals))
	var res IngestResult

	for _, sig := range signals {
		if _, ok := parseFeed(string(sig.Feed)); !ok || sig.EntityID == "" || sig.Timestamp.IsZero() ||
			sig.Position.Validate() != nil || !finite(sig.SpeedKmh) || !finite(sig.DelayMin) {
			res.Dropped++
			continue
		}
		if sig.ReceivedAt.IsZero() {
			sig.ReceivedAt = now
		}
		valid = append(valid, sig)
	}

	return a.apply(ctx, valid, res)
}

func (a *Aggregator) apply(ctx context.Context, signals []Signal, res IngestResult) IngestResult {
	up := a.store.UpsertBatch(signals)
	res.Accepted = up.Applied
	res.Superseded = up.Superseded

	a.accepted.Add(int64(res.Accepted))
	a.dropped.Add(int64(res.Dropped))
	a.superseded.Add(int64(res.Superseded))

	if a.ingested != nil {
		a.ingested.Add(ctx, int64(res.Accepted), metric.WithAttributes(attribute.String("outcome", "accepted")))
		a.ingested.Add(ctx, int64(res.Dropped), metric.WithAttributes(attribute.String("outcome", "dropped")))
		a.ingested.Add(ctx, int64(res.Superseded), metric.WithAttributes(attribute.String("outcome", "superseded")))
	}

	if res.Dropped > 0 {
		a.logger.Warn().
			Int("accepted", res.Accepted).
			Int("dropped", res.Dropped).
			Msg("live batch contained malformed records")
	}
	return res
}

// Prune removes signals older than the staleness threshold.
func (a *Aggregator) Prune() int {
	n := a.store.Prune(a.clock().Add(-a.maxAge))
	a.pruned.Add(int64(n))
	return n
}

// RunPruner prunes expired signals every interval until ctx is done. A
// non-positive interval prunes once per MaxAge.
func (a *Aggregator) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = a.maxAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Prune(); n > 0 {
				a.logger.Debug().Int("pruned", n).Msg("pruned stale live signals")
			}
		}
	}
}

// Stats is a point-in-time report of the aggregator.
type Stats struct {
	Signals    map[Feed]int  `json:"signals"`
	Accepted   int64         `json:"accepted"`
	Dropped    int64         `json:"dropped"`
	Superseded int64         `json:"superseded"`
	Pruned     int64         `json:"pruned"`
	MaxAge     time.Duration `json:"maxAge"`
}

// Stats returns ingestion counters and the current signal count per feed.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Signals:    a.store.CountByFeed(),
		Accepted:   a.accepted.Value(),
		Dropped:    a.dropped.Value(),
		Superseded: a.superseded.Value(),
		Pruned:     a.pruned.Value(),
		MaxAge:     a.maxAge,
	}
}

// Snapshot freezes the current signals and time so that every query made
// through the view sees the same data.
func (a *Aggregator) Snapshot() *View {
	return &View{
		snap:             a.store.load(),
		now:              a.clock(),
		maxAge:           a.maxAge,
		stopRadiusKm:     a.stopRadiusKm,
		corridorRadiusKm: a.corridorRadiusKm,
	}
}

// SignalsFor returns fresh signals for mode m within radiusKm of near.
func (a *Aggregator) SignalsFor(ctx context.Context, m transit.Mode, near transit.Location, radiusKm float64) ([]Signal, error) {
	return a.Snapshot().SignalsFor(ctx, m, near, radiusKm)
}

// DelayFor returns the mean delay reported on a route or corridor.
func (a *Aggregator) DelayFor(ctx context.Context, m transit.Mode, corridorID string) (float64, error) {
	return a.Snapshot().DelayFor(ctx, m, corridorID)
}

// View is a frozen, read-only window onto the store.
type View struct {
	snap             *snapshot
	now              time.Time
	maxAge           time.Duration
	stopRadiusKm     float64
	corridorRadiusKm float64
}

// Now returns the instant the view was taken.
func (v *View) Now() time.Time {
	return v.now
}

func (v *View) fresh(s Signal) bool {
	return !s.Timestamp.Before(v.now.Add(-v.maxAge))
}

type ranked struct {
	sig  Signal
	dist float64
}

// SignalsFor returns copies of the fresh signals applicable to m within
// radiusKm of near, nearest first and newest first among equals.
// It returns ErrNoLiveSignal when none match.
func (v *View) SignalsFor(ctx context.Context, m transit.Mode, near transit.Location, radiusKm float64) ([]Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = v.stopRadiusKm
	}

	var hits []ranked
	for _, feed := range FeedsFor(m) {
		for _, s := range v.snap.feeds[feed] {
			if !s.AppliesTo(m) || !v.fresh(s) {
				continue
			}
			d := transit.HaversineKm(near, s.Position)
			if d > radiusKm {
				continue
			}
			hits = append(hits, ranked{sig: s, dist: d})
		}
	}

	if len(hits) == 0 {
		return nil, ErrNoLiveSignal
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		if !hits[i].sig.Timestamp.Equal(hits[j].sig.Timestamp) {
			return hits[i].sig.Timestamp.After(hits[j].sig.Timestamp)
		}
		if hits[i].sig.Feed != hits[j].sig.Feed {
			return hits[i].sig.Feed < hits[j].sig.Feed
		}
		return hits[i].sig.EntityID < hits[j].sig.EntityID
	})

	out := make([]Signal, len(hits))
	for i, h := range hits {
		out[i] = h.sig
	}
	return out, nil
}

// DelayFor returns the mean delay of fresh signals for m on corridorID.
func (v *View) DelayFor(ctx context.Context, m transit.Mode, corridorID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(corridorID) == "" {
		return 0, ErrNoLiveSignal
	}

	var sum float64
	var n int
	for _, feed := range FeedsFor(m) {
		for _, s := range v.snap.feeds[feed] {
			if s.RouteID != corridorID || !s.AppliesTo(m) || !v.fresh(s) {
				continue
			}
			sum += s.DelayMin
			n++
		}
	}

	if n == 0 {
		return 0, ErrNoLiveSignal
	}
	return sum / float64(n), nil
}

// Conditions is the live picture relevant to one trip on one mode.
type Conditions struct {
	// DelayMin is the mean reported delay of nearby vehicles.
	DelayMin float64

	// Congestion is the worst level reported along the trip.
	Congestion Congestion

	// Surge is the multiplier of the nearest ride-hail report, 1 if none.
	Surge float64

	// Occupancy of the nearest vehicle.
	Occupancy Occupancy

	// Signals are the observations the conditions were derived from.
	Signals []Signal
}

// ConditionsFor summarizes live data for a trip from origin to destination
// on mode m. Vehicle feeds are searched around the origin, traffic around
// both endpoints and the midpoint. It returns ErrNoLiveSignal when nothing
// fresh applies.
func (v *View) ConditionsFor(ctx context.Context, m transit.Mode, origin, destination transit.Location) (Conditions, error) {
	mid := transit.Location{Lat: (origin.Lat + destination.Lat) / 2, Lon: (origin.Lon + destination.Lon) / 2}
	return v.ConditionsAlong(ctx, m, []transit.Location{origin, mid, destination})
}

// ConditionsAlong is ConditionsFor over an explicit path. Vehicle feeds are
// searched around the first point and traffic around every point.
func (v *View) ConditionsAlong(ctx context.Context, m transit.Mode, path []transit.Location) (Conditions, error) {
	c := Conditions{Surge: 1}
	if len(path) == 0 {
		return c, ErrNoLiveSignal
	}

	near, err := v.SignalsFor(ctx, m, path[0], v.stopRadiusKm)
	if err != nil && !errors.Is(err, ErrNoLiveSignal) {
		return c, err
	}

	var delaySum float64
	var delayN int
	surgeSet := false
	for _, s := range near {
		switch s.Feed {
		case FeedBus, FeedMetro:
			delaySum += s.DelayMin
			delayN++
			if c.Occupancy == OccupancyUnknown {
				c.Occupancy = s.Occupancy
			}
			c.Signals = append(c.Signals, s)
		case FeedRideHail:
			// near is ordered by distance, so the first report wins.
			if !surgeSet && s.Surge > 0 {
				c.Surge = s.Surge
				c.Signals = append(c.Signals, s)
				surgeSet = true
			}
		}
	}
	if delayN > 0 {
		c.DelayMin = delaySum / float64(delayN)
	}

	if usesTraffic(m) {
		seen := map[string]bool{}
		for _, p := range path {
			traffic, err := v.SignalsFor(ctx, m, p, v.corridorRadiusKm)
			if err != nil && !errors.Is(err, ErrNoLiveSignal) {
				return c, err
			}
			for _, s := range traffic {
				if s.Feed != FeedTraffic || seen[s.EntityID] {
					continue
				}
				seen[s.EntityID] = true
				if congestionRank(s.Congestion) > congestionRank(c.Congestion) {
					c.Congestion = s.Congestion
				}
				c.Signals = append(c.Signals, s)
			}
		}
	}

	if len(c.Signals) == 0 {
		return Conditions{Surge: 1}, ErrNoLiveSignal
	}
	return c, nil
}

func usesTraffic(m transit.Mode) bool {
	return lo.Contains(FeedsFor(m), FeedTraffic)
}

func congestionRank(c Congestion) int {
	switch c {
	case CongestionLight:
		return 1
	case CongestionModerate:
		return 2
	case CongestionHeavy:
		return 3
	case CongestionSevere:
		return 4
	default:
		return 0
	}
}
