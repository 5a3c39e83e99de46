package feed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/wayforge/wayforge/internal/feed"
	"github.com/wayforge/wayforge/internal/livesignal"
)

var observedAt = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

func gtfsMessage(t *testing.T) []byte {
	t.Helper()
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(observedAt.Unix())),
		},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("tu-1"),
				TripUpdate: &gtfs.TripUpdate{
					Trip:    &gtfs.TripDescriptor{TripId: proto.String("500D-0815"), RouteId: proto.String("500D")},
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("KA01F1234")},
					StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
						{Arrival: &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(240)}},
					},
				},
			},
			{
				Id: proto.String("vp-1"),
				Vehicle: &gtfs.VehiclePosition{
					Trip:    &gtfs.TripDescriptor{TripId: proto.String("500D-0815"), RouteId: proto.String("500D")},
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("KA01F1234")},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(12.9756),
						Longitude: proto.Float32(77.6066),
						Speed:     proto.Float32(5),
					},
					Timestamp:       proto.Uint64(uint64(observedAt.Add(-10 * time.Second).Unix())),
					OccupancyStatus: gtfs.VehiclePosition_STANDING_ROOM_ONLY.Enum(),
					CongestionLevel: gtfs.VehiclePosition_STOP_AND_GO.Enum(),
				},
			},
			{
				Id: proto.String("vp-2"),
				Vehicle: &gtfs.VehiclePosition{
					Trip: &gtfs.TripDescriptor{TripId: proto.String("335E-0820")},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(12.9352),
						Longitude: proto.Float32(77.6245),
					},
				},
			},
			{
				Id:      proto.String("vp-3"),
				Vehicle: &gtfs.VehiclePosition{Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("no-position")}},
			},
		},
	}
	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestGTFSRealtimeDecoder(t *testing.T) {
	records, err := feed.GTFSRealtimeDecoder{Feed: livesignal.FeedBus}.Decode(gtfsMessage(t))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "bus", first.Feed)
	assert.Equal(t, "KA01F1234", first.EntityID)
	assert.Equal(t, "500D", first.RouteID)
	assert.InDelta(t, 12.9756, *first.Lat, 1e-4)
	assert.InDelta(t, 77.6066, *first.Lng, 1e-4)
	assert.InDelta(t, 18.0, *first.Speed, 1e-6)
	assert.Equal(t, "STANDING_ROOM_ONLY", first.Occupancy)
	assert.Equal(t, "MODERATE", first.Congestion)
	require.NotNil(t, first.DelayMin)
	assert.InDelta(t, 4.0, *first.DelayMin, 1e-9)
	assert.Equal(t, observedAt.Add(-10*time.Second).Unix(), first.Timestamp)

	second := records[1]
	assert.Equal(t, "vp-2", second.EntityID, "entity id is used when there is no vehicle id")
	assert.Equal(t, observedAt.Unix(), second.Timestamp, "header timestamp is the fallback")
	assert.Nil(t, second.DelayMin)
	assert.Nil(t, second.Speed)
	assert.Empty(t, second.Occupancy)

	for _, rec := range records {
		_, err := rec.Normalize(observedAt)
		assert.NoError(t, err)
	}
}

func TestGTFSRealtimeDecoder_Malformed(t *testing.T) {
	_, err := feed.GTFSRealtimeDecoder{Feed: livesignal.FeedBus}.Decode([]byte("not a protobuf"))
	assert.Error(t, err)
}

func TestJSONDecoder(t *testing.T) {
	tests := map[string]string{
		"array":    `[{"entity_id":"corridor-1","lat":12.97,"lng":77.6,"congestion":"HEAVY","timestamp":1772440200}]`,
		"envelope": `{"records":[{"entity_id":"corridor-1","lat":12.97,"lng":77.6,"congestion":"HEAVY","timestamp":1772440200}]}`,
		"single":   `{"entity_id":"corridor-1","lat":12.97,"lng":77.6,"congestion":"HEAVY","timestamp":1772440200}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			records, err := feed.JSONDecoder{Feed: livesignal.FeedTraffic}.Decode([]byte(payload))
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "traffic", records[0].Feed)
			assert.Equal(t, "HEAVY", records[0].Congestion)
		})
	}
}

func TestJSONDecoder_KeepsExplicitFeed(t *testing.T) {
	records, err := feed.JSONDecoder{Feed: livesignal.FeedTraffic}.Decode(
		[]byte(`[{"feed":"ride_hail","entity_id":"zone-4","lat":12.93,"lng":77.62,"surge":1.5,"timestamp":1772440200}]`))
	require.NoError(t, err)
	assert.Equal(t, "ride_hail", records[0].Feed)
}

func TestDecodeRecords_Invalid(t *testing.T) {
	for _, payload := range []string{"", "   ", "{", "[1,2]", `"text"`} {
		_, err := feed.DecodeRecords([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := feed.ParseFormat(" GTFSRT ")
	require.NoError(t, err)
	assert.Equal(t, feed.FormatGTFSRealtime, f)

	_, err = feed.ParseFormat("siri")
	assert.ErrorIs(t, err, feed.ErrUnknownFormat)
}

type collectingSink struct {
	mu      sync.Mutex
	batches [][]livesignal.Record
	err     error
}

func (s *collectingSink) Deliver(_ context.Context, records []livesignal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

func TestPoller_PollOnce(t *testing.T) {
	pb := gtfsMessage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bus.pb":
			_, _ = w.Write(pb)
		case "/traffic.json":
			_, _ = w.Write([]byte(`[{"entity_id":"orr","lat":12.93,"lng":77.68,"delay_ratio":1.7,"timestamp":1772440200}]`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	sink := &collectingSink{}
	poller, err := feed.NewPoller(feed.PollerConfig{
		Sources: []feed.Source{
			{Feed: livesignal.FeedBus, Format: feed.FormatGTFSRealtime, URL: srv.URL + "/bus.pb"},
			{Feed: livesignal.FeedTraffic, Format: feed.FormatJSON, URL: srv.URL + "/traffic.json"},
			{Name: "metro", Feed: livesignal.FeedMetro, Format: feed.FormatJSON, URL: srv.URL + "/down"},
		},
		Sink:        sink,
		Concurrency: 2,
		HTTPClient:  srv.Client(),
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	result := poller.PollOnce(context.Background())
	assert.Equal(t, 3, result.Sources)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Records)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "metro", result.Errors[0].Source)
	assert.Len(t, sink.batches, 2)

	m := poller.Metrics()
	assert.Equal(t, int64(1), m.Rounds)
	assert.Equal(t, int64(3), m.Delivered)
	assert.Same(t, result, m.LastRound)
}

func TestPoller_SinkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"entity_id":"orr","lat":12.93,"lng":77.68,"timestamp":1772440200}]`))
	}))
	defer srv.Close()

	poller, err := feed.NewPoller(feed.PollerConfig{
		Sources:    []feed.Source{{Feed: livesignal.FeedTraffic, Format: feed.FormatJSON, URL: srv.URL}},
		Sink:       &collectingSink{err: errors.New("topic not found")},
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	result := poller.PollOnce(context.Background())
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors[0].Error, "topic not found")
}

func TestNewPoller_Invalid(t *testing.T) {
	_, err := feed.NewPoller(feed.PollerConfig{Logger: zerolog.Nop()})
	assert.Error(t, err, "sink is required")

	_, err = feed.NewPoller(feed.PollerConfig{
		Sources: []feed.Source{{Feed: livesignal.FeedBus, Format: "siri", URL: "http://x"}},
		Sink:    &collectingSink{},
	})
	assert.ErrorIs(t, err, feed.ErrUnknownFormat)

	_, err = feed.NewPoller(feed.PollerConfig{
		Sources: []feed.Source{{Feed: livesignal.FeedBus, Format: feed.FormatJSON}},
		Sink:    &collectingSink{},
	})
	assert.Error(t, err)
}

func TestPoller_IngestIntoAggregator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gtfsMessage(t))
	}))
	defer srv.Close()

	agg := livesignal.NewAggregator(livesignal.Config{
		Clock:  func() time.Time { return observedAt },
		Logger: zerolog.Nop(),
	})
	poller, err := feed.NewPoller(feed.PollerConfig{
		Sources:    []feed.Source{{Feed: livesignal.FeedBus, Format: feed.FormatGTFSRealtime, URL: srv.URL}},
		Sink:       feed.IngestInto(agg),
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	poller.PollOnce(context.Background())
	assert.Equal(t, 2, agg.Stats().Signals[livesignal.FeedBus])
}

func TestBatchHandler(t *testing.T) {
	agg := livesignal.NewAggregator(livesignal.Config{
		Clock:  func() time.Time { return observedAt },
		Logger: zerolog.Nop(),
	})
	h := feed.NewBatchHandler(agg, zerolog.Nop())

	payload, err := feed.EncodeBatch([]livesignal.Record{
		{Feed: "metro", EntityID: "purple-12", Lat: ptr(12.9756), Lng: ptr(77.6066), Timestamp: observedAt.Unix()},
		{Feed: "metro", EntityID: "", Lat: ptr(12.9756), Lng: ptr(77.6066), Timestamp: observedAt.Unix()},
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), payload))
	assert.Error(t, h.Handle(context.Background(), []byte("{broken")))

	assert.Equal(t, feed.BatchStats{Messages: 2, Malformed: 1, Accepted: 1, Dropped: 1}, h.Stats())
	assert.Equal(t, 1, agg.Stats().Signals[livesignal.FeedMetro])
}

func ptr(v float64) *float64 { return &v }
