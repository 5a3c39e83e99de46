// Package feed fetches live transit feeds, decodes them into live signal
// records and moves them between processes over Pub/Sub.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/wayforge/wayforge/internal/livesignal"
)

// ErrUnknownFormat is returned for a feed format with no decoder.
var ErrUnknownFormat = errors.New("unknown feed format")

// Format is the wire format of a feed endpoint.
type Format string

const (
	FormatGTFSRealtime Format = "gtfsrt"
	FormatJSON         Format = "json"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGTFSRealtime, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Decoder turns a feed payload into records.
type Decoder interface {
	Decode(data []byte) ([]livesignal.Record, error)
}

// NewDecoder returns the decoder for format. Records that do not name a
// feed are attributed to feed.
func NewDecoder(format Format, feed livesignal.Feed) (Decoder, error) {
	switch format {
	case FormatGTFSRealtime:
		return GTFSRealtimeDecoder{Feed: feed}, nil
	case FormatJSON:
		return JSONDecoder{Feed: feed}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// GTFSRealtimeDecoder decodes GTFS-realtime feed messages. Vehicle
// positions become records; trip update delays are attached to the
// position of the same vehicle or trip.
type GTFSRealtimeDecoder struct {
	Feed livesignal.Feed
}

// Decode implements Decoder.
func (d GTFSRealtimeDecoder) Decode(data []byte) ([]livesignal.Record, error) {
	var msg gtfs.FeedMessage
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding gtfs-realtime message: %w", err)
	}
	headerTS := int64(msg.GetHeader().GetTimestamp())

	delayByVehicle := make(map[string]float64)
	delayByTrip := make(map[string]float64)
	for _, ent := range msg.GetEntity() {
		tu := ent.GetTripUpdate()
		if tu == nil {
			continue
		}
		delay, ok := tripDelayMin(tu)
		if !ok {
			continue
		}
		if id := tu.GetVehicle().GetId(); id != "" {
			delayByVehicle[id] = delay
		}
		if id := tu.GetTrip().GetTripId(); id != "" {
			delayByTrip[id] = delay
		}
	}

	records := make([]livesignal.Record, 0, len(msg.GetEntity()))
	for _, ent := range msg.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		pos := vp.GetPosition()

		entityID := vp.GetVehicle().GetId()
		if entityID == "" {
			entityID = ent.GetId()
		}
		rec := livesignal.Record{
			Feed:      string(d.Feed),
			EntityID:  entityID,
			RouteID:   vp.GetTrip().GetRouteId(),
			Lat:       ptr(float64(pos.GetLatitude())),
			Lng:       ptr(float64(pos.GetLongitude())),
			Timestamp: int64(vp.GetTimestamp()),
		}
		if rec.Timestamp == 0 {
			rec.Timestamp = headerTS
		}
		if pos.Speed != nil {
			// GTFS-realtime reports metres per second.
			rec.Speed = ptr(float64(pos.GetSpeed()) * 3.6)
		}
		if vp.OccupancyStatus != nil {
			rec.Occupancy = vp.GetOccupancyStatus().String()
		}
		if vp.CongestionLevel != nil {
			rec.Congestion = string(congestionLevel(vp.GetCongestionLevel()))
		}

		if delay, ok := delayByVehicle[vp.GetVehicle().GetId()]; ok {
			rec.DelayMin = ptr(delay)
		} else if delay, ok := delayByTrip[vp.GetTrip().GetTripId()]; ok {
			rec.DelayMin = ptr(delay)
		}

		records = append(records, rec)
	}
	return records, nil
}

// tripDelayMin returns the trip level delay, or the delay at the first
// stop time update that reports one.
func tripDelayMin(tu *gtfs.TripUpdate) (float64, bool) {
	if tu.Delay != nil {
		return float64(tu.GetDelay()) / 60, true
	}
	for _, stu := range tu.GetStopTimeUpdate() {
		if arr := stu.GetArrival(); arr != nil && arr.Delay != nil {
			return float64(arr.GetDelay()) / 60, true
		}
		if dep := stu.GetDeparture(); dep != nil && dep.Delay != nil {
			return float64(dep.GetDelay()) / 60, true
		}
	}
	return 0, false
}

func congestionLevel(l gtfs.VehiclePosition_CongestionLevel) livesignal.Congestion {
	switch l {
	case gtfs.VehiclePosition_RUNNING_SMOOTHLY:
		return livesignal.CongestionLight
	case gtfs.VehiclePosition_STOP_AND_GO:
		return livesignal.CongestionModerate
	case gtfs.VehiclePosition_CONGESTION:
		return livesignal.CongestionHeavy
	case gtfs.VehiclePosition_SEVERE_CONGESTION:
		return livesignal.CongestionSevere
	default:
		return livesignal.CongestionUnknown
	}
}

// JSONDecoder decodes a JSON array of records, a single record, or an
// object with a "records" array.
type JSONDecoder struct {
	Feed livesignal.Feed
}

// Decode implements Decoder.
func (d JSONDecoder) Decode(data []byte) ([]livesignal.Record, error) {
	records, err := DecodeRecords(data)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Feed == "" {
			records[i].Feed = string(d.Feed)
		}
	}
	return records, nil
}

// DecodeRecords decodes the JSON forms accepted by JSONDecoder without
// defaulting the feed.
func DecodeRecords(data []byte) ([]livesignal.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decoding records: empty payload")
	}

	if trimmed[0] == '[' {
		var records []livesignal.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Records *[]livesignal.Record `json:"records"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	if envelope.Records != nil {
		return *envelope.Records, nil
	}

	var rec livesignal.Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return []livesignal.Record{rec}, nil
}

func ptr[T any](v T) *T {
	return &v
}
