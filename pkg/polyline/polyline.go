// Package polyline encodes and decodes Google's polyline format (precision 5,
// as returned by OpenRouteService) and measures and samples decoded paths.
// The format is documented at https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"math"
)

const precision = 1e5

// Coordinate represents a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Decode decodes a polyline-encoded string into a slice of coordinates.
// A truncated trailing pair is ignored.
func Decode(encoded string) []Coordinate {
	if encoded == "" {
		return nil
	}

	var coords []Coordinate
	var lat, lon int
	for index := 0; index < len(encoded); {
		latDelta, next, ok := decodeValue(encoded, index)
		if !ok {
			break
		}
		lonDelta, next, ok := decodeValue(encoded, next)
		if !ok {
			break
		}
		index = next
		lat += latDelta
		lon += lonDelta
		coords = append(coords, Coordinate{
			Lat: float64(lat) / precision,
			Lon: float64(lon) / precision,
		})
	}

	return coords
}

// decodeValue reads one zig-zag encoded delta starting at index.
func decodeValue(encoded string, index int) (value, next int, ok bool) {
	shift := 0
	result := 0
	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), index, true
			}
			return result >> 1, index, true
		}
	}
	return 0, index, false
}

// Encode encodes a slice of coordinates into a polyline-encoded string.
func Encode(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*8)
	var prevLat, prevLon int
	for _, c := range coords {
		lat := int(math.Round(c.Lat * precision))
		lon := int(math.Round(c.Lon * precision))
		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lon-prevLon)
		prevLat, prevLon = lat, lon
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}
	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// Length returns the length of the path in meters.
func Length(coords []Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}

// Sample returns points spaced intervalMeters apart along the path, always
// including the first and last point. A non-positive interval returns the
// path unchanged.
func Sample(coords []Coordinate, intervalMeters float64) []Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if intervalMeters <= 0 || len(coords) == 1 {
		return coords
	}

	sampled := []Coordinate{coords[0]}
	// carried is the distance walked since the last sample.
	carried := 0.0
	for i := 1; i < len(coords); i++ {
		from, to := coords[i-1], coords[i]
		segment := Distance(from, to)
		if segment == 0 {
			continue
		}
		pos := intervalMeters - carried
		for ; pos <= segment; pos += intervalMeters {
			f := pos / segment
			sampled = append(sampled, Coordinate{
				Lat: from.Lat + f*(to.Lat-from.Lat),
				Lon: from.Lon + f*(to.Lon-from.Lon),
			})
		}
		carried = segment - (pos - intervalMeters)
	}

	last := coords[len(coords)-1]
	if sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}
	return sampled
}

const earthRadiusMeters = 6371000

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
