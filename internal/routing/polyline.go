package routing

import (
	"math"

	"github.com/example/bottle-collector/internal/models"
)

const polylineScale = 1e5

// DecodePolyline decodes the signed varint delta encoding used by Google and
// OSRM (5-bit groups, 0x20 continuation, zig-zag sign, 1e5 scale). Deltas are
// summed as integers so the result matches the encoder exactly.
func DecodePolyline(encoded string) ([]models.Coord, error) {
	points := make([]models.Coord, 0, len(encoded)/4)
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dLat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dLng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dLat
		lng += dLng
		points = append(points, models.Coord{Lat: float64(lat) / polylineScale, Lng: float64(lng) / polylineScale})
	}
	return points, nil
}

func decodeValue(s string, i int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if i >= len(s) || shift > 60 {
			return 0, i, ErrMalformedPolyline
		}
		b := int64(s[i]) - 63
		i++
		if b < 0 {
			return 0, i, ErrMalformedPolyline
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(coords []models.Coord) string {
	buf := make([]byte, 0, len(coords)*8)
	var pLat, pLng int64
	for _, c := range coords {
		lat := int64(math.Round(c.Lat * polylineScale))
		lng := int64(math.Round(c.Lng * polylineScale))
		buf = appendValue(buf, lat-pLat)
		buf = appendValue(buf, lng-pLng)
		pLat, pLng = lat, lng
	}
	return string(buf)
}

func appendValue(buf []byte, v int64) []byte {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		buf = append(buf, byte(0x20|(u&0x1f))+63)
		u >>= 5
	}
	return append(buf, byte(u)+63)
}
