package route

import (
	"errors"
	"math"
	"strings"

	"github.com/shohag/dispatchrelay/internal/geo"
)

const polylinePrecision = 1e5

var ErrMalformedPolyline = errors.New("malformed polyline")

// EncodePolyline encodes coords with the Google encoded polyline algorithm
// at five decimal places.
func EncodePolyline(coords []geo.Point) string {
	var b strings.Builder
	var prevLat, prevLng int64
	for _, c := range coords {
		lat := int64(math.Round(c.Lat * polylinePrecision))
		lng := int64(math.Round(c.Lng * polylinePrecision))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}

// DecodePolyline reverses EncodePolyline.
func DecodePolyline(s string) ([]geo.Point, error) {
	var (
		points   []geo.Point
		lat, lng int64
	)
	for i := 0; i < len(s); {
		dLat, next, err := decodeValue(s, i)
		if err != nil {
			return nil, err
		}
		dLng, next, err := decodeValue(s, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dLat
		lng += dLng
		points = append(points, geo.Point{
			Lat: float64(lat) / polylinePrecision,
			Lng: float64(lng) / polylinePrecision,
		})
	}
	return points, nil
}

func decodeValue(s string, i int) (int64, int, error) {
	var (
		result int64
		shift  uint
	)
	for {
		if i >= len(s) || shift > 60 {
			return 0, i, ErrMalformedPolyline
		}
		c := int64(s[i]) - 63
		i++
		if c < 0 || c > 0x3f {
			return 0, i, ErrMalformedPolyline
		}
		result |= (c & 0x1f) << shift
		shift += 5
		if c < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}
