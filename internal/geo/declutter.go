package geo

import (
	"math"

	"github.com/example/bottle-collector/internal/models"
)

const (
	// DeclutterThresholdDeg is the half-width of the box (not a radius) in which two pins collide.
	DeclutterThresholdDeg = 0.0001
	// DeclutterOffsetDeg moves the later pin of a colliding pair south and east.
	DeclutterOffsetDeg = 0.00008
)

// Separate nudges near-duplicate pins apart so each marker stays selectable.
//
// Pairs are visited in input order (i < j) and compared using positions
// already adjusted by earlier pairs, so a cluster of three or more pins can
// cascade. Only the later pin of a pair moves; the input slice is not modified.
func Separate(pins []models.Pin) []models.Pin {
	out := make([]models.Pin, len(pins))
	copy(out, pins)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if collides(out[i].Location, out[j].Location) {
				out[j].Location = models.Coord{
					Lat: out[j].Location.Lat - DeclutterOffsetDeg,
					Lng: out[j].Location.Lng + DeclutterOffsetDeg,
				}
			}
		}
	}
	return out
}

func collides(a, b models.Coord) bool {
	return math.Abs(a.Lat-b.Lat) < DeclutterThresholdDeg && math.Abs(a.Lng-b.Lng) < DeclutterThresholdDeg
}
