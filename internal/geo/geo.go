package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/example/bottle-collector/internal/models"
)

const earthRadiusMeters = 6371000.0

// PinIndex answers "which available pins are near me" for the collector map.
type PinIndex interface {
	Upsert(p models.Pin)
	Remove(id string)
	Nearby(center models.Coord, radiusMeters float64, limit int) []models.Pin
	// Sync replaces the indexed pins with the available pins given and
	// reports how many were dropped.
	Sync(pins []models.Pin) int
}

// DistanceMeters is the haversine great-circle distance.
func DistanceMeters(a, b models.Coord) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// IsWithin is inclusive of the threshold.
func IsWithin(a, b models.Coord, thresholdMeters float64) bool {
	return DistanceMeters(a, b) <= thresholdMeters
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Index is the in-process PinIndex.
type Index struct {
	mu   sync.RWMutex
	pins map[string]models.Pin
}

func NewIndex() *Index {
	return &Index{pins: make(map[string]models.Pin)}
}

func (g *Index) Upsert(p models.Pin) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins[p.ID] = p
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pins, id)
}

func (g *Index) Sync(pins []models.Pin) int {
	next := make(map[string]models.Pin, len(pins))
	for _, p := range pins {
		if p.Status == models.PinAvailable {
			next[p.ID] = p
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	dropped := 0
	for id := range g.pins {
		if _, ok := next[id]; !ok {
			dropped++
		}
	}
	g.pins = next
	return dropped
}

// Nearby returns available pins within radiusMeters, nearest first. limit <= 0 means no limit.
// Ties are broken by id so the result is stable.
func (g *Index) Nearby(center models.Coord, radiusMeters float64, limit int) []models.Pin {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.Pin
		dist float64
	}
	arr := make([]pair, 0, len(g.pins))
	for _, p := range g.pins {
		if p.Status != models.PinAvailable {
			continue
		}
		d := DistanceMeters(center, p.Location)
		if d > radiusMeters {
			continue
		}
		arr = append(arr, pair{p, d})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].p.ID < arr[j].p.ID
		}
		return arr[i].dist < arr[j].dist
	})
	n := len(arr)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Pin, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}
