package geo

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/bottle-collector/internal/models"
)

// RedisIndex implements PinIndex using Redis GEO commands. Only available
// pins are kept in the geo set; metadata lives in a hash per pin. Redis
// errors are logged and read as an empty result.
type RedisIndex struct {
	client redis.UniversalClient
	key    string
	ctx    context.Context
	logger *slog.Logger
}

func NewRedisIndex(client redis.UniversalClient, key string, logger *slog.Logger) *RedisIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisIndex{client: client, key: key, ctx: context.Background(), logger: logger}
}

func (r *RedisIndex) Upsert(p models.Pin) {
	if p.Status != models.PinAvailable {
		r.Remove(p.ID)
		return
	}
	_, err := r.client.Pipelined(r.ctx, func(pipe redis.Pipeliner) error {
		r.addPin(pipe, p)
		return nil
	})
	if err != nil {
		r.logger.Warn("pin index upsert failed", "pin_id", p.ID, "error", err)
	}
}

func (r *RedisIndex) Remove(id string) {
	_, err := r.client.Pipelined(r.ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(r.ctx, r.key, id)
		pipe.Del(r.ctx, MetaKey(id))
		return nil
	})
	if err != nil {
		r.logger.Warn("pin index remove failed", "pin_id", id, "error", err)
	}
}

// Sync makes the geo set hold exactly the available pins given and returns
// how many stale members were dropped.
func (r *RedisIndex) Sync(pins []models.Pin) int {
	members, err := r.client.ZRange(r.ctx, r.key, 0, -1).Result()
	if err != nil {
		r.logger.Warn("pin index scan failed", "key", r.key, "error", err)
		members = nil
	}
	stale := staleMembers(members, pins)
	_, err = r.client.Pipelined(r.ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			names := make([]interface{}, 0, len(stale))
			keys := make([]string, 0, len(stale))
			for _, id := range stale {
				names = append(names, id)
				keys = append(keys, MetaKey(id))
			}
			pipe.ZRem(r.ctx, r.key, names...)
			pipe.Del(r.ctx, keys...)
		}
		for _, p := range pins {
			if p.Status == models.PinAvailable {
				r.addPin(pipe, p)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("pin index sync failed", "key", r.key, "pins", len(pins), "stale", len(stale), "error", err)
	}
	return len(stale)
}

func (r *RedisIndex) addPin(pipe redis.Pipeliner, p models.Pin) {
	pipe.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: p.Location.Lng, Latitude: p.Location.Lat, Name: p.ID})
	pipe.HSet(r.ctx, MetaKey(p.ID), PinMeta(p))
}

func (r *RedisIndex) Nearby(center models.Coord, radiusMeters float64, limit int) []models.Pin {
	res, err := r.client.GeoSearchLocation(r.ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		r.logger.Warn("pin index search failed", "key", r.key, "error", err)
		return nil
	}
	sortByDistance(res)
	out := make([]models.Pin, 0, len(res))
	for _, g := range res {
		p := models.Pin{ID: g.Name, Status: models.PinAvailable}
		p.Location.Lat = g.Latitude
		p.Location.Lng = g.Longitude
		m, err := r.client.HGetAll(r.ctx, MetaKey(g.Name)).Result()
		if err != nil {
			r.logger.Warn("pin metadata read failed", "pin_id", g.Name, "error", err)
		} else {
			applyMeta(&p, m)
		}
		out = append(out, p)
	}
	return out
}

// sortByDistance orders search hits nearest first with ties by name, the
// same order the in-process Index uses.
func sortByDistance(res []redis.GeoLocation) {
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Dist != res[j].Dist {
			return res[i].Dist < res[j].Dist
		}
		return res[i].Name < res[j].Name
	})
}

// staleMembers lists set members that are not among the available pins.
func staleMembers(members []string, pins []models.Pin) []string {
	keep := make(map[string]bool, len(pins))
	for _, p := range pins {
		if p.Status == models.PinAvailable {
			keep[p.ID] = true
		}
	}
	var stale []string
	for _, id := range members {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

func MetaKey(id string) string { return "pin:meta:" + id }

// PinMeta flattens the non-spatial pin fields for HSET.
func PinMeta(p models.Pin) map[string]interface{} {
	return map[string]interface{}{
		"submission_id":   p.SubmissionID,
		"bottle_count":    strconv.Itoa(p.BottleCount),
		"estimated_value": strconv.FormatFloat(p.EstimatedValue, 'f', -1, 64),
		"image_url":       p.ImageURL,
		"created_at":      p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func applyMeta(p *models.Pin, m map[string]string) {
	p.SubmissionID = m["submission_id"]
	p.ImageURL = m["image_url"]
	if v, err := strconv.Atoi(m["bottle_count"]); err == nil {
		p.BottleCount = v
	}
	if v, err := strconv.ParseFloat(m["estimated_value"], 64); err == nil {
		p.EstimatedValue = v
	}
	if v, err := time.Parse(time.RFC3339, m["created_at"]); err == nil {
		p.CreatedAt = v
	}
}
