package routing

import (
	"context"
	"regexp"
	"strconv"

	"github.com/example/bottle-collector/internal/models"
)

// Provider is a remote directions service.
type Provider interface {
	Directions(ctx context.Context, origin, destination models.Coord, mode models.TravelMode) (models.Route, error)
}

var markupTag = regexp.MustCompile(`<[^>]*>`)

// StripMarkup removes html-ish tags from provider instruction text.
func StripMarkup(s string) string {
	return markupTag.ReplaceAllString(s, "")
}

func formatLatLng(c models.Coord) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}
