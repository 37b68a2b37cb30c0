package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bottle-collector/internal/models"
)

const referencePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func TestDecodePolylineReference(t *testing.T) {
	pts, err := DecodePolyline(referencePolyline)
	require.NoError(t, err)
	assert.Equal(t, []models.Coord{
		{Lat: 38.5, Lng: -120.2},
		{Lat: 40.7, Lng: -120.95},
		{Lat: 43.252, Lng: -126.453},
	}, pts)
}

func TestEncodePolylineRoundTrip(t *testing.T) {
	pts, err := DecodePolyline(referencePolyline)
	require.NoError(t, err)
	assert.Equal(t, referencePolyline, EncodePolyline(pts))
}

func TestDecodePolylineEmpty(t *testing.T) {
	pts, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestDecodePolylineMalformed(t *testing.T) {
	for _, s := range []string{"_p~iF", "_p~iF~ps|", "\x01\x02"} {
		_, err := DecodePolyline(s)
		assert.ErrorIs(t, err, ErrMalformedPolyline, "input %q", s)
	}
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Turn left onto Main St", StripMarkup("Turn <b>left</b> onto <div style=\"x\">Main St</div>"))
	assert.Equal(t, "no tags", StripMarkup("no tags"))
}
