package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

func TestRegistryFallsBackToGeneric(t *testing.T) {
	registry := NewRegistry()

	assert.Equal(t, "spotify", registry.For("Spotify").Source())
	assert.Equal(t, "apple_music", registry.For("apple_music").Source())
	assert.Equal(t, "generic", registry.For("unknown_dsp").Source())
}

func TestGenericNormalize(t *testing.T) {
	registry := NewRegistry()

	req, err := registry.For("generic").Normalize(map[string]any{
		"source":     "bmi",
		"isrc":       "us-rc1 2345678",
		"iswc":       "T-123456789-0",
		"title":      "Midnight Dreams",
		"artist":     "Jonny Beats",
		"usage_type": "radio",
		"plays":      "42",
		"revenue":    "125.50",
		"country":    "us",
		"date":       "2026/03/15",
	})
	require.NoError(t, err)

	require.NotNil(t, req.RecordingCode)
	assert.Equal(t, "USRC12345678", *req.RecordingCode)
	require.NotNil(t, req.WorkCode)
	assert.Equal(t, "T-123456789-0", *req.WorkCode)
	assert.Equal(t, "bmi", req.Source)
	assert.Equal(t, usagedomain.UsageTypeRadioPlay, req.UsageType)
	assert.Equal(t, int64(42), req.PlayCount)
	require.NotNil(t, req.RevenueAmount)
	assert.Equal(t, "125.5", req.RevenueAmount.String())
	require.NotNil(t, req.Territory)
	assert.Equal(t, "US", *req.Territory)
	assert.Equal(t, "2026-03-15", req.UsageDate.Format("2006-01-02"))
}

func TestGenericNormalizeRejectsBadDate(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.For("generic").Normalize(map[string]any{
		"title": "Midnight Dreams",
		"date":  "sometime in march",
	})
	assert.ErrorIs(t, err, ErrUnparsableDate)
}

func TestSpotifyNormalize(t *testing.T) {
	registry := NewRegistry()

	req, err := registry.For("spotify").Normalize(map[string]any{
		"isrc":         "USRC12345678",
		"track_name":   "Midnight Dreams",
		"artist_name":  "Jonny Beats",
		"stream_count": float64(1200),
		"net_revenue":  4.8,
		"country":      "gb",
		"day":          "2026-03-15",
	})
	require.NoError(t, err)

	assert.Equal(t, "spotify", req.Source)
	assert.Equal(t, usagedomain.UsageTypeStream, req.UsageType)
	assert.Equal(t, int64(1200), req.PlayCount)
	require.NotNil(t, req.RecordingCode)
	assert.Equal(t, "USRC12345678", *req.RecordingCode)
	require.NotNil(t, req.Territory)
	assert.Equal(t, "GB", *req.Territory)
}

func TestAppleMusicNormalizeDownload(t *testing.T) {
	registry := NewRegistry()

	req, err := registry.For("apple_music").Normalize(map[string]any{
		"isrc":              "USRC12345678",
		"title":             "Midnight Dreams",
		"artist":            "Jonny Beats",
		"product_type":      "download",
		"units":             3,
		"royalty_amount":    "2.97",
		"customer_currency": "eur",
		"begin_date":        "03/15/2026",
	})
	require.NoError(t, err)

	assert.Equal(t, usagedomain.UsageTypeDownload, req.UsageType)
	assert.Equal(t, int64(3), req.PlayCount)
	assert.Equal(t, "EUR", req.Currency)
}

func TestCleanRecordingCodeRejectsWrongLength(t *testing.T) {
	short := "USRC123"
	assert.Nil(t, cleanRecordingCode(&short))
	assert.Nil(t, cleanRecordingCode(nil))
}
