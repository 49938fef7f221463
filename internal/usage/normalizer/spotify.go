package normalizer

import (
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

// SpotifyNormalizer maps rows from Spotify royalty reports. Every row
// is a stream; revenue is the net payable column.
type SpotifyNormalizer struct{}

func (n *SpotifyNormalizer) Source() string { return "spotify" }

func (n *SpotifyNormalizer) Normalize(raw map[string]any) (usagedomain.SubmitRequest, error) {
	req := usagedomain.SubmitRequest{
		Source:         "spotify",
		SourceEventID:  stringField(raw, "transaction_id", "event_id"),
		RecordingCode:  cleanRecordingCode(stringField(raw, "isrc", "recording_code")),
		ReportedTitle:  stringField(raw, "track_name", "title"),
		ReportedArtist: stringField(raw, "artist_name", "artist"),
		ReportedAlbum:  stringField(raw, "album_name", "album"),
		UsageType:      usagedomain.UsageTypeStream,
		PlayCount:      countField(raw, "stream_count", "streams", "quantity"),
		RevenueAmount:  decimalField(raw, "net_revenue", "revenue", "amount"),
		Currency:       "USD",
		Territory:      territoryField(raw, "country", "country_code"),
		RawPayload:     raw,
	}
	if currency := stringField(raw, "currency"); currency != nil {
		req.Currency = *currency
	}
	if rawDate := stringField(raw, "day", "date", "usage_date"); rawDate != nil {
		parsed, err := parseDate(*rawDate)
		if err != nil {
			return usagedomain.SubmitRequest{}, err
		}
		req.UsageDate = parsed
	}
	if period := stringField(raw, "reporting_period", "period"); period != nil {
		req.ReportingPeriod = *period
	}
	return req, nil
}
