package normalizer

import (
	"strings"

	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

// GenericNormalizer maps the canonical column names most royalty
// statements already use. It also serves unknown sources.
type GenericNormalizer struct{}

func (n *GenericNormalizer) Source() string { return "generic" }

func (n *GenericNormalizer) Normalize(raw map[string]any) (usagedomain.SubmitRequest, error) {
	req := usagedomain.SubmitRequest{
		Source:         "generic",
		SourceEventID:  stringField(raw, "event_id", "source_event_id", "id"),
		RecordingCode:  cleanRecordingCode(stringField(raw, "recording_code", "isrc")),
		WorkCode:       cleanWorkCode(stringField(raw, "work_code", "iswc")),
		ReportedTitle:  stringField(raw, "title", "track_title", "song_title"),
		ReportedArtist: stringField(raw, "artist", "artist_name", "performer"),
		ReportedAlbum:  stringField(raw, "album", "album_title", "release"),
		PlayCount:      countField(raw, "play_count", "plays", "units", "quantity"),
		RevenueAmount:  decimalField(raw, "revenue", "revenue_amount", "amount", "net_revenue"),
		Territory:      territoryField(raw, "territory", "country", "country_code"),
		RawPayload:     raw,
	}
	if source := stringField(raw, "source"); source != nil {
		req.Source = strings.ToLower(*source)
	}
	if usageType := stringField(raw, "usage_type", "type"); usageType != nil {
		req.UsageType = parseUsageType(*usageType)
	} else {
		req.UsageType = usagedomain.UsageTypeStream
	}
	if currency := stringField(raw, "currency"); currency != nil {
		req.Currency = strings.ToUpper(*currency)
	}
	if rawDate := stringField(raw, "usage_date", "date", "transaction_date"); rawDate != nil {
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
