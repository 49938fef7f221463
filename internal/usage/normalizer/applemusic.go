package normalizer

import (
	"strings"

	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

// AppleMusicNormalizer maps rows from Apple Music sales reports. The
// product type distinguishes downloads from streams.
type AppleMusicNormalizer struct{}

func (n *AppleMusicNormalizer) Source() string { return "apple_music" }

func (n *AppleMusicNormalizer) Normalize(raw map[string]any) (usagedomain.SubmitRequest, error) {
	req := usagedomain.SubmitRequest{
		Source:         "apple_music",
		SourceEventID:  stringField(raw, "transaction_id", "event_id"),
		RecordingCode:  cleanRecordingCode(stringField(raw, "isrc", "recording_code")),
		ReportedTitle:  stringField(raw, "title", "item_title"),
		ReportedArtist: stringField(raw, "artist", "artist_name"),
		ReportedAlbum:  stringField(raw, "album", "collection_title"),
		UsageType:      usagedomain.UsageTypeStream,
		PlayCount:      countField(raw, "units", "sales_units", "quantity"),
		RevenueAmount:  decimalField(raw, "royalty_amount", "royalty_price", "amount"),
		Currency:       "USD",
		Territory:      territoryField(raw, "country_code", "country"),
		RawPayload:     raw,
	}
	if product := stringField(raw, "product_type", "product_type_identifier"); product != nil {
		switch strings.ToLower(*product) {
		case "download", "song", "album", "1", "1-150":
			req.UsageType = usagedomain.UsageTypeDownload
		}
	}
	if currency := stringField(raw, "customer_currency", "currency"); currency != nil {
		req.Currency = strings.ToUpper(*currency)
	}
	if rawDate := stringField(raw, "begin_date", "date", "usage_date"); rawDate != nil {
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
