// Package normalizer converts raw, source-specific usage report rows
// into canonical submit requests. Each reporting source registers one
// Normalizer; unknown sources fall back to the generic field mapping.
package normalizer

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"go.uber.org/fx"
)

// Normalizer converts one raw record from a specific source.
type Normalizer interface {
	Source() string
	Normalize(raw map[string]any) (usagedomain.SubmitRequest, error)
}

var ErrUnparsableDate = errors.New("unparsable_usage_date")

// Registry resolves the normalizer for a source name.
type Registry struct {
	bySource map[string]Normalizer
	fallback Normalizer
}

func NewRegistry() *Registry {
	generic := &GenericNormalizer{}
	r := &Registry{
		bySource: make(map[string]Normalizer),
		fallback: generic,
	}
	for _, n := range []Normalizer{generic, &SpotifyNormalizer{}, &AppleMusicNormalizer{}} {
		r.bySource[n.Source()] = n
	}
	return r
}

// For returns the normalizer registered for source, or the generic one.
func (r *Registry) For(source string) Normalizer {
	if n, ok := r.bySource[strings.ToLower(strings.TrimSpace(source))]; ok {
		return n
	}
	return r.fallback
}

var Module = fx.Module("usage.normalizer",
	fx.Provide(NewRegistry),
)

var usageTypeAliases = map[string]string{
	"stream":             usagedomain.UsageTypeStream,
	"streaming":          usagedomain.UsageTypeStream,
	"play":               usagedomain.UsageTypeStream,
	"download":           usagedomain.UsageTypeDownload,
	"purchase":           usagedomain.UsageTypeDownload,
	"radio":              usagedomain.UsageTypeRadioPlay,
	"radio_play":         usagedomain.UsageTypeRadioPlay,
	"broadcast":          usagedomain.UsageTypeBroadcast,
	"tv":                 usagedomain.UsageTypeBroadcast,
	"tv_broadcast":       usagedomain.UsageTypeBroadcast,
	"performance":        usagedomain.UsageTypePublicPerformance,
	"public_performance": usagedomain.UsageTypePublicPerformance,
	"sync":               usagedomain.UsageTypeSync,
	"synchronization":    usagedomain.UsageTypeSync,
	"mechanical":         usagedomain.UsageTypeMechanical,
}

func parseUsageType(raw string) string {
	if mapped, ok := usageTypeAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return usagedomain.UsageTypeStream
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"20060102",
	"01/02/2006",
	time.RFC3339,
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrUnparsableDate
	}
	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, ErrUnparsableDate
}

func stringField(raw map[string]any, keys ...string) *string {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			if s, ok := value.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return &s
				}
			}
		}
	}
	return nil
}

func countField(raw map[string]any, keys ...string) int64 {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return parsed
			}
		}
	}
	return 1
}

func decimalField(raw map[string]any, keys ...string) *decimal.Decimal {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			d := decimal.NewFromFloat(v)
			return &d
		case int:
			d := decimal.NewFromInt(int64(v))
			return &d
		case int64:
			d := decimal.NewFromInt(v)
			return &d
		case string:
			if parsed, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

// cleanRecordingCode strips separators, upper-cases, and rejects codes
// that are not exactly twelve characters.
func cleanRecordingCode(code *string) *string {
	if code == nil {
		return nil
	}
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(*code, " ", ""), "-", ""))
	if len(cleaned) != 12 {
		return nil
	}
	return &cleaned
}

func cleanWorkCode(code *string) *string {
	if code == nil {
		return nil
	}
	cleaned := strings.ToUpper(strings.ReplaceAll(*code, " ", ""))
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func territoryField(raw map[string]any, keys ...string) *string {
	value := stringField(raw, keys...)
	if value == nil {
		return nil
	}
	territory := strings.ToUpper(*value)
	if len(territory) > 5 {
		territory = territory[:5]
	}
	return &territory
}
