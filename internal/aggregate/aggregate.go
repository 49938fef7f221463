// Package aggregate folds matched usage into royalty buckets. It is
// pure computation: the royalty calculator feeds it rows it already
// loaded and persists whatever comes out.
package aggregate

import (
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
)

// Key identifies one royalty bucket. Usage for the same deal, work,
// usage type, territory, and source collapses into a single line item.
type Key struct {
	SongwriterID snowflake.ID
	DealID       snowflake.ID
	WorkID       snowflake.ID
	UsageType    string
	Territory    string
	Source       string
}

// Bucket is the accumulated usage behind one statement line item.
type Bucket struct {
	Key

	PlayCount       int64
	Revenue         decimal.Decimal
	MatchedUsageIDs []snowflake.ID
}

// Input pairs a usage event with its authoritative match.
type Input struct {
	Event usagedomain.UsageEvent
	Match matchingdomain.MatchedUsage
}

// Build folds inputs into buckets. Matches below the publishable
// confidence are skipped, as are deals that were not active on the
// usage date or do not cover the matched work. A work covered by deals
// of several songwriters yields one bucket per deal.
func Build(inputs []Input, deals []catalogdomain.Deal, worksByDeal map[snowflake.ID][]snowflake.ID, publishableConfidence float64) []Bucket {
	coverage := make(map[snowflake.ID]map[snowflake.ID]bool, len(worksByDeal))
	for dealID, workIDs := range worksByDeal {
		covered := make(map[snowflake.ID]bool, len(workIDs))
		for _, workID := range workIDs {
			covered[workID] = true
		}
		coverage[dealID] = covered
	}

	buckets := make(map[Key]*Bucket)
	for _, input := range inputs {
		if !input.Match.Confirmed {
			continue
		}
		if input.Match.MatchConfidence < publishableConfidence {
			continue
		}
		for _, deal := range deals {
			if !coverage[deal.ID][input.Match.WorkID] {
				continue
			}
			if !deal.ActiveOn(input.Event.UsageDate) {
				continue
			}

			key := Key{
				SongwriterID: deal.SongwriterID,
				DealID:       deal.ID,
				WorkID:       input.Match.WorkID,
				UsageType:    input.Event.UsageType,
				Territory:    territoryOf(input.Event),
				Source:       input.Event.Source,
			}
			bucket, ok := buckets[key]
			if !ok {
				bucket = &Bucket{Key: key, Revenue: decimal.Zero}
				buckets[key] = bucket
			}
			bucket.PlayCount += input.Event.PlayCount
			if input.Event.RevenueAmount != nil {
				bucket.Revenue = bucket.Revenue.Add(*input.Event.RevenueAmount)
			}
			bucket.MatchedUsageIDs = append(bucket.MatchedUsageIDs, input.Match.ID)
		}
	}

	out := make([]Bucket, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessKey(out[i].Key, out[j].Key)
	})
	return out
}

// BySongwriter splits buckets per songwriter, preserving order.
func BySongwriter(buckets []Bucket) map[snowflake.ID][]Bucket {
	grouped := make(map[snowflake.ID][]Bucket)
	for _, bucket := range buckets {
		grouped[bucket.SongwriterID] = append(grouped[bucket.SongwriterID], bucket)
	}
	return grouped
}

func lessKey(a, b Key) bool {
	if a.SongwriterID != b.SongwriterID {
		return a.SongwriterID < b.SongwriterID
	}
	if a.DealID != b.DealID {
		return a.DealID < b.DealID
	}
	if a.WorkID != b.WorkID {
		return a.WorkID < b.WorkID
	}
	if a.UsageType != b.UsageType {
		return a.UsageType < b.UsageType
	}
	if a.Territory != b.Territory {
		return a.Territory < b.Territory
	}
	return a.Source < b.Source
}

func territoryOf(event usagedomain.UsageEvent) string {
	if event.Territory == nil {
		return ""
	}
	return *event.Territory
}
