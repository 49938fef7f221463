package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	catalogservice "github.com/tonicworks/accord/internal/catalog/service"
	"github.com/tonicworks/accord/internal/catalog/similarity"
	"github.com/tonicworks/accord/internal/clock"
	"github.com/tonicworks/accord/internal/config"
	"github.com/tonicworks/accord/internal/embedding"
	matchingdomain "github.com/tonicworks/accord/internal/matching/domain"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	usageservice "github.com/tonicworks/accord/internal/usage/service"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	catalog  catalogdomain.Index
	usage    usagedomain.Service
	embedder embedding.Provider
	svc      matchingdomain.Service
}

func newFixture(t *testing.T, dsn string, tweaks ...func(*config.Params)) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Songwriter{},
		&catalogdomain.Work{},
		&catalogdomain.Recording{},
		&usagedomain.UsageEvent{},
		&matchingdomain.MatchedUsage{},
		&matchingdomain.ReviewItem{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	catalog := catalogservice.NewService(catalogservice.ServiceParam{DB: db, Log: log})
	usage := usageservice.NewService(usageservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
	})
	embedder := embedding.NewLocalProvider()

	params := config.DefaultParams()
	for _, tweak := range tweaks {
		tweak(&params)
	}

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fakeClock,
		Params:   config.NewStaticParams(params),
		Catalog:  catalog,
		Embedder: embedder,
		Usage:    usage,
	})

	return &fixture{
		db:       db,
		node:     node,
		catalog:  catalog,
		usage:    usage,
		embedder: embedder,
		svc:      svc,
	}
}

func (f *fixture) seedWork(t *testing.T, title string, workCode *string) *catalogdomain.Work {
	t.Helper()
	work := &catalogdomain.Work{
		ID:       f.node.Generate(),
		Title:    title,
		WorkCode: workCode,
		Status:   "active",
	}
	require.NoError(t, f.db.Create(work).Error)
	return work
}

func (f *fixture) seedRecording(t *testing.T, work *catalogdomain.Work, code, title, artist string) *catalogdomain.Recording {
	t.Helper()
	recording := &catalogdomain.Recording{
		ID:            f.node.Generate(),
		WorkID:        work.ID,
		RecordingCode: &code,
		Title:         title,
		ArtistName:    &artist,
	}
	require.NoError(t, f.db.Create(recording).Error)
	return recording
}

// seedEmbedding stores the vector the pipeline will compute for the
// given reported title and artist, making cosine similarity exactly one.
func (f *fixture) seedEmbedding(t *testing.T, work *catalogdomain.Work, title, artist string) {
	t.Helper()
	text := similarity.Normalize(title)
	if artist != "" {
		text = text + " " + similarity.Normalize(artist)
	}
	vector, err := f.embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	work.TitleEmbedding = datatypes.NewJSONSlice(vector)
	require.NoError(t, f.db.Save(work).Error)
}

func (f *fixture) submit(t *testing.T, req usagedomain.SubmitRequest) *usagedomain.UsageEvent {
	t.Helper()
	if req.Source == "" {
		req.Source = "spotify"
	}
	if req.UsageType == "" {
		req.UsageType = usagedomain.UsageTypeStream
	}
	if req.UsageDate.IsZero() {
		req.UsageDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	}
	event, err := f.usage.Submit(context.Background(), req)
	require.NoError(t, err)
	return event
}

func TestProcessEventExactRecordingCode(t *testing.T) {
	f := newFixture(t, "file:match_isrc?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Midnight Dreams", nil)
	recording := f.seedRecording(t, work, "USRC12345678", "Midnight Dreams", "Jonny Beats")

	// Misspelled title must not matter when the identifier resolves.
	event := f.submit(t, usagedomain.SubmitRequest{
		RecordingCode:  strptr("USRC12345678"),
		ReportedTitle:  strptr("Midnight Dreems"),
		ReportedArtist: strptr("Jonny Beats"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, work.ID, outcome.Event.WorkID)
	require.NotNil(t, outcome.Event.RecordingID)
	assert.Equal(t, recording.ID, *outcome.Event.RecordingID)
	assert.Equal(t, matchingdomain.MethodExactIdentifier, outcome.Event.MatchMethod)
	assert.Equal(t, 1.0, outcome.Event.MatchConfidence)
	assert.True(t, outcome.Event.Confirmed)

	stored, err := f.usage.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.StatusMatched, stored.ProcessingStatus)
	require.NotNil(t, stored.ProcessedAt)

	// Replay returns the same match row, not a duplicate.
	replay, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, replay.Event)
	assert.Equal(t, outcome.Event.ID, replay.Event.ID)

	matches, err := f.svc.GetMatchesForEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestProcessEventWorkCodeFallback(t *testing.T) {
	f := newFixture(t, "file:match_iswc?mode=memory&cache=shared")
	ctx := context.Background()

	code := "T1234567890"
	work := f.seedWork(t, "Midnight Dreams", &code)

	// Separators in the reported code are stripped by the lookup.
	event := f.submit(t, usagedomain.SubmitRequest{
		WorkCode:      strptr("T-123456789-0"),
		ReportedTitle: strptr("Midnight Dreams"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, work.ID, outcome.Event.WorkID)
	assert.Equal(t, matchingdomain.MethodExactSecondaryIdentifier, outcome.Event.MatchMethod)
	assert.Equal(t, 1.0, outcome.Event.MatchConfidence)
}

func TestProcessEventExactTitleArtist(t *testing.T) {
	f := newFixture(t, "file:match_exact_title?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Midnight Dreams", nil)
	f.seedRecording(t, work, "USRC99999999", "Midnight Dreams", "Jonny Beats")

	// Bracketed qualifiers are stripped during normalization.
	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle:  strptr("Midnight Dreams (Remastered 2019)"),
		ReportedArtist: strptr("Jonny Beats"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, work.ID, outcome.Event.WorkID)
	assert.Equal(t, matchingdomain.MethodExactTitleArtist, outcome.Event.MatchMethod)
	assert.Equal(t, 1.0, outcome.Event.MatchConfidence)
}

func TestProcessEventSemanticConfirm(t *testing.T) {
	f := newFixture(t, "file:match_semantic?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Neon Skyline", nil)
	f.seedEmbedding(t, work, "Neon Skyline City", "")

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle: strptr("Neon Skyline City"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, work.ID, outcome.Event.WorkID)
	assert.Equal(t, matchingdomain.MethodSemanticEmbedding, outcome.Event.MatchMethod)
	assert.InDelta(t, 1.0, outcome.Event.MatchConfidence, 1e-9)
}

func TestProcessEventSemanticTieBreak(t *testing.T) {
	f := newFixture(t, "file:match_tiebreak?mode=memory&cache=shared")
	ctx := context.Background()

	first := f.seedWork(t, "Echo", nil)
	second := f.seedWork(t, "Echo", nil)
	f.seedEmbedding(t, first, "Echo Chamber Sessions", "")
	f.seedEmbedding(t, second, "Echo Chamber Sessions", "")

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle: strptr("Echo Chamber Sessions"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, first.ID, outcome.Event.WorkID, "equal scores resolve to the smaller work ID")
	assert.True(t, first.ID < second.ID)
}

func TestProcessEventSemanticEqualThresholdNotConfirmed(t *testing.T) {
	// Confirmation requires strictly exceeding the threshold. With the
	// confirm bar raised to the maximum, a perfect cosine of 1.0 still
	// lands in review with the candidate attached.
	f := newFixture(t, "file:match_boundary?mode=memory&cache=shared", func(p *config.Params) {
		p.Matching.SemanticConfirm = 1.0
	})
	ctx := context.Background()

	work := f.seedWork(t, "Echo", nil)
	f.seedEmbedding(t, work, "Echo Chamber Sessions", "")

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle: strptr("Echo Chamber Sessions"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Nil(t, outcome.Event)
	require.NotNil(t, outcome.Queued)
	assert.Equal(t, matchingdomain.ReviewReasonLowConfidence, outcome.Queued.Reason)
	require.NotEmpty(t, outcome.Queued.Suggestions)
	assert.Equal(t, work.ID, outcome.Queued.Suggestions[0].WorkID)
}

func TestProcessEventNoMatchQueuesReview(t *testing.T) {
	f := newFixture(t, "file:match_nomatch?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Midnight Dreams", nil)
	f.seedEmbedding(t, work, "Midnight Dreams", "Jonny Beats")

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle:  strptr("Completely Unrelated Anthem"),
		ReportedArtist: strptr("Nobody In Particular"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Nil(t, outcome.Event)
	require.NotNil(t, outcome.Queued)
	assert.Equal(t, matchingdomain.ReviewReasonNoMatch, outcome.Queued.Reason)
	assert.Empty(t, outcome.Queued.Suggestions)

	stored, err := f.usage.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.StatusUnmatched, stored.ProcessingStatus)

	items, err := f.svc.ListReviewQueue(ctx, matchingdomain.ListReviewRequest{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, event.ID, items[0].UsageEventID)
}

func TestProcessEventLowConfidenceSuggestions(t *testing.T) {
	f := newFixture(t, "file:match_lowconf?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Purple Rain Falls", nil)

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle: strptr("Purple Rain Fall"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Nil(t, outcome.Event)
	require.NotNil(t, outcome.Queued)
	assert.Equal(t, matchingdomain.ReviewReasonLowConfidence, outcome.Queued.Reason)
	require.NotEmpty(t, outcome.Queued.Suggestions)
	assert.Equal(t, work.ID, outcome.Queued.Suggestions[0].WorkID)
}

func TestManualMatchResolvesReview(t *testing.T) {
	f := newFixture(t, "file:match_manual?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Purple Rain Falls", nil)

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle: strptr("Purple Rain Fall"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Queued)

	match, err := f.svc.ManualMatch(ctx, matchingdomain.ManualMatchRequest{
		UsageEventID: event.ID,
		WorkID:       work.ID,
		MatchedBy:    "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, matchingdomain.MethodManual, match.MatchMethod)
	assert.Equal(t, 1.0, match.MatchConfidence)
	assert.Equal(t, "alice", match.MatchedBy)
	assert.True(t, match.Confirmed)

	stored, err := f.usage.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.StatusMatched, stored.ProcessingStatus)

	pending, err := f.svc.ListReviewQueue(ctx, matchingdomain.ListReviewRequest{})
	require.NoError(t, err)
	assert.Empty(t, pending)

	resolved, err := f.svc.ListReviewQueue(ctx, matchingdomain.ListReviewRequest{
		Status: matchingdomain.ReviewStatusResolved,
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].ResolvedBy)
	assert.Equal(t, "alice", *resolved[0].ResolvedBy)
}

func TestManualMatchUnknownWork(t *testing.T) {
	f := newFixture(t, "file:match_badwork?mode=memory&cache=shared")
	ctx := context.Background()

	event := f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle: strptr("Midnight Dreams"),
	})

	_, err := f.svc.ManualMatch(ctx, matchingdomain.ManualMatchRequest{
		UsageEventID: event.ID,
		WorkID:       f.node.Generate(),
	})
	assert.ErrorIs(t, err, matchingdomain.ErrWorkNotFound)
}

func TestManualMatchSupersedesPrevious(t *testing.T) {
	f := newFixture(t, "file:match_supersede?mode=memory&cache=shared")
	ctx := context.Background()

	original := f.seedWork(t, "Midnight Dreams", nil)
	f.seedRecording(t, original, "USRC12345678", "Midnight Dreams", "Jonny Beats")
	corrected := f.seedWork(t, "Midnight Dreams (Acoustic)", nil)

	event := f.submit(t, usagedomain.SubmitRequest{
		RecordingCode: strptr("USRC12345678"),
		ReportedTitle: strptr("Midnight Dreams"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)
	firstMatch := outcome.Event

	match, err := f.svc.ManualMatch(ctx, matchingdomain.ManualMatchRequest{
		UsageEventID: event.ID,
		WorkID:       corrected.ID,
		MatchedBy:    "alice",
	})
	require.NoError(t, err)

	history, err := f.svc.GetMatchesForEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	var old *matchingdomain.MatchedUsage
	for i := range history {
		if history[i].ID == firstMatch.ID {
			old = &history[i]
		}
	}
	require.NotNil(t, old, "the superseded row must survive for audit")
	assert.False(t, old.Confirmed)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, match.ID, *old.SupersededBy)
}

func TestRematchPicksUpCatalogAdditions(t *testing.T) {
	f := newFixture(t, "file:match_rematch?mode=memory&cache=shared")
	ctx := context.Background()

	event := f.submit(t, usagedomain.SubmitRequest{
		RecordingCode: strptr("USRC55555555"),
		ReportedTitle: strptr("Late Arrival"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Queued)

	// The recording registers after the first pass failed.
	work := f.seedWork(t, "Late Arrival", nil)
	f.seedRecording(t, work, "USRC55555555", "Late Arrival", "Jonny Beats")

	rematched, err := f.svc.Rematch(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, rematched.Event)
	assert.Equal(t, work.ID, rematched.Event.WorkID)
	assert.Equal(t, matchingdomain.MethodExactIdentifier, rematched.Event.MatchMethod)

	stored, err := f.usage.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.StatusMatched, stored.ProcessingStatus)

	pending, err := f.svc.ListReviewQueue(ctx, matchingdomain.ListReviewRequest{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessPendingDrainsQueue(t *testing.T) {
	f := newFixture(t, "file:match_batch?mode=memory&cache=shared", func(p *config.Params) {
		p.Matching.WorkerCount = 1
	})
	ctx := context.Background()

	work := f.seedWork(t, "Midnight Dreams", nil)
	f.seedRecording(t, work, "USRC12345678", "Midnight Dreams", "Jonny Beats")

	for i := 0; i < 3; i++ {
		f.submit(t, usagedomain.SubmitRequest{
			SourceEventID: strptr(string(rune('a' + i))),
			RecordingCode: strptr("USRC12345678"),
			ReportedTitle: strptr("Midnight Dreams"),
		})
	}
	f.submit(t, usagedomain.SubmitRequest{
		ReportedTitle:  strptr("Completely Unrelated Anthem"),
		ReportedArtist: strptr("Nobody In Particular"),
	})

	summary, err := f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Claimed)
	assert.Equal(t, 3, summary.Matched)
	assert.Equal(t, 1, summary.Review)
	assert.Equal(t, 0, summary.Errored)

	ids, err := f.usage.ListPendingIDs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// flakyIndex fails recording-code lookups until its failure budget is
// spent, then delegates to the real catalog.
type flakyIndex struct {
	catalogdomain.Index
	failures int
	calls    int
}

func (f *flakyIndex) LookupByRecordingCode(ctx context.Context, code string) (*catalogdomain.Recording, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("catalog unavailable")
	}
	return f.Index.LookupByRecordingCode(ctx, code)
}

func TestProcessEventLookupErrorQueuesThenRecovers(t *testing.T) {
	f := newFixture(t, "file:match_flaky?mode=memory&cache=shared", func(p *config.Params) {
		p.Matching.LookupMaxAttempts = 2
	})
	ctx := context.Background()

	work := f.seedWork(t, "Midnight Dreams", nil)
	f.seedRecording(t, work, "USRC77777777", "Midnight Dreams", "Jonny Beats")

	flaky := &flakyIndex{Index: f.catalog, failures: 2}
	f.svc.(*Service).catalog = flaky

	event := f.submit(t, usagedomain.SubmitRequest{
		RecordingCode: strptr("USRC77777777"),
		ReportedTitle: strptr("Midnight Dreams"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Queued)
	assert.Equal(t, matchingdomain.ReviewReasonLookupError, outcome.Queued.Reason)
	assert.Equal(t, 2, flaky.calls, "retry budget must be exhausted before deferring")

	stored, err := f.usage.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.StatusError, stored.ProcessingStatus)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "catalog unavailable")

	// The catalog comes back; rematching resolves the identifier.
	rematched, err := f.svc.Rematch(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, rematched.Event)
	assert.Equal(t, work.ID, rematched.Event.WorkID)
	assert.Equal(t, matchingdomain.MethodExactIdentifier, rematched.Event.MatchMethod)

	pending, err := f.svc.ListReviewQueue(ctx, matchingdomain.ListReviewRequest{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManualMatchSameWorkConflicts(t *testing.T) {
	f := newFixture(t, "file:match_dupmanual?mode=memory&cache=shared")
	ctx := context.Background()

	work := f.seedWork(t, "Midnight Dreams", nil)
	f.seedRecording(t, work, "USRC12345678", "Midnight Dreams", "Jonny Beats")

	event := f.submit(t, usagedomain.SubmitRequest{
		RecordingCode: strptr("USRC12345678"),
		ReportedTitle: strptr("Midnight Dreams"),
	})

	outcome, err := f.svc.ProcessEvent(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.Event)

	_, err = f.svc.ManualMatch(ctx, matchingdomain.ManualMatchRequest{
		UsageEventID: event.ID,
		WorkID:       work.ID,
		MatchedBy:    "alice",
	})
	assert.ErrorIs(t, err, matchingdomain.ErrAlreadyMatched)

	history, err := f.svc.GetMatchesForEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func strptr(s string) *string { return &s }
