package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonicworks/accord/internal/clock"
	usagedomain "github.com/tonicworks/accord/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, dsn string) (usagedomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)),
	})
	return svc, db
}

func strptr(s string) *string { return &s }

func TestSubmitIdempotency(t *testing.T) {
	svc, _ := newTestService(t, "file:usage_submit?mode=memory&cache=shared")
	ctx := context.Background()

	revenue := decimal.RequireFromString("0.004")
	req := usagedomain.SubmitRequest{
		Source:        "Spotify",
		SourceEventID: strptr("evt-001"),
		RecordingCode: strptr("USRC12345678"),
		ReportedTitle: strptr("Midnight Dreams"),
		UsageType:     usagedomain.UsageTypeStream,
		PlayCount:     100,
		RevenueAmount: &revenue,
		UsageDate:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	}

	first, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "spotify", first.Source)
	assert.Equal(t, usagedomain.StatusPending, first.ProcessingStatus)
	assert.Equal(t, "2026_03", first.ReportingPeriod)
	assert.Equal(t, "USD", first.Currency)

	second, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	events, err := svc.List(ctx, usagedomain.ListRequest{Source: "spotify"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSubmitDuplicateInsertRaceReturnsWinner(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:usage_race?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)),
	})

	sourceEventID := "evt-race"
	usageDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	winner := &usagedomain.UsageEvent{
		ID:               node.Generate(),
		Source:           "spotify",
		SourceEventID:    &sourceEventID,
		UsageType:        usagedomain.UsageTypeStream,
		PlayCount:        1,
		Currency:         "USD",
		UsageDate:        usageDate,
		ReportingPeriod:  "2026_03",
		ProcessingStatus: usagedomain.StatusPending,
		IngestedAt:       usageDate,
	}

	// A concurrent submit wins the insert between this call's
	// idempotency read and its create.
	injected := false
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("usage_test_race", func(tx *gorm.DB) {
		if injected {
			return
		}
		if _, ok := tx.Statement.Dest.(*usagedomain.UsageEvent); !ok {
			return
		}
		injected = true
		if err := db.Session(&gorm.Session{NewDB: true}).Create(winner).Error; err != nil {
			tx.AddError(err)
		}
	}))

	got, err := svc.Submit(context.Background(), usagedomain.SubmitRequest{
		Source:        "spotify",
		SourceEventID: &sourceEventID,
		ReportedTitle: strptr("Midnight Dreams"),
		UsageType:     usagedomain.UsageTypeStream,
		UsageDate:     usageDate,
	})
	require.NoError(t, err)
	require.True(t, injected)
	assert.Equal(t, winner.ID, got.ID)

	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(t, "file:usage_validate?mode=memory&cache=shared")
	ctx := context.Background()

	usageDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		req  usagedomain.SubmitRequest
		want error
	}{
		{
			name: "missing source",
			req: usagedomain.SubmitRequest{
				UsageType:     usagedomain.UsageTypeStream,
				ReportedTitle: strptr("Midnight Dreams"),
				UsageDate:     usageDate,
			},
			want: usagedomain.ErrInvalidSource,
		},
		{
			name: "bad usage type",
			req: usagedomain.SubmitRequest{
				Source:        "spotify",
				UsageType:     "ringtone",
				ReportedTitle: strptr("Midnight Dreams"),
				UsageDate:     usageDate,
			},
			want: usagedomain.ErrInvalidUsageType,
		},
		{
			name: "negative play count",
			req: usagedomain.SubmitRequest{
				Source:        "spotify",
				UsageType:     usagedomain.UsageTypeStream,
				ReportedTitle: strptr("Midnight Dreams"),
				PlayCount:     -1,
				UsageDate:     usageDate,
			},
			want: usagedomain.ErrInvalidPlayCount,
		},
		{
			name: "missing usage date",
			req: usagedomain.SubmitRequest{
				Source:        "spotify",
				UsageType:     usagedomain.UsageTypeStream,
				ReportedTitle: strptr("Midnight Dreams"),
			},
			want: usagedomain.ErrMissingUsageDate,
		},
		{
			name: "no identity",
			req: usagedomain.SubmitRequest{
				Source:    "spotify",
				UsageType: usagedomain.UsageTypeStream,
				UsageDate: usageDate,
			},
			want: usagedomain.ErrMissingIdentity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClaimIsExclusive(t *testing.T) {
	svc, _ := newTestService(t, "file:usage_claim?mode=memory&cache=shared")
	ctx := context.Background()

	event, err := svc.Submit(ctx, usagedomain.SubmitRequest{
		Source:        "spotify",
		ReportedTitle: strptr("Midnight Dreams"),
		UsageType:     usagedomain.UsageTypeStream,
		UsageDate:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := svc.Claim(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, again, "second claim on a processing event must lose")

	require.NoError(t, svc.Release(ctx, event.ID))
	ids, err := svc.ListPendingIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{event.ID}, ids)
}
