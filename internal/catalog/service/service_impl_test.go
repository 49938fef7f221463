package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestIndex(t *testing.T, dsn string) (catalogdomain.Index, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Work{},
		&catalogdomain.Recording{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	idx := NewService(ServiceParam{DB: db, Log: zap.NewNop()})
	return idx, db, node
}

func TestFuzzySearchTruncatesByWeightedScore(t *testing.T) {
	idx, db, node := newTestIndex(t, "file:catalog_fuzzy?mode=memory&cache=shared")
	ctx := context.Background()

	// Strong title match, no artist signal.
	titleHit := &catalogdomain.Work{ID: node.Generate(), Title: "Midnight Dream", Status: "active"}
	require.NoError(t, db.Create(titleHit).Error)

	// No title signal, exact artist match on its recording.
	artistHit := &catalogdomain.Work{ID: node.Generate(), Title: "Sunrise", Status: "active"}
	require.NoError(t, db.Create(artistHit).Error)
	artist := "Jonny Beats"
	require.NoError(t, db.Create(&catalogdomain.Recording{
		ID:         node.Generate(),
		WorkID:     artistHit.ID,
		Title:      "Sunrise",
		ArtistName: &artist,
	}).Error)

	all, err := idx.FuzzySearch(ctx, "Midnight Dreams", "Jonny Beats", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// The raw similarity sum favors the artist hit, the weighted score
	// the title hit. Ranking goes by the weighted score.
	byWork := map[snowflake.ID]catalogdomain.FuzzyCandidate{}
	for _, c := range all {
		byWork[c.Work.ID] = c
	}
	rawTitle := byWork[titleHit.ID].TitleSim + byWork[titleHit.ID].ArtistSim
	rawArtist := byWork[artistHit.ID].TitleSim + byWork[artistHit.ID].ArtistSim
	require.Greater(t, rawArtist, rawTitle)
	require.Greater(t, byWork[titleHit.ID].Score(), byWork[artistHit.ID].Score())

	assert.Equal(t, titleHit.ID, all[0].Work.ID)
	assert.Equal(t, artistHit.ID, all[1].Work.ID)

	// Truncation must keep the weighted-best candidate.
	top, err := idx.FuzzySearch(ctx, "Midnight Dreams", "Jonny Beats", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, titleHit.ID, top[0].Work.ID)
}
