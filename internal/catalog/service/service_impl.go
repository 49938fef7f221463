package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	"github.com/tonicworks/accord/internal/catalog/similarity"
	"github.com/tonicworks/accord/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recordingCodeLength = 12

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	workrepo      repository.Repository[catalogdomain.Work]
	recordingrepo repository.Repository[catalogdomain.Recording]
}

func NewService(p ServiceParam) catalogdomain.Index {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("catalog.index"),

		workrepo:      repository.ProvideStore[catalogdomain.Work](p.DB),
		recordingrepo: repository.ProvideStore[catalogdomain.Recording](p.DB),
	}
}

// CleanCode strips spaces and dashes and upper-cases an identifier code.
func CleanCode(code string) string {
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return strings.ToUpper(code)
}

func (s *Service) LookupByRecordingCode(ctx context.Context, code string) (*catalogdomain.Recording, error) {
	cleaned := CleanCode(code)
	if len(cleaned) != recordingCodeLength {
		return nil, catalogdomain.ErrInvalidCode
	}
	return s.recordingrepo.FindOne(ctx, &catalogdomain.Recording{RecordingCode: &cleaned})
}

func (s *Service) LookupByWorkCode(ctx context.Context, code string) (*catalogdomain.Work, error) {
	cleaned := CleanCode(code)
	if cleaned == "" {
		return nil, catalogdomain.ErrInvalidCode
	}
	return s.workrepo.FindOne(ctx, &catalogdomain.Work{WorkCode: &cleaned})
}

func (s *Service) GetWork(ctx context.Context, id snowflake.ID) (*catalogdomain.Work, error) {
	return s.workrepo.FindOne(ctx, &catalogdomain.Work{ID: id})
}

func (s *Service) GetRecording(ctx context.Context, id snowflake.ID) (*catalogdomain.Recording, error) {
	return s.recordingrepo.FindOne(ctx, &catalogdomain.Recording{ID: id})
}

// FuzzySearch scores every active work against the reported title and
// artist. Title similarity compares the work title; artist similarity is
// the best score over the artist names on the work's recordings.
func (s *Service) FuzzySearch(ctx context.Context, title, artist string, limit int) ([]catalogdomain.FuzzyCandidate, error) {
	if limit <= 0 {
		limit = 5
	}
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	var works []catalogdomain.Work
	if err := s.db.WithContext(ctx).
		Where("status = ?", "active").
		Order("id").
		Find(&works).Error; err != nil {
		return nil, err
	}
	if len(works) == 0 {
		return nil, nil
	}

	artistsByWork, err := s.loadArtistNames(ctx, works)
	if err != nil {
		return nil, err
	}

	candidates := make([]catalogdomain.FuzzyCandidate, 0, len(works))
	for _, work := range works {
		titleSim := similarity.Trigram(title, work.Title)

		var artistSim float64
		if strings.TrimSpace(artist) != "" {
			for _, name := range artistsByWork[work.ID] {
				if sim := similarity.Trigram(artist, name); sim > artistSim {
					artistSim = sim
				}
			}
		}

		if titleSim == 0 && artistSim == 0 {
			continue
		}
		candidates = append(candidates, catalogdomain.FuzzyCandidate{
			Work:      work,
			TitleSim:  titleSim,
			ArtistSim: artistSim,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].Score(), candidates[j].Score()
		if si != sj {
			return si > sj
		}
		return candidates[i].Work.ID < candidates[j].Work.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// SemanticSearch ranks works by cosine similarity between the query
// vector and their stored title embeddings.
func (s *Service) SemanticSearch(ctx context.Context, vector []float64, limit int) ([]catalogdomain.SemanticCandidate, error) {
	if len(vector) == 0 {
		return nil, catalogdomain.ErrInvalidEmbedding
	}
	if limit <= 0 {
		limit = 5
	}

	var works []catalogdomain.Work
	if err := s.db.WithContext(ctx).
		Where("status = ?", "active").
		Order("id").
		Find(&works).Error; err != nil {
		return nil, err
	}

	candidates := make([]catalogdomain.SemanticCandidate, 0, len(works))
	for _, work := range works {
		if len(work.TitleEmbedding) == 0 {
			continue
		}
		sim := similarity.Cosine(vector, work.TitleEmbedding)
		candidates = append(candidates, catalogdomain.SemanticCandidate{
			Work:       work,
			Similarity: sim,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Work.ID < candidates[j].Work.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *Service) GetActiveDeals(ctx context.Context, songwriterID snowflake.ID, from, to time.Time) ([]catalogdomain.Deal, error) {
	var deals []catalogdomain.Deal
	err := s.db.WithContext(ctx).
		Where("songwriter_id = ? AND status = ?", songwriterID, "active").
		Where("effective_date <= ?", to).
		Where("expiration_date IS NULL OR expiration_date >= ?", from).
		Order("id").
		Find(&deals).Error
	return deals, err
}

// GetDealsForWorks returns all deals active at some point in [from, to]
// that reference any of the given works, plus a map from deal ID to the
// subset of requested work IDs that deal covers.
func (s *Service) GetDealsForWorks(ctx context.Context, workIDs []snowflake.ID, from, to time.Time) ([]catalogdomain.Deal, map[snowflake.ID][]snowflake.ID, error) {
	if len(workIDs) == 0 {
		return nil, nil, nil
	}

	var links []catalogdomain.DealWork
	if err := s.db.WithContext(ctx).
		Where("work_id IN ?", workIDs).
		Find(&links).Error; err != nil {
		return nil, nil, err
	}
	if len(links) == 0 {
		return nil, nil, nil
	}

	dealIDs := make([]snowflake.ID, 0, len(links))
	worksByDeal := make(map[snowflake.ID][]snowflake.ID)
	for _, link := range links {
		if _, seen := worksByDeal[link.DealID]; !seen {
			dealIDs = append(dealIDs, link.DealID)
		}
		worksByDeal[link.DealID] = append(worksByDeal[link.DealID], link.WorkID)
	}

	var deals []catalogdomain.Deal
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND status = ?", dealIDs, "active").
		Where("effective_date <= ?", to).
		Where("expiration_date IS NULL OR expiration_date >= ?", from).
		Order("id").
		Find(&deals).Error; err != nil {
		return nil, nil, err
	}
	return deals, worksByDeal, nil
}

func (s *Service) GetDealWorks(ctx context.Context, dealID snowflake.ID) ([]catalogdomain.Work, error) {
	var works []catalogdomain.Work
	err := s.db.WithContext(ctx).
		Joins("JOIN deal_works ON deal_works.work_id = works.id").
		Where("deal_works.deal_id = ?", dealID).
		Order("works.id").
		Find(&works).Error
	return works, err
}

func (s *Service) ListSongwriterIDsWithDeals(ctx context.Context, from, to time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&catalogdomain.Deal{}).
		Where("status = ?", "active").
		Where("effective_date <= ?", to).
		Where("expiration_date IS NULL OR expiration_date >= ?", from).
		Distinct("songwriter_id").
		Order("songwriter_id").
		Pluck("songwriter_id", &ids).Error
	return ids, err
}

func (s *Service) loadArtistNames(ctx context.Context, works []catalogdomain.Work) (map[snowflake.ID][]string, error) {
	ids := make([]snowflake.ID, 0, len(works))
	for _, work := range works {
		ids = append(ids, work.ID)
	}

	var recordings []catalogdomain.Recording
	if err := s.db.WithContext(ctx).
		Where("work_id IN ?", ids).
		Find(&recordings).Error; err != nil {
		return nil, err
	}

	byWork := make(map[snowflake.ID][]string)
	for _, recording := range recordings {
		if recording.ArtistName == nil || strings.TrimSpace(*recording.ArtistName) == "" {
			continue
		}
		byWork[recording.WorkID] = append(byWork[recording.WorkID], *recording.ArtistName)
	}
	return byWork, nil
}
