package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/tonicworks/accord/internal/aggregate"
	catalogdomain "github.com/tonicworks/accord/internal/catalog/domain"
	royaltydomain "github.com/tonicworks/accord/internal/royalty/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// calculateStatement computes and persists one songwriter's statement
// for the period in a single transaction. Deduction order is fixed:
// recoupment against each deal's outstanding advance, then withholding
// tax on what remains, then other deductions. Rerunning first hands any
// prior recoupment back to the deals, so a recalculation never recoups
// the same advance twice.
func (s *Service) calculateStatement(
	ctx context.Context,
	run *royaltydomain.CalculationRun,
	period *royaltydomain.RoyaltyPeriod,
	songwriterID snowflake.ID,
	buckets []aggregate.Bucket,
	dealsByID map[snowflake.ID]catalogdomain.Deal,
	withholdingRate decimal.Decimal,
	allowNegativeNet bool,
) (*royaltydomain.RoyaltyStatement, error) {
	var statement *royaltydomain.RoyaltyStatement

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.rollbackPriorStatement(ctx, tx, period.ID, songwriterID); err != nil {
			return err
		}

		statement = &royaltydomain.RoyaltyStatement{
			ID:           s.genID.Generate(),
			PeriodID:     period.ID,
			SongwriterID: songwriterID,
			RunID:        run.ID,
			Currency:     "USD",
			Status:       royaltydomain.StatementStatusCalculated,
		}

		writerShare := decimal.Zero
		publisherShare := decimal.Zero
		writerShareByDeal := make(map[snowflake.ID]decimal.Decimal)

		lines := make([]*royaltydomain.RoyaltyLineItem, 0, len(buckets))
		for _, bucket := range buckets {
			deal, ok := dealsByID[bucket.DealID]
			if !ok {
				continue
			}
			if !deal.WriterShare.Add(deal.PublisherShare).Equal(hundred) {
				return fmt.Errorf("deal %s: writer share %s and publisher share %s do not sum to 100",
					deal.DealNumber, deal.WriterShare, deal.PublisherShare)
			}
			rate := deal.TerritoryRate(bucket.Territory)

			amount := bucket.Revenue.
				Mul(deal.WriterShare).Div(hundred).
				Mul(rate).
				Round(2)
			pubAmount := bucket.Revenue.
				Mul(deal.PublisherShare).Div(hundred).
				Mul(rate).
				Round(2)

			lines = append(lines, &royaltydomain.RoyaltyLineItem{
				ID:              s.genID.Generate(),
				StatementID:     statement.ID,
				DealID:          bucket.DealID,
				WorkID:          bucket.WorkID,
				UsageType:       bucket.UsageType,
				Territory:       bucket.Territory,
				Source:          bucket.Source,
				PlayCount:       bucket.PlayCount,
				RevenueAmount:   bucket.Revenue,
				WriterShare:     deal.WriterShare,
				TerritoryRate:   rate,
				RoyaltyAmount:   amount,
				MatchedUsageIDs: datatypes.NewJSONSlice(bucket.MatchedUsageIDs),
			})

			statement.TotalPlays += bucket.PlayCount
			writerShare = writerShare.Add(amount)
			publisherShare = publisherShare.Add(pubAmount)
			writerShareByDeal[bucket.DealID] = writerShareByDeal[bucket.DealID].Add(amount)
		}

		recoupments, totalRecouped, err := s.recoupAdvances(ctx, tx, statement.ID, writerShareByDeal)
		if err != nil {
			return err
		}

		taxable := writerShare.Sub(totalRecouped)
		withholding := decimal.Zero
		if taxable.IsPositive() {
			withholding = taxable.Mul(withholdingRate).Round(2)
		}

		other := decimal.Zero
		net := writerShare.Sub(totalRecouped).Sub(withholding).Sub(other)
		if net.IsNegative() && !allowNegativeNet {
			net = decimal.Zero
		}

		statement.GrossAmount = writerShare.Add(publisherShare)
		statement.WriterShareAmount = writerShare
		statement.PublisherShareAmount = publisherShare
		statement.AdvanceRecoupment = totalRecouped
		statement.WithholdingTax = withholding
		statement.OtherDeductions = other
		statement.NetPayable = net

		if err := tx.Create(statement).Error; err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := tx.Create(lines).Error; err != nil {
				return err
			}
		}
		if len(recoupments) > 0 {
			if err := tx.Create(recoupments).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statement, nil
}

// rollbackPriorStatement removes the songwriter's existing statement
// for the period and restores its recoupments to the deals.
func (s *Service) rollbackPriorStatement(ctx context.Context, tx *gorm.DB, periodID, songwriterID snowflake.ID) error {
	var prior []royaltydomain.RoyaltyStatement
	if err := tx.WithContext(ctx).
		Where("period_id = ? AND songwriter_id = ?", periodID, songwriterID).
		Find(&prior).Error; err != nil {
		return err
	}
	if len(prior) == 0 {
		return nil
	}

	for _, statement := range prior {
		var recoupments []royaltydomain.StatementRecoupment
		if err := tx.WithContext(ctx).
			Where("statement_id = ?", statement.ID).
			Find(&recoupments).Error; err != nil {
			return err
		}
		for _, recoupment := range recoupments {
			if err := tx.WithContext(ctx).
				Model(&catalogdomain.Deal{}).
				Where("id = ?", recoupment.DealID).
				Update("advance_recouped", gorm.Expr("advance_recouped - ?", recoupment.Amount)).Error; err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).
			Where("statement_id = ?", statement.ID).
			Delete(&royaltydomain.StatementRecoupment{}).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).
			Where("statement_id = ?", statement.ID).
			Delete(&royaltydomain.RoyaltyLineItem{}).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).
			Delete(&royaltydomain.RoyaltyStatement{}, statement.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

// rollbackOrphanStatements removes statements left over from a prior
// run for songwriters who no longer have eligible usage in the period,
// such as after a match was demoted or a deal expired. Each rollback
// restores the statement's recoupments before deleting it.
func (s *Service) rollbackOrphanStatements(ctx context.Context, period *royaltydomain.RoyaltyPeriod, grouped map[snowflake.ID][]aggregate.Bucket) error {
	var holders []snowflake.ID
	if err := s.db.WithContext(ctx).
		Model(&royaltydomain.RoyaltyStatement{}).
		Where("period_id = ?", period.ID).
		Distinct("songwriter_id").
		Order("songwriter_id").
		Pluck("songwriter_id", &holders).Error; err != nil {
		return err
	}

	for _, songwriterID := range holders {
		if _, ok := grouped[songwriterID]; ok {
			continue
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.rollbackPriorStatement(ctx, tx, period.ID, songwriterID)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// recoupAdvances recoups each deal's outstanding advance against that
// deal's writer-share gross for the statement, never more than either.
// Deals are walked in ID order so reruns recoup identically.
func (s *Service) recoupAdvances(ctx context.Context, tx *gorm.DB, statementID snowflake.ID, writerShareByDeal map[snowflake.ID]decimal.Decimal) ([]*royaltydomain.StatementRecoupment, decimal.Decimal, error) {
	dealIDs := make([]snowflake.ID, 0, len(writerShareByDeal))
	for dealID := range writerShareByDeal {
		dealIDs = append(dealIDs, dealID)
	}
	sort.Slice(dealIDs, func(i, j int) bool { return dealIDs[i] < dealIDs[j] })

	total := decimal.Zero
	recoupments := make([]*royaltydomain.StatementRecoupment, 0, len(dealIDs))
	for _, dealID := range dealIDs {
		dealGross := writerShareByDeal[dealID]
		if !dealGross.IsPositive() {
			continue
		}

		// Re-read inside the transaction: another songwriter never
		// shares a deal, but a rerun of this songwriter might have
		// just restored the balance.
		var deal catalogdomain.Deal
		if err := tx.WithContext(ctx).First(&deal, dealID).Error; err != nil {
			return nil, decimal.Zero, err
		}

		outstanding := deal.OutstandingAdvance()
		if !outstanding.IsPositive() {
			continue
		}

		amount := decimal.Min(outstanding, dealGross)
		if err := tx.WithContext(ctx).
			Model(&catalogdomain.Deal{}).
			Where("id = ?", dealID).
			Update("advance_recouped", gorm.Expr("advance_recouped + ?", amount)).Error; err != nil {
			return nil, decimal.Zero, err
		}

		recoupments = append(recoupments, &royaltydomain.StatementRecoupment{
			ID:          s.genID.Generate(),
			StatementID: statementID,
			DealID:      dealID,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	return recoupments, total, nil
}
