package ledger

import (
	"context"
	"encoding/json"

	"github.com/mcclellann/casafacil/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const generalStatsKey = "stats:general"

// GeneralStats aggregates every stored proposal. A cached result is served
// only while the proposal count still matches it; proposals are never
// deleted, so any submission after it was computed invalidates it.
func (l *Ledger) GeneralStats(ctx context.Context) (*models.GeneralStats, error) {
	if cached, ok := l.cache.Get(ctx, generalStatsKey); ok {
		var stats models.GeneralStats
		if err := json.Unmarshal([]byte(cached), &stats); err != nil {
			l.logger.Warn("discarding unreadable cached stats", zap.String("op", "ledger.GeneralStats"))
		} else {
			count, err := l.storage.CountProposals(ctx)
			if err != nil {
				return nil, err
			}
			if count == stats.TotalProposals {
				return &stats, nil
			}
		}
	}

	users, err := l.storage.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	amounts, err := l.storage.ProposalAmounts(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.GeneralStats{
		TotalUsers:     users,
		TotalProposals: len(amounts),
	}
	monthly := decimal.Zero
	for _, a := range amounts {
		stats.TotalPropertyValue = stats.TotalPropertyValue.Add(a.PropertyValue)
		stats.TotalFinancedAmount = stats.TotalFinancedAmount.Add(a.FinancedAmount)
		stats.TotalAmountToPay = stats.TotalAmountToPay.Add(a.TotalAmount)
		monthly = monthly.Add(a.MonthlyPayment)
	}
	stats.AverageMonthlyPayment = average(monthly, len(amounts))
	stats.AveragePropertyValue = average(stats.TotalPropertyValue, len(amounts))

	if data, err := json.Marshal(stats); err == nil {
		if err := l.cache.Set(ctx, generalStatsKey, string(data), l.statsTTL); err != nil {
			l.logger.Warn("failed to cache stats", zap.String("op", "ledger.GeneralStats"), zap.Error(err))
		}
	}
	return stats, nil
}

// UserStats aggregates the proposals of the user with taxID. It returns
// ErrNotFound for an unknown tax ID.
func (l *Ledger) UserStats(ctx context.Context, taxID string) (*models.UserStats, error) {
	taxID = OnlyDigits(taxID)
	user, err := l.storage.GetUserByTaxID(ctx, taxID)
	if err != nil {
		return nil, err
	}
	proposals, err := l.storage.ListProposalsByTaxID(ctx, taxID)
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{
		User:           user,
		TotalProposals: len(proposals),
	}
	monthly := decimal.Zero
	for _, p := range proposals {
		stats.TotalFinanced = stats.TotalFinanced.Add(p.FinancedAmount)
		stats.TotalProperty = stats.TotalProperty.Add(p.PropertyValue)
		monthly = monthly.Add(p.MonthlyPayment)
	}
	stats.AverageMonthlyPayment = average(monthly, len(proposals))
	if len(proposals) > 0 {
		stats.LatestProposal = proposals[0]
	}
	return stats, nil
}

func average(sum decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.DivRound(decimal.NewFromInt(int64(n)), 2)
}
