package wallet

import (
	"context"
	"sort"
	"time"

	"github.com/congo-pay/walletledger/internal/ledger"
)

const (
	topCategoryCount = 5
	otherCategory    = "Other"
)

// Period is the trailing window used by GetInsights.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Window returns the length of the period.
func (p Period) Window() (time.Duration, bool) {
	const day = 24 * time.Hour
	switch p {
	case PeriodWeek:
		return 7 * day, true
	case PeriodMonth:
		return 30 * day, true
	case PeriodYear:
		return 365 * day, true
	default:
		return 0, false
	}
}

// CategoryTotal sums the magnitude of entries sharing a description.
type CategoryTotal struct {
	Category string
	Total    int64
	Count    int
}

// Insights aggregates an owner's recent activity.
type Insights struct {
	Period           Period
	From             time.Time
	To               time.Time
	TotalReceived    int64
	TotalSent        int64
	NetChange        int64
	TransactionCount int
	TopCategories    []CategoryTotal
}

// GetInsights summarizes completed entries among the most recent
// policy.InsightsWindow transactions that fall inside the period.
func (s *Service) GetInsights(ctx context.Context, ownerID string, period Period) (Insights, error) {
	if ownerID == "" {
		return Insights{}, invalid("owner_id", "is required")
	}
	window, ok := period.Window()
	if !ok {
		return Insights{}, invalid("period", "must be one of week, month, year")
	}

	txs, err := s.store.QueryTransactions(ctx, ownerID, ledger.Query{Limit: s.policy.InsightsWindow})
	if err != nil {
		return Insights{}, storeError("query transactions", err)
	}

	now := s.now()
	out := summarize(txs, now.Add(-window))
	out.Period = period
	out.From = now.Add(-window)
	out.To = now
	return out, nil
}

func summarize(txs []ledger.Transaction, since time.Time) Insights {
	var out Insights
	byCategory := make(map[string]*CategoryTotal)

	for _, tx := range txs {
		if tx.Timestamp.Before(since) || tx.Status != ledger.StatusCompleted {
			continue
		}
		out.TransactionCount++
		switch tx.Direction {
		case ledger.DirectionReceived:
			out.TotalReceived += tx.Magnitude()
		case ledger.DirectionSent:
			out.TotalSent += tx.Magnitude()
		}

		name := tx.Description
		if name == "" {
			name = otherCategory
		}
		c, ok := byCategory[name]
		if !ok {
			c = &CategoryTotal{Category: name}
			byCategory[name] = c
		}
		c.Total += tx.Magnitude()
		c.Count++
	}
	out.NetChange = out.TotalReceived - out.TotalSent

	out.TopCategories = make([]CategoryTotal, 0, len(byCategory))
	for _, c := range byCategory {
		out.TopCategories = append(out.TopCategories, *c)
	}
	sort.Slice(out.TopCategories, func(i, j int) bool {
		a, b := out.TopCategories[i], out.TopCategories[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Category < b.Category
	})
	if len(out.TopCategories) > topCategoryCount {
		out.TopCategories = out.TopCategories[:topCategoryCount]
	}
	return out
}
