package detection

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// citer resolves the tax rules a case cites, memoizing per MCC.
type citer struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

func citationKey(mccCode string) string {
	return "citations:" + mccCode
}

// cite returns the ids of tax rules that apply to the MCC and amount.
// Lookup failures are logged and yield no citations.
func (c *citer) cite(ctx context.Context, tenantID, mccCode string, amount int64) []string {
	rules, err := c.rulesFor(ctx, tenantID, mccCode)
	if err != nil {
		slog.Warn("tax rule lookup failed, filing without citations",
			"tenant", tenantID,
			"mcc", mccCode,
			"error", err,
		)
		return nil
	}

	var ids []string
	for _, r := range rules {
		if r.AmountGreater != nil && amount <= *r.AmountGreater {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids
}

func (c *citer) rulesFor(ctx context.Context, tenantID, mccCode string) ([]*domain.TaxRule, error) {
	key := citationKey(mccCode)

	if c.cache != nil {
		var cached []*domain.TaxRule
		if hit, err := cache.GetJSON(ctx, c.cache, tenantID, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	rules, err := c.repo.TaxRulesForMCC(ctx, tenantID, mccCode)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := cache.SetJSON(ctx, c.cache, tenantID, key, rules, c.ttl); err != nil {
			slog.Debug("citation cache write failed", "tenant", tenantID, "mcc", mccCode, "error", err)
		}
	}
	return rules, nil
}
