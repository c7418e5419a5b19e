package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"auction-engine/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const bidUnitRulesKey = "bid_unit_rules"

// BidUnitRulesDao supplies a tiered default bid unit for auctions stored without one.
type BidUnitRulesDao struct {
	client *redis.Client
	mu     sync.RWMutex
	rules  *domain.BidUnitRules
}

func NewBidUnitRulesDao(client *redis.Client) *BidUnitRulesDao {
	return &BidUnitRulesDao{client: client}
}

func DefaultBidUnitRules() *domain.BidUnitRules {
	return &domain.BidUnitRules{
		Tiers: []domain.BidUnitTier{
			{UpTo: decimal.NewFromInt(100), Unit: decimal.NewFromInt(5)},
			{UpTo: decimal.NewFromInt(500), Unit: decimal.NewFromInt(10)},
			{Unit: decimal.NewFromInt(25)},
		},
	}
}

func (d *BidUnitRulesDao) LoadRules(ctx context.Context) error {
	data, err := d.client.Get(ctx, bidUnitRulesKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			d.set(DefaultBidUnitRules())
			return d.saveRules(ctx)
		}
		return err
	}

	var rules domain.BidUnitRules
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return err
	}
	if len(rules.Tiers) == 0 {
		return errors.New("bid unit rules have no tiers")
	}

	d.set(&rules)
	return nil
}

func (d *BidUnitRulesDao) saveRules(ctx context.Context) error {
	d.mu.RLock()
	data, err := json.Marshal(d.rules)
	d.mu.RUnlock()
	if err != nil {
		return err
	}

	return d.client.Set(ctx, bidUnitRulesKey, string(data), 0).Err()
}

// UnitFor returns the bid unit for an auction currently priced at price.
func (d *BidUnitRulesDao) UnitFor(price decimal.Decimal) decimal.Decimal {
	d.mu.RLock()
	rules := d.rules
	d.mu.RUnlock()
	if rules == nil {
		rules = DefaultBidUnitRules()
	}

	for _, tier := range rules.Tiers {
		if tier.UpTo.IsZero() || price.LessThan(tier.UpTo) {
			return tier.Unit
		}
	}
	return rules.Tiers[len(rules.Tiers)-1].Unit
}

func (d *BidUnitRulesDao) set(rules *domain.BidUnitRules) {
	d.mu.Lock()
	d.rules = rules
	d.mu.Unlock()
}
