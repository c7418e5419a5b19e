package services

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestBidUnitRules_DefaultsAreStored(t *testing.T) {
	client := newRedisClient(t)
	dao := NewBidUnitRulesDao(client)
	ctx := context.Background()

	assert.NoError(t, dao.LoadRules(ctx))
	stored, err := client.Get(ctx, bidUnitRulesKey).Result()
	assert.NoError(t, err)
	check.True(t, stored != "")

	check.Equal(t, "5", dao.UnitFor(decimal.NewFromInt(50)).String())
	check.Equal(t, "10", dao.UnitFor(decimal.NewFromInt(100)).String())
	check.Equal(t, "10", dao.UnitFor(decimal.NewFromInt(499)).String())
	check.Equal(t, "25", dao.UnitFor(decimal.NewFromInt(100000)).String())
}

func TestBidUnitRules_CustomTiers(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	assert.NoError(t, client.Set(ctx, bidUnitRulesKey,
		`{"tiers":[{"upTo":"1000","unit":"50"},{"upTo":"0","unit":"100"}]}`, 0).Err())

	dao := NewBidUnitRulesDao(client)
	assert.NoError(t, dao.LoadRules(ctx))
	check.Equal(t, "50", dao.UnitFor(decimal.NewFromInt(999)).String())
	check.Equal(t, "100", dao.UnitFor(decimal.NewFromInt(1000)).String())

	assert.NoError(t, client.Set(ctx, bidUnitRulesKey, `{"tiers":[]}`, 0).Err())
	check.Error(t, NewBidUnitRulesDao(client).LoadRules(ctx))
}
