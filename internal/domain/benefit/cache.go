package benefit

import (
	"benefix/internal/core/id"
)

// Cache memoizes repository lookups for the duration of one request.
// A checkout flow calls the collector several times as the cart changes
// (calculate, then finalize); the cache keeps those calls from re-reading
// identical configuration.
//
// The cache is request-scoped by construction: callers create one per
// request and discard it. There is deliberately no process-wide instance,
// so calculations stay isolated and testable.
type Cache struct {
	itemRules        map[id.ID][]DiscountRule
	orderRules       []DiscountRule
	orderRulesLoaded bool
	benefits         map[id.ID][]CustomerBenefit
	programs         map[id.ID]*LoyaltyProgram
}

// NewCache creates an empty request-scoped cache.
func NewCache() *Cache {
	return &Cache{
		itemRules: make(map[id.ID][]DiscountRule),
		benefits:  make(map[id.ID][]CustomerBenefit),
		programs:  make(map[id.ID]*LoyaltyProgram),
	}
}

func (c *Cache) getItemRules(itemID id.ID) ([]DiscountRule, bool) {
	rules, ok := c.itemRules[itemID]
	return rules, ok
}

func (c *Cache) putItemRules(itemID id.ID, rules []DiscountRule) {
	c.itemRules[itemID] = rules
}

func (c *Cache) getOrderRules() ([]DiscountRule, bool) {
	return c.orderRules, c.orderRulesLoaded
}

func (c *Cache) putOrderRules(rules []DiscountRule) {
	c.orderRules = rules
	c.orderRulesLoaded = true
}

func (c *Cache) getBenefits(customerID id.ID) ([]CustomerBenefit, bool) {
	benefits, ok := c.benefits[customerID]
	return benefits, ok
}

func (c *Cache) putBenefits(customerID id.ID, benefits []CustomerBenefit) {
	c.benefits[customerID] = benefits
}

func (c *Cache) getProgram(customerID id.ID) (*LoyaltyProgram, bool) {
	program, ok := c.programs[customerID]
	return program, ok
}

func (c *Cache) putProgram(customerID id.ID, program *LoyaltyProgram) {
	c.programs[customerID] = program
}
