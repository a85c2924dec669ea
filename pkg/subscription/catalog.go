package subscription

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps provider product IDs to plan tiers and back. Webhook events
// carry product IDs that must resolve to a tier; management actions go the
// other way, turning a requested tier and billing period into the product ID
// sent to the provider.
type Catalog struct {
	products map[string]Tier
	byTier   map[Tier]map[BillingPeriod]string
}

// NewCatalog builds a catalog from a tier -> period -> product ID table.
func NewCatalog(plans map[Tier]map[BillingPeriod]string) *Catalog {
	c := &Catalog{
		products: make(map[string]Tier),
		byTier:   make(map[Tier]map[BillingPeriod]string, len(plans)),
	}
	for tier, periods := range plans {
		c.byTier[tier] = make(map[BillingPeriod]string, len(periods))
		for period, productID := range periods {
			c.byTier[tier][period] = productID
			c.products[productID] = tier
		}
	}
	return c
}

// DefaultCatalog returns the built-in product table. Deployments override it
// with LoadCatalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[Tier]map[BillingPeriod]string{
		TierBasic: {
			PeriodMonthly: "pdt_basic_monthly",
			PeriodYearly:  "pdt_basic_yearly",
		},
		TierPro: {
			PeriodMonthly: "pdt_pro_monthly",
			PeriodYearly:  "pdt_pro_yearly",
		},
		TierUltra: {
			PeriodMonthly: "pdt_ultra_monthly",
			PeriodYearly:  "pdt_ultra_yearly",
		},
	})
}

type catalogFile struct {
	Plans map[string]map[string]string `yaml:"plans"`
}

// LoadCatalog reads a YAML product table:
//
//	plans:
//	  basic:
//	    monthly: pdt_xxx
//	    yearly: pdt_yyy
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	plans := make(map[Tier]map[BillingPeriod]string, len(file.Plans))
	for tierName, periods := range file.Plans {
		tier, ok := ParseTier(tierName)
		if !ok || tier == TierNone {
			return nil, fmt.Errorf("%w: %q in catalog %s", ErrUnknownPlan, tierName, path)
		}
		plans[tier] = make(map[BillingPeriod]string, len(periods))
		for periodName, productID := range periods {
			period, ok := ParseBillingPeriod(periodName)
			if !ok {
				return nil, fmt.Errorf("%w: %q in catalog %s", ErrUnknownBillingPeriod, periodName, path)
			}
			plans[tier][period] = productID
		}
	}
	return NewCatalog(plans), nil
}

// ResolveTier determines the tier a webhook event grants. It is total: every
// event resolves to some tier, falling through metadata, the product table and
// a name match before defaulting to basic. An unmapped product must never
// block a paying customer.
func (c *Catalog) ResolveTier(ev *Event) Tier {
	if tier, ok := ParseTier(ev.Plan); ok && tier != TierNone {
		return tier
	}
	if tier, ok := c.products[ev.ProductID]; ok {
		return tier
	}
	name := strings.ToLower(ev.ProductName)
	switch {
	case strings.Contains(name, "ultra"):
		return TierUltra
	case strings.Contains(name, "pro"):
		return TierPro
	}
	return TierBasic
}

// ProductID returns the provider product for a tier and billing period.
func (c *Catalog) ProductID(tier Tier, period BillingPeriod) (string, error) {
	periods, ok := c.byTier[tier]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlan, tier)
	}
	productID, ok := periods[period]
	if !ok {
		return "", fmt.Errorf("%w: %s for plan %s", ErrUnknownBillingPeriod, period, tier)
	}
	return productID, nil
}
