/*
Package factory provides JSON to Go coupon-catalog conversion.

PURPOSE:
  Converts JSON coupon definitions into a CouponCatalog implementing
  dispense.CouponService. This enables coupon configuration without code
  changes - the billing team can define coupons in JSON, and the factory
  creates the proper Go structs.

WHY JSON?
  - Non-developers can add and retire coupons
  - Easy integration with admin tooling
  - Version control for coupon definitions
  - Database storage of coupon configs

JSON SCHEMA:
  {
    "coupons": [
      {
        "code": "FESTIVE10",
        "discount_percentage": "10",
        "description": "Festive season order discount"
      },
      {
        "code": "STAFF25",
        "discount_percentage": "25.5",
        "description": "Staff purchase discount"
      }
    ]
  }

  discount_percentage is a decimal string in [0, 100]. Strings rather than
  JSON numbers so fractional percentages never pass through float64.

KEY FEATURES:
  - Validates codes are unique and percentages are in range
  - Case-sensitive code lookup
  - Stable listing order for display

USAGE:
  catalog, err := factory.LoadCatalog("./config/coupons.json")
  coupon, err := catalog.LookupCoupon(ctx, "FESTIVE10")

SEE ALSO:
  - dispense/collaborators.go: CouponService contract
  - dispense/pricing.go: How a coupon becomes an order discount
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/pharmacy-engine/dispense"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a coupon catalog.
type CatalogJSON struct {
	Coupons []CouponJSON `json:"coupons"`
}

// CouponJSON is the JSON representation of one coupon.
type CouponJSON struct {
	Code               string `json:"code"`
	DiscountPercentage string `json:"discount_percentage"`
	Description        string `json:"description,omitempty"`
}

// =============================================================================
// COUPON CATALOG
// =============================================================================

// CouponCatalog is an immutable set of order coupons loaded from config.
// Implements dispense.CouponService.
type CouponCatalog struct {
	byCode map[string]dispense.Coupon
	order  []string
}

// LoadCatalog reads and parses a coupon catalog file.
func LoadCatalog(path string) (*CouponCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coupon catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a JSON coupon catalog.
func ParseCatalog(data []byte) (*CouponCatalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse coupon catalog JSON: %w", err)
	}
	return FromJSON(cj)
}

// FromJSON converts CatalogJSON to a validated CouponCatalog.
func FromJSON(cj CatalogJSON) (*CouponCatalog, error) {
	catalog := &CouponCatalog{byCode: make(map[string]dispense.Coupon, len(cj.Coupons))}
	for _, entry := range cj.Coupons {
		coupon, err := parseCoupon(entry)
		if err != nil {
			return nil, err
		}
		if _, exists := catalog.byCode[coupon.Code]; exists {
			return nil, fmt.Errorf("duplicate coupon code %q", coupon.Code)
		}
		catalog.byCode[coupon.Code] = coupon
		catalog.order = append(catalog.order, coupon.Code)
	}
	return catalog, nil
}

func parseCoupon(entry CouponJSON) (dispense.Coupon, error) {
	if entry.Code == "" {
		return dispense.Coupon{}, fmt.Errorf("coupon code is required")
	}
	pct, err := decimal.NewFromString(entry.DiscountPercentage)
	if err != nil {
		return dispense.Coupon{}, fmt.Errorf("invalid discount percentage for coupon %q: %w", entry.Code, err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return dispense.Coupon{}, fmt.Errorf("discount percentage %s for coupon %q is outside [0, 100]", pct, entry.Code)
	}
	return dispense.Coupon{
		Code:               entry.Code,
		DiscountPercentage: pct,
		Description:        entry.Description,
	}, nil
}

// =============================================================================
// LOOKUP
// =============================================================================

// LookupCoupon returns the coupon for a code. Codes are case-sensitive.
func (c *CouponCatalog) LookupCoupon(_ context.Context, code string) (dispense.Coupon, error) {
	coupon, ok := c.byCode[code]
	if !ok {
		return dispense.Coupon{}, dispense.ErrCouponNotFound
	}
	return coupon, nil
}

// List returns every coupon in definition order, for display.
func (c *CouponCatalog) List() []dispense.Coupon {
	out := make([]dispense.Coupon, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.byCode[code])
	}
	return out
}

// ToJSON converts the catalog back to its JSON representation.
func (c *CouponCatalog) ToJSON() CatalogJSON {
	var cj CatalogJSON
	for _, coupon := range c.List() {
		cj.Coupons = append(cj.Coupons, CouponJSON{
			Code:               coupon.Code,
			DiscountPercentage: coupon.DiscountPercentage.String(),
			Description:        coupon.Description,
		})
	}
	return cj
}
