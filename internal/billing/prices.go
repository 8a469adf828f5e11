// Package billing adapts the Stripe API to the license lifecycle: hosted
// checkout, the license price list and webhook event dispatch.
package billing

import (
	"fmt"
	"strings"

	"courseplatform.app/api/models"
	"github.com/shopspring/decimal"
)

// Offer is one row of the public license catalog.
type Offer struct {
	LicenseType     models.LicenseType `json:"licenseType"`
	MaxUsers        *int               `json:"maxUsers"`
	Price           string             `json:"price,omitempty"`
	Amount          *decimal.Decimal   `json:"amount,omitempty"`
	Currency        string             `json:"currency"`
	RequiresContact bool               `json:"requiresContact"`
}

// Prices maps license types to Stripe price ids and display amounts.
type Prices struct {
	ids      map[models.LicenseType]string
	amounts  map[models.LicenseType]decimal.Decimal
	currency string
}

func NewPrices(ids, display map[models.LicenseType]string, currency string) (*Prices, error) {
	p := &Prices{
		ids:      make(map[models.LicenseType]string),
		amounts:  make(map[models.LicenseType]decimal.Decimal),
		currency: strings.ToLower(strings.TrimSpace(currency)),
	}
	if p.currency == "" {
		p.currency = "usd"
	}

	for lt, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			p.ids[lt] = id
		}
	}
	for lt, raw := range display {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid display price for %s: %w", lt, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("display price for %s is negative", lt)
		}
		p.amounts[lt] = amount
	}

	return p, nil
}

func (p *Prices) PriceID(lt models.LicenseType) string {
	return p.ids[lt]
}

// Catalog lists every license type. Organization licenses and types
// without a Stripe price are sold through an administrator.
func (p *Prices) Catalog() []Offer {
	offers := make([]Offer, 0, len(models.LicenseTypes))
	for _, lt := range models.LicenseTypes {
		offer := Offer{
			LicenseType:     lt,
			MaxUsers:        lt.MaxUsers(),
			Currency:        p.currency,
			RequiresContact: lt == models.LicenseOrganization || p.ids[lt] == "",
		}
		if amount, ok := p.amounts[lt]; ok {
			a := amount
			offer.Amount = &a
			offer.Price = FormatPrice(amount, p.currency)
		}
		offers = append(offers, offer)
	}
	return offers
}

// FormatPrice renders an amount in major currency units.
func FormatPrice(amount decimal.Decimal, currency string) string {
	value := amount.StringFixed(2)

	switch strings.ToUpper(currency) {
	case "USD":
		return "$" + value
	case "EUR":
		return "€" + value
	case "GBP":
		return "£" + value
	default:
		return value + " " + strings.ToUpper(currency)
	}
}

// FromMinorUnits converts a Stripe amount in cents to major units.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
