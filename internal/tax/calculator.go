// Package tax computes Saudi VAT amounts for invoice lines using an
// injected rate table, so a regulatory rate change is a data update
// rather than a code change.
package tax

import (
	"fmt"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/zatca-pipeline/internal/decimal"
	"github.com/rezonia/zatca-pipeline/internal/model"
)

// RateTable maps VAT category codes to percentage rates
type RateTable map[string]decimal.Decimal

// DefaultRates returns the rate table in force since July 2020:
// 15% standard, with zero-rated, exempt and out-of-scope categories at 0%.
func DefaultRates() RateTable {
	return RateTable{
		model.VATCategoryStandard:   decimal.NewFromInt(15),
		model.VATCategoryZeroRated:  decimal.Zero,
		model.VATCategoryExempt:     decimal.Zero,
		model.VATCategoryOutOfScope: decimal.Zero,
	}
}

// Rate looks up the percentage for a category code
func (t RateTable) Rate(category string) (decimal.Decimal, error) {
	r, ok := t[category]
	if !ok {
		return decimal.Zero, model.ErrValidation("vat_category",
			fmt.Sprintf("unknown VAT category %q", category))
	}
	return r, nil
}

// Calculator derives line and invoice VAT amounts
type Calculator struct {
	rates RateTable
}

// NewCalculator creates a calculator over the given rate table
func NewCalculator(rates RateTable) *Calculator {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// Line computes the monetary fields of a single invoice line. The category
// defaults to standard-rated when the source leaves it blank; an explicit
// rate on the source line overrides the table.
func (c *Calculator) Line(src model.SourceLine) (model.LineItem, error) {
	category := src.VATCategory
	if category == "" {
		category = model.VATCategoryStandard
	}

	rate := src.VATRate
	if rate.IsZero() && category == model.VATCategoryStandard {
		var err error
		rate, err = c.rates.Rate(category)
		if err != nil {
			return model.LineItem{}, err
		}
	} else if _, err := c.rates.Rate(category); err != nil {
		return model.LineItem{}, err
	}

	if src.Quantity.IsNegative() {
		return model.LineItem{}, model.ErrValidation("quantity",
			fmt.Sprintf("line %d: quantity must not be negative", src.ID))
	}
	if src.UnitPrice.IsNegative() {
		return model.LineItem{}, model.ErrValidation("unit_price",
			fmt.Sprintf("line %d: unit price must not be negative", src.ID))
	}

	net := dec.Mul(src.Quantity, src.UnitPrice)
	vat := dec.ApplyRate(net, rate)

	return model.LineItem{
		ID:          src.ID,
		Description: src.Description,
		Quantity:    src.Quantity,
		UnitPrice:   src.UnitPrice,
		VATCategory: category,
		VATRate:     rate,
		NetAmount:   net,
		VATAmount:   vat,
		TotalAmount: net.Add(vat),
	}, nil
}

// Totals sums computed lines into invoice-level amounts
func (c *Calculator) Totals(lines []model.LineItem) (net, vat, gross decimal.Decimal) {
	for _, l := range lines {
		net = net.Add(l.NetAmount)
		vat = vat.Add(l.VATAmount)
	}
	net = dec.Round(net)
	vat = dec.Round(vat)
	return net, vat, net.Add(vat)
}
