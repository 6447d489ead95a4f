package tax_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/tax"
)

func TestCalculator_StandardRate(t *testing.T) {
	calc := tax.NewCalculator(nil)

	line, err := calc.Line(model.SourceLine{
		ID:          1,
		Description: "Laptop",
		Quantity:    decimal.NewFromInt(2),
		UnitPrice:   decimal.NewFromInt(3000),
	})
	require.NoError(t, err)

	assert.Equal(t, model.VATCategoryStandard, line.VATCategory)
	assert.True(t, line.NetAmount.Equal(decimal.NewFromInt(6000)))
	assert.True(t, line.VATAmount.Equal(decimal.NewFromInt(900)), "got %s", line.VATAmount)
	assert.True(t, line.TotalAmount.Equal(decimal.NewFromInt(6900)))
}

func TestCalculator_ZeroRatedCategories(t *testing.T) {
	calc := tax.NewCalculator(nil)

	for _, cat := range []string{
		model.VATCategoryZeroRated,
		model.VATCategoryExempt,
		model.VATCategoryOutOfScope,
	} {
		line, err := calc.Line(model.SourceLine{
			ID:          1,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(100),
			VATCategory: cat,
		})
		require.NoError(t, err, "category %s", cat)
		assert.True(t, line.VATAmount.IsZero(), "category %s should carry no VAT", cat)
		assert.True(t, line.TotalAmount.Equal(line.NetAmount))
	}
}

func TestCalculator_UnknownCategory(t *testing.T) {
	calc := tax.NewCalculator(nil)

	_, err := calc.Line(model.SourceLine{
		ID:          1,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(100),
		VATCategory: "X",
	})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeValidation))
}

func TestCalculator_InjectedRateTable(t *testing.T) {
	// A future rate change must flow through without code edits
	rates := tax.RateTable{
		model.VATCategoryStandard: decimal.NewFromInt(20),
	}
	calc := tax.NewCalculator(rates)

	line, err := calc.Line(model.SourceLine{
		ID:        1,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, line.VATAmount.Equal(decimal.NewFromInt(20)), "got %s", line.VATAmount)
}

func TestCalculator_ExplicitLineRate(t *testing.T) {
	calc := tax.NewCalculator(nil)

	line, err := calc.Line(model.SourceLine{
		ID:        1,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(200),
		VATRate:   decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.True(t, line.VATRate.Equal(decimal.NewFromInt(5)))
	assert.True(t, line.VATAmount.Equal(decimal.NewFromInt(10)))
}

func TestCalculator_NegativeInputs(t *testing.T) {
	calc := tax.NewCalculator(nil)

	_, err := calc.Line(model.SourceLine{
		ID:        3,
		Quantity:  decimal.NewFromInt(-1),
		UnitPrice: decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity")

	_, err = calc.Line(model.SourceLine{
		ID:        3,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(-100),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit price")
}

func TestCalculator_Totals(t *testing.T) {
	calc := tax.NewCalculator(nil)

	src := []model.SourceLine{
		{ID: 1, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("99.99")},
		{ID: 2, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("0.01")},
		{ID: 3, Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(50), VATCategory: model.VATCategoryZeroRated},
	}

	var lines []model.LineItem
	for _, s := range src {
		l, err := calc.Line(s)
		require.NoError(t, err)
		lines = append(lines, l)
	}

	net, vat, gross := calc.Totals(lines)

	// 199.98 + 0.01 + 150.00
	assert.Equal(t, "349.99", net.StringFixed(2))
	// 30.00 + 0.00 + 0.00
	assert.Equal(t, "30.00", vat.StringFixed(2))
	assert.Equal(t, "379.99", gross.StringFixed(2))
}

func TestCalculator_RoundingPerLine(t *testing.T) {
	calc := tax.NewCalculator(nil)

	// 15% of 0.03 is 0.0045 which rounds to 0.00 per line
	line, err := calc.Line(model.SourceLine{
		ID:        1,
		Quantity:  decimal.NewFromInt(3),
		UnitPrice: decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.00", line.VATAmount.StringFixed(2))
}

func TestDefaultRates(t *testing.T) {
	rates := tax.DefaultRates()

	r, err := rates.Rate(model.VATCategoryStandard)
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(15)))

	_, err = rates.Rate("nope")
	require.Error(t, err)
}
