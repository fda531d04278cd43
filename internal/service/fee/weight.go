package fee

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	metroFreeWeightKg   = "3.0"
	regularFreeWeightKg = "2.0"
	weightStepKg        = "0.5"
	weightStepFee       = 2500
)

// weightCalculator тарифицирует по суммарному весу заказа:
// базовая ставка региона плюс доплата за каждые начатые 0.5 кг сверх порога.
type weightCalculator struct{}

func NewWeightCalculator() Calculator {
	return weightCalculator{}
}

func (weightCalculator) Name() string { return StrategyWeight }

func (weightCalculator) Calculate(ctx Context) (Result, error) {
	totalWeight := lo.Reduce(ctx.Items, func(acc decimal.Decimal, item Item, _ int) decimal.Decimal {
		w := decimal.NewFromFloat(item.Weight).Mul(decimal.NewFromInt(int64(item.Quantity)))
		return acc.Add(w)
	}, decimal.Zero)

	var base, threshold decimal.Decimal
	if metroRegions[ctx.DestinationRegion] {
		base = decimal.NewFromInt(metroBaseFee)
		threshold = decimal.RequireFromString(metroFreeWeightKg)
	} else {
		base = decimal.NewFromInt(regularBaseFee)
		threshold = decimal.RequireFromString(regularFreeWeightKg)
	}

	// доплата за каждые начатые 0.5 кг сверх бесплатного порога
	var additional int64
	if totalWeight.GreaterThan(threshold) {
		steps := totalWeight.Sub(threshold).Div(decimal.RequireFromString(weightStepKg)).Ceil().IntPart()
		additional = steps * weightStepFee
	}

	fee := base.IntPart() + additional
	discount := applyDiscount(ctx.Subtotal, fee)

	return Result{
		BaseFee:       base.IntPart(),
		AdditionalFee: additional,
		Discount:      discount,
		FinalFee:      fee - discount,
		Strategy:      StrategyWeight,
		Detail: fmt.Sprintf("region=%s total_weight=%skg base=%d additional=%d discount=%d",
			ctx.DestinationRegion, totalWeight.String(), base.IntPart(), additional, discount),
	}, nil
}
