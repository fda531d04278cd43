package fee

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	freeVolumeM3  = "0.05"
	volumeStepM3  = "0.05"
	volumeStepFee = 5000
)

// volumeCalculator тарифицирует по суммарному объёму заказа:
// схема порога и скидки та же, что у весовой стратегии, но тарифицируемая
// величина — объём в м³, разобранный из строки габаритов "LxWxH cm".
type volumeCalculator struct{}

func NewVolumeCalculator() Calculator {
	return volumeCalculator{}
}

func (volumeCalculator) Name() string { return StrategyVolume }

func (volumeCalculator) Calculate(ctx Context) (Result, error) {
	total := decimal.Zero
	for _, item := range ctx.Items {
		v, err := parseVolumeM3(item.Dimensions)
		if err != nil {
			return Result{}, fmt.Errorf("parse dimensions %q: %w", item.Dimensions, err)
		}
		total = total.Add(v.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	var base decimal.Decimal
	if metroRegions[ctx.DestinationRegion] {
		base = decimal.NewFromInt(metroBaseFee)
	} else {
		base = decimal.NewFromInt(regularBaseFee)
	}

	// доплата за каждые начатые 0.05 м³ сверх бесплатного порога
	var additional int64
	threshold := decimal.RequireFromString(freeVolumeM3)
	if total.GreaterThan(threshold) {
		steps := total.Sub(threshold).Div(decimal.RequireFromString(volumeStepM3)).Ceil().IntPart()
		additional = steps * volumeStepFee
	}

	fee := base.IntPart() + additional
	discount := applyDiscount(ctx.Subtotal, fee)

	return Result{
		BaseFee:       base.IntPart(),
		AdditionalFee: additional,
		Discount:      discount,
		FinalFee:      fee - discount,
		Strategy:      StrategyVolume,
		Detail: fmt.Sprintf("region=%s total_volume=%sm3 base=%d additional=%d discount=%d",
			ctx.DestinationRegion, total.String(), base.IntPart(), additional, discount),
	}, nil
}

// parseVolumeM3 разбирает габариты вида "30x20x15 cm" и возвращает объём в м³
func parseVolumeM3(dimensions string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(dimensions), "cm"))
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return decimal.Zero, fmt.Errorf("expected LxWxH, got %q", dimensions)
	}

	volumeCm3 := decimal.NewFromInt(1)
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return decimal.Zero, err
		}
		if d.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("non-positive dimension %q", p)
		}
		volumeCm3 = volumeCm3.Mul(d)
	}

	// см³ -> м³
	return volumeCm3.Div(decimal.NewFromInt(1_000_000)), nil
}
