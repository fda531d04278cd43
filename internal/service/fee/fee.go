// Package fee — чистый расчёт стоимости доставки.
// Стратегии взаимозаменяемы, выбираются по имени; никакого I/O.
package fee

import "errors"

var ErrUnknownStrategy = errors.New("unknown fee strategy")

// Item — позиция заказа в контексте расчёта
type Item struct {
	Weight     float64 // кг за единицу
	Dimensions string  // "LxWxH cm"
	Value      int64   // цена за единицу, VND
	Quantity   int
}

// Context — снимок корзины и направления, всё что нужно стратегии
type Context struct {
	Items             []Item
	DestinationRegion string
	Subtotal          int64 // VND, с НДС
}

// Result — результат одного расчёта; не персистится,
// итог записывается в заказ как delivery_fee
type Result struct {
	BaseFee       int64  `json:"base_fee"`
	AdditionalFee int64  `json:"additional_fee"`
	Discount      int64  `json:"discount"`
	FinalFee      int64  `json:"final_fee"`
	Strategy      string `json:"strategy"`
	Detail        string `json:"detail"`
}

// Calculator — одна стратегия расчёта доставки
type Calculator interface {
	Name() string
	Calculate(ctx Context) (Result, error)
}

const (
	StrategyWeight = "weight"
	StrategyVolume = "volume"
)

// Регионы-метрополии с пониженной базовой ставкой и повышенным бесплатным порогом
var metroRegions = map[string]bool{
	"HN":  true,
	"SGN": true,
}

const (
	metroBaseFee   = 22000
	regularBaseFee = 40000

	// скидка за крупный заказ, не ниже нуля по итогу
	discountSubtotalOver = 100000
	discountCap          = 25000
)

// applyDiscount режет скидкой посчитанный тариф; тариф не уходит ниже нуля
func applyDiscount(subtotal, fee int64) int64 {
	if subtotal <= discountSubtotalOver {
		return 0
	}
	if fee < discountCap {
		return fee
	}
	return discountCap
}

// Engine — реестр именованных стратегий
type Engine struct {
	strategies  map[string]Calculator
	defaultName string
}

// NewEngine регистрирует стратегии; первая считается стратегией по умолчанию
func NewEngine(calculators ...Calculator) *Engine {
	e := &Engine{strategies: make(map[string]Calculator)}
	for i, c := range calculators {
		if i == 0 {
			e.defaultName = c.Name()
		}
		e.strategies[c.Name()] = c
	}
	return e
}

// NewDefaultEngine собирает движок со штатным набором стратегий (вес по умолчанию)
func NewDefaultEngine() *Engine {
	return NewEngine(NewWeightCalculator(), NewVolumeCalculator())
}

// Calculate выбирает стратегию по имени (пустое имя — стратегия по умолчанию)
func (e *Engine) Calculate(strategy string, ctx Context) (Result, error) {
	if strategy == "" {
		strategy = e.defaultName
	}
	c, ok := e.strategies[strategy]
	if !ok {
		return Result{}, ErrUnknownStrategy
	}
	return c.Calculate(ctx)
}
