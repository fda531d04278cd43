package fee

import "github.com/shopspring/decimal"

// Ставка НДС. Единственное место в коде, где она применяется:
// сумма заказа собирается из цен без НДС и облагается один раз.
var vatMultiplier = decimal.RequireFromString("1.10")

// ApplyVAT возвращает сумму с НДС, округлённую до целого VND
func ApplyVAT(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(vatMultiplier).Round(0).IntPart()
}
