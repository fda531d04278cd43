package models

// Product представляет товар каталога (CRUD каталога — вне этого сервиса,
// здесь товар нужен для проверки остатков и расчёта доставки)
type Product struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Price        int64   `json:"price"`      // цена без НДС, VND
	Weight       float64 `json:"weight"`     // кг
	Dimensions   string  `json:"dimensions"` // "LxWxH cm", например "30x20x15 cm"
	Stock        int     `json:"stock"`
	RushEligible bool    `json:"rush_eligible"`
}
