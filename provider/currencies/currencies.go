package currencies

import "github.com/fintra/fxengine/storage/types"

var (
	USD  types.Currency = "USD"
	EUR  types.Currency = "EUR"
	CNY  types.Currency = "CNY"
	TRY  types.Currency = "TRY"
	RUB  types.Currency = "RUB"
	VES  types.Currency = "VES"
	USDT types.Currency = "USDT"
)
