package convert

import (
	"math"
	"strconv"
	"strings"

	"github.com/fintra/fxengine/storage/types"
)

// currencySymbols maps known codes to their display symbol
var currencySymbols = map[types.Currency]string{
	"USD":  "$",
	"USDT": "$",
	"EUR":  "€",
	"CNY":  "¥",
	"TRY":  "₺",
	"RUB":  "₽",
	"VES":  "Bs. ",
}

// Format renders an amount for display. It never panics on bad input,
// NaN and infinities format to a clearly invalid but harmless string
// so UI layers stay up on corrupt upstream data
func Format(amount float64, currency types.Currency) string {
	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = currency.String() + " "
	}

	switch {
	case math.IsNaN(amount):
		return symbol + "NaN"
	case math.IsInf(amount, 1):
		return symbol + "∞"
	case math.IsInf(amount, -1):
		return "-" + symbol + "∞"
	}

	var sign string

	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	raw := strconv.FormatFloat(amount, 'f', 2, 64)

	whole, frac, _ := strings.Cut(raw, ".")

	return sign + symbol + groupThousands(whole) + "." + frac
}

// groupThousands inserts comma separators into a digit string
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var sb strings.Builder

	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}

	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}

		sb.WriteString(digits[i : i+3])
	}

	return sb.String()
}
