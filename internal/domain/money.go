package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// USD amounts are stored as BIGINT micros (10^-6 dollars) to avoid floating
// point errors. Coin amounts are plain integers.
const usdMicrosPerDollar = 1_000_000

// DefaultCoinUSDRate is the USD value of a single paid coin.
var DefaultCoinUSDRate = decimal.RequireFromString("0.003")

// CoinsToUSDMicros converts a coin amount to USD micros at the given rate,
// rounding down.
func CoinsToUSDMicros(coins int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(coins).
		Mul(rate).
		Mul(decimal.NewFromInt(usdMicrosPerDollar)).
		IntPart()
}

// USDMicrosToDecimal converts micros to a decimal dollar amount.
func USDMicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(decimal.NewFromInt(usdMicrosPerDollar))
}

// FormatUSD renders micros as a fixed two-decimal dollar string.
func FormatUSD(micros int64) string {
	return USDMicrosToDecimal(micros).StringFixed(2)
}

// USDString renders micros with a currency suffix for logs and alerts.
func USDString(micros int64) string {
	return fmt.Sprintf("%s USD", FormatUSD(micros))
}
