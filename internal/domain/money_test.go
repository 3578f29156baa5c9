package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCoinsToUSDMicros(t *testing.T) {
	cases := []struct {
		name  string
		coins int64
		rate  string
		want  int64
	}{
		{name: "seven_thousand_coins", coins: 7_000, rate: "0.003", want: 21_000_000},
		{name: "ten_thousand_coins", coins: 10_000, rate: "0.003", want: 30_000_000},
		{name: "zero", coins: 0, rate: "0.003", want: 0},
		{name: "rounds_down", coins: 1, rate: "0.0000001", want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := CoinsToUSDMicros(tc.coins, decimal.RequireFromString(tc.rate))
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFormatUSD(t *testing.T) {
	require.Equal(t, "21.00", FormatUSD(21_000_000))
	require.Equal(t, "0.50", FormatUSD(500_000))
	require.Equal(t, "600.00", FormatUSD(ThresholdUSDMicros))
}

func TestDefaultRateMatchesBusinessMinimum(t *testing.T) {
	// The minimum payout of 7,000 coins must convert to a whole-cent amount.
	micros := CoinsToUSDMicros(DefaultMinPayoutCoins, DefaultCoinUSDRate)
	require.Equal(t, int64(21_000_000), micros)
	require.Equal(t, "21.00", FormatUSD(micros))
}
