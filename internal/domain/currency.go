package domain

type Currency string

const (
	CurrencyLYD Currency = "LYD"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyTND Currency = "TND"
	CurrencyEGP Currency = "EGP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyLYD, CurrencyUSD, CurrencyEUR, CurrencyTND, CurrencyEGP:
		return true
	default:
		return false
	}
}
