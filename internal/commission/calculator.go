// Package commission resolves and computes platform fees. Rate resolution
// hits the admin tables on every operation; the math itself is pure.
package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sarrafnet/sarraf-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// Default rates applied when nothing is configured: 1% for the system fee,
// 1.5% for the receiving-office fee.
var (
	defaultSystemRate    = decimal.NewFromFloat(0.01)
	defaultRecipientRate = decimal.NewFromFloat(0.015)
)

const moneyScale = 6

// RateConfigProvider is the read-only view of the commission tables.
type RateConfigProvider interface {
	GetRates(ctx context.Context, op domain.OperationType, currency domain.Currency) ([]domain.CommissionRate, error)
	GetOfficeRate(ctx context.Context, officeID uuid.UUID, currency domain.Currency) (*domain.CommissionRate, error)
	GetOfficeTiers(ctx context.Context, officeID uuid.UUID, currency domain.Currency) ([]domain.OfficeCommissionTier, error)
}

// kindPrecedence orders configured rates: a fixed fee wins over a per-mille
// rate, which wins over a percentage.
var kindPrecedence = []domain.RateKind{
	domain.RateKindFixed,
	domain.RateKindPerMille,
	domain.RateKindPercentage,
}

// pickRate selects the highest-precedence configured rate with a positive
// value. Returns nil when nothing usable is configured.
func pickRate(rates []domain.CommissionRate) *domain.CommissionRate {
	for _, kind := range kindPrecedence {
		for i := range rates {
			if rates[i].Kind == kind && rates[i].Value.GreaterThan(decimal.Zero) {
				return &rates[i]
			}
		}
	}
	return nil
}

type Calculator struct {
	rates RateConfigProvider
}

func NewCalculator(rates RateConfigProvider) *Calculator {
	return &Calculator{rates: rates}
}

// SystemFee computes the platform's own fee for one operation. Falls back to
// the 1% default when no rate is configured.
func (c *Calculator) SystemFee(ctx context.Context, op domain.OperationType, currency domain.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	rates, err := c.rates.GetRates(ctx, op, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SystemFee: %w", err)
	}

	rate := pickRate(rates)
	if rate == nil {
		return amount.Mul(defaultSystemRate).Round(moneyScale), nil
	}

	fee, err := Apply(rate.Kind, rate.Value, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SystemFee: %s %s: %w", op, currency, err)
	}
	return fee, nil
}

// RecipientFee computes the receiving office's fee. Resolution order: a
// matching amount/city tier, then the office's flat rate, then the 1.5%
// default.
func (c *Calculator) RecipientFee(ctx context.Context, officeID uuid.UUID, currency domain.Currency, amount decimal.Decimal, originCity, destCity *string) (decimal.Decimal, error) {
	tiers, err := c.rates.GetOfficeTiers(ctx, officeID, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("RecipientFee: %w", err)
	}

	if tier := FindApplicableTier(tiers, amount, originCity, destCity); tier != nil {
		fee, err := Apply(tier.Kind, tier.Value, amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("RecipientFee: tier %s: %w", tier.ID, err)
		}
		return fee, nil
	}

	rate, err := c.rates.GetOfficeRate(ctx, officeID, currency)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return amount.Mul(defaultRecipientRate).Round(moneyScale), nil
		}
		return decimal.Zero, fmt.Errorf("RecipientFee: %w", err)
	}

	fee, err := Apply(rate.Kind, rate.Value, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("RecipientFee: office %s: %w", officeID, err)
	}
	return fee, nil
}

// FindApplicableTier picks the first tier matching the amount range
// (min <= amount < max) and the optional origin/destination city pair.
// Tiers arrive ordered by min_amount, so ranges that overlap resolve to the
// lowest matching band.
func FindApplicableTier(tiers []domain.OfficeCommissionTier, amount decimal.Decimal, originCity, destCity *string) *domain.OfficeCommissionTier {
	for i := range tiers {
		if tiers[i].Matches(amount, originCity, destCity) {
			return &tiers[i]
		}
	}
	return nil
}

// Apply evaluates one configured rate against an amount:
// fixed value, per-mille (value is in thousandths), or percentage
// (value is the fraction, e.g. 0.015 for 1.5%). A configured rate with a
// non-positive value is a configuration error, surfaced rather than charged
// as zero.
func Apply(kind domain.RateKind, value, amount decimal.Decimal) (decimal.Decimal, error) {
	if value.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, domain.ErrConfigurationMissing
	}

	switch kind {
	case domain.RateKindFixed:
		return value.Round(moneyScale), nil
	case domain.RateKindPerMille:
		return amount.Mul(value).Div(decimal.NewFromInt(1000)).Round(moneyScale), nil
	case domain.RateKindPercentage:
		return amount.Mul(value).Round(moneyScale), nil
	default:
		return decimal.Zero, domain.ErrConfigurationMissing
	}
}
