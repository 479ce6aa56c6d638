package wallet

import "github.com/shopspring/decimal"

// Balances are the two buckets of an organization wallet.
type Balances struct {
	Spendable decimal.Decimal `json:"spendable"`
	Bonus     decimal.Decimal `json:"bonus"`
}

func (b Balances) Total() decimal.Decimal {
	return b.Spendable.Add(b.Bonus)
}

// CheckBalance reports whether amount fits in both buckets together.
func (b Balances) CheckBalance(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(b.Total())
}

// Split divides amount bonus-first: the bonus bucket is drained before spendable is touched.
func (b Balances) Split(amount decimal.Decimal) (bonusTaken, spendableTaken decimal.Decimal) {
	bonusTaken = decimal.Max(decimal.Zero, decimal.Min(b.Bonus, amount))
	spendableTaken = amount.Sub(bonusTaken)
	return bonusTaken, spendableTaken
}

// After returns the balances once the given debits are applied.
func (b Balances) After(bonusTaken, spendableTaken decimal.Decimal) Balances {
	return Balances{
		Spendable: b.Spendable.Sub(spendableTaken),
		Bonus:     b.Bonus.Sub(bonusTaken),
	}
}
