package domain

import (
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/billfold/internal/errs"
)

// ValidateDefinition checks the flag and amount constraints of a rule
// definition. Group references are checked separately against the directory.
func ValidateDefinition(flags Flag, amount decimal.Decimal) error {
	if flags.Has(FlagDiscount) && flags.Has(FlagLonger) {
		return errs.Validation("conflicting_flags", "DISCOUNT and LONGER are mutually exclusive")
	}
	if amount.IsNegative() {
		return errs.Validation("invalid_amount", "amount must be positive")
	}
	if (flags.Has(FlagDiscount) || flags.Has(FlagLonger)) && amount.IsZero() {
		return errs.Validation("invalid_amount", "amount must be non-zero for DISCOUNT or LONGER rules")
	}
	return nil
}
