package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MaxMoney is the first amount that no longer fits a numeric(14,2) column.
var MaxMoney = decimal.New(1, 12)

var (
	errMoneyNotPositive = errors.New("must be greater than zero")
	errMoneyScale       = errors.New("must have at most two decimal places")
	errMoneyRange       = errors.New("must be less than 1000000000000")
)

// CheckMoney reports why amount cannot be stored exactly in a money column.
// Postgres would round a third decimal place instead of refusing it.
func CheckMoney(amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return errMoneyNotPositive
	case !amount.Equal(amount.Truncate(2)):
		return errMoneyScale
	case !amount.LessThan(MaxMoney):
		return errMoneyRange
	}
	return nil
}
