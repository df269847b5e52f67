package models

import (
	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

// Installment is one monthly payment. Waived marks interest forgiven when
// the loan was repaid early.
type Installment struct {
	Number        int             `json:"number"`
	DueDate       id.Date         `json:"due_date"`
	Principal     decimal.Decimal `json:"principal"`
	Interest      decimal.Decimal `json:"interest"`
	PaidPrincipal decimal.Decimal `json:"paid_principal"`
	PaidInterest  decimal.Decimal `json:"paid_interest"`
	Waived        bool            `json:"waived,omitempty"`
}

func (in Installment) Total() decimal.Decimal {
	return in.Principal.Add(in.Interest)
}

func (in Installment) PrincipalDue() decimal.Decimal {
	return in.Principal.Sub(in.PaidPrincipal)
}

func (in Installment) InterestDue() decimal.Decimal {
	if in.Waived {
		return decimal.Zero
	}
	return in.Interest.Sub(in.PaidInterest)
}

func (in Installment) AmountDue() decimal.Decimal {
	return in.PrincipalDue().Add(in.InterestDue())
}

func (in Installment) IsPaid() bool {
	return !in.AmountDue().IsPositive()
}

const (
	rateDivisionPrecision = 16
	growthPrecision       = 20
)

var (
	twelveHundred = decimal.NewFromInt(1200)
	minorUnit     = decimal.New(1, -money.Scale)
)

// BuildSchedule lays out termMonths monthly installments starting at firstDue.
//
// Annuity uses the reducing-balance payment P*r/(1-(1+r)^-n) with r the
// monthly rate, or P/n at zero rate. Flat spreads P*rate/100*n/12 of interest
// evenly. Every amount is rounded to cents and the last installment absorbs
// the rounding so principals sum to principal exactly.
func BuildSchedule(principal, annualRate decimal.Decimal, termMonths int, method Method, firstDue id.Date) ([]Installment, error) {
	if err := money.Positive("principal", principal); err != nil {
		return nil, err
	}
	if annualRate.IsNegative() || annualRate.GreaterThan(decimal.NewFromInt(MaxRate)) {
		return nil, dErrors.New(dErrors.CodeValidation, "annual_rate must be between 0 and 100")
	}
	if termMonths < 1 || termMonths > MaxTermMonths {
		return nil, dErrors.New(dErrors.CodeValidation, "term_months must be between 1 and 600")
	}
	if firstDue.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "first due date is required")
	}

	switch method {
	case MethodAnnuity:
		return annuity(principal, annualRate, termMonths, firstDue), nil
	case MethodFlat:
		return flat(principal, annualRate, termMonths, firstDue), nil
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "method must be annuity or flat")
	}
}

// AnnuityPayment is the level monthly payment before cent rounding of the
// final installment. Interest-bearing payments round up to the cent so every
// installment retires some principal.
func AnnuityPayment(principal, annualRate decimal.Decimal, termMonths int) decimal.Decimal {
	n := decimal.NewFromInt(int64(termMonths))
	if annualRate.IsZero() {
		return money.Round2(principal.Div(n))
	}
	r := annualRate.DivRound(twelveHundred, rateDivisionPrecision)
	growth := decimal.NewFromInt(1)
	onePlusR := growth.Add(r)
	for i := 0; i < termMonths; i++ {
		growth = growth.Mul(onePlusR).Round(growthPrecision)
	}
	// P*r/(1-(1+r)^-n) == P*r*g/(g-1) with g = (1+r)^n
	payment := principal.Mul(r).Mul(growth).DivRound(growth.Sub(decimal.NewFromInt(1)), rateDivisionPrecision)
	return payment.RoundUp(money.Scale)
}

func annuity(principal, annualRate decimal.Decimal, termMonths int, firstDue id.Date) []Installment {
	r := annualRate.DivRound(twelveHundred, rateDivisionPrecision)
	payment := AnnuityPayment(principal, annualRate, termMonths)

	out := make([]Installment, 0, termMonths)
	balance := principal
	for i := 0; i < termMonths; i++ {
		interest := money.Round2(balance.Mul(r))
		part := money.Min(payment.Sub(interest), balance)
		if !part.IsPositive() {
			// Interest rounding ate the payment; retire a cent.
			part = money.Min(minorUnit, balance)
		}
		if i == termMonths-1 {
			part = balance
		}
		balance = balance.Sub(part)
		out = append(out, newInstallment(i, firstDue, part, interest))
	}
	return out
}

func flat(principal, annualRate decimal.Decimal, termMonths int, firstDue id.Date) []Installment {
	n := decimal.NewFromInt(int64(termMonths))
	totalInterest := money.Round2(principal.Mul(annualRate).Mul(n).DivRound(twelveHundred, rateDivisionPrecision))
	eachPrincipal := money.Round2(principal.Div(n))
	eachInterest := money.Round2(totalInterest.Div(n))

	out := make([]Installment, 0, termMonths)
	balance, interestLeft := principal, totalInterest
	for i := 0; i < termMonths; i++ {
		part := money.Min(eachPrincipal, balance)
		interest := money.Min(eachInterest, interestLeft)
		if i == termMonths-1 {
			part, interest = balance, interestLeft
		}
		balance = balance.Sub(part)
		interestLeft = interestLeft.Sub(interest)
		out = append(out, newInstallment(i, firstDue, part, interest))
	}
	return out
}

func newInstallment(i int, firstDue id.Date, principal, interest decimal.Decimal) Installment {
	return Installment{
		Number:        i + 1,
		DueDate:       firstDue.AddMonths(i),
		Principal:     principal,
		Interest:      interest,
		PaidPrincipal: decimal.Zero,
		PaidInterest:  decimal.Zero,
	}
}
