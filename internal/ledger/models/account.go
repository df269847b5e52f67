package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

// AccountType is the chart-of-accounts class of a GL account.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// NaturalSide is the side that increases an account of type t.
func (t AccountType) NaturalSide() Side {
	if t == AccountTypeAsset || t == AccountTypeExpense {
		return SideDebit
	}
	return SideCredit
}

// Side is a posting side.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

func (s Side) IsValid() bool {
	return s == SideDebit || s == SideCredit
}

// Chart codes the posting paths rely on. Every tenant is seeded with them.
const (
	CodeCash              = "1000"
	CodeLoansPrincipal    = "1100"
	CodeLoanLossAllowance = "1190"
	CodeCustomerDeposits  = "2000"
	CodeRetainedEarnings  = "3000"
	CodeInterestIncome    = "4000"
	CodeFeeIncome         = "4100"
	CodeImpairmentCharge  = "5000"
)

var accountCodePattern = regexp.MustCompile(`^[0-9]{4,10}$`)

// Account is a general ledger account.
//
// Invariants:
//   - Code is 4 to 10 digits and unique per tenant
//   - NormalBalance decides the sign of the reported balance
//   - Currency is fixed at creation; journals in other currencies cannot touch it
//   - Inactive accounts reject new postings but keep their history
type Account struct {
	TenantID      id.TenantID `json:"tenant_id"`
	Code          string      `json:"code"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	NormalBalance Side        `json:"normal_balance"`
	Currency      string      `json:"currency"`
	Active        bool        `json:"active"`
	CreatedAt     time.Time   `json:"created_at"`
}

func NewAccount(tenantID id.TenantID, code, name string, typ AccountType, normal Side, currency string, now time.Time) (*Account, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if !accountCodePattern.MatchString(code) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account code must be 4 to 10 digits")
	}
	if name == "" || len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account name must be 1 to 128 characters")
	}
	if !typ.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown account type")
	}
	if normal == "" {
		normal = typ.NaturalSide()
	}
	if !normal.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "normal balance must be debit or credit")
	}
	ccy, err := money.ParseCurrency(currency)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, err.Error())
	}
	return &Account{
		TenantID:      tenantID,
		Code:          code,
		Name:          name,
		Type:          typ,
		NormalBalance: normal,
		Currency:      ccy,
		Active:        true,
		CreatedAt:     now,
	}, nil
}

// Totals are the summed sides of an account's lines.
type Totals struct {
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

func (t Totals) Add(l Line) Totals {
	return Totals{Debit: t.Debit.Add(l.Debit), Credit: t.Credit.Add(l.Credit)}
}

// Signed returns the balance with the account's normal side positive.
func (a *Account) Signed(t Totals) decimal.Decimal {
	if a.NormalBalance == SideDebit {
		return t.Debit.Sub(t.Credit)
	}
	return t.Credit.Sub(t.Debit)
}

// ChartEntry describes one account of the seeded chart.
type ChartEntry struct {
	Code          string
	Name          string
	Type          AccountType
	NormalBalance Side
}

// DefaultChart is seeded for every new tenant. The loan loss allowance is a
// contra-asset: an asset account carrying a credit balance.
var DefaultChart = []ChartEntry{
	{CodeCash, "Cash", AccountTypeAsset, SideDebit},
	{CodeLoansPrincipal, "Loans principal", AccountTypeAsset, SideDebit},
	{CodeLoanLossAllowance, "Loan loss allowance", AccountTypeAsset, SideCredit},
	{CodeCustomerDeposits, "Customer deposits", AccountTypeLiability, SideCredit},
	{CodeRetainedEarnings, "Retained earnings", AccountTypeEquity, SideCredit},
	{CodeInterestIncome, "Interest income", AccountTypeIncome, SideCredit},
	{CodeFeeIncome, "Fee income", AccountTypeIncome, SideCredit},
	{CodeImpairmentCharge, "Impairment charge", AccountTypeExpense, SideDebit},
}

// IsSystemCode reports whether code belongs to the seeded chart the posting paths depend on.
func IsSystemCode(code string) bool {
	for _, e := range DefaultChart {
		if e.Code == code {
			return true
		}
	}
	return false
}
