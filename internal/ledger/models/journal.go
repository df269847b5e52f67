package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

// Source names the business event a journal records.
type Source string

const (
	SourceManual           Source = "manual"
	SourceDeposit          Source = "deposit"
	SourceLoanDisbursement Source = "loan.disbursement"
	SourceLoanRepayment    Source = "loan.repayment"
	SourceLoanWriteOff     Source = "loan.write_off"
	SourceProvision        Source = "provision"
	SourceReversal         Source = "reversal"
)

const (
	maxReferenceLength = 64
	maxNarrationLength = 256
	minLines           = 2
	maxLines           = 200

	reversalPrefix = "REV-"
)

// Line is one side of a journal entry. Exactly one of Debit and Credit is positive.
type Line struct {
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo,omitempty"`
}

func Debit(code string, amount decimal.Decimal, memo string) Line {
	return Line{AccountCode: code, Debit: amount, Memo: memo}
}

func Credit(code string, amount decimal.Decimal, memo string) Line {
	return Line{AccountCode: code, Credit: amount, Memo: memo}
}

// Journal is a posted, immutable, balanced entry. Corrections are made by
// posting a reversal, never by editing lines.
type Journal struct {
	ID         id.JournalID  `json:"id"`
	TenantID   id.TenantID   `json:"tenant_id"`
	Reference  string        `json:"reference"`
	Source     Source        `json:"source"`
	SourceID   string        `json:"source_id,omitempty"`
	Currency   string        `json:"currency"`
	Narration  string        `json:"narration,omitempty"`
	ValueDate  time.Time     `json:"value_date"`
	PostedAt   time.Time     `json:"posted_at"`
	PostedBy   id.UserID     `json:"posted_by"`
	ReversalOf *id.JournalID `json:"reversal_of,omitempty"`
	ReversedBy *id.JournalID `json:"reversed_by,omitempty"`
	Lines      []Line        `json:"lines"`
}

func (j *Journal) IsReversal() bool { return j.ReversalOf != nil }
func (j *Journal) IsReversed() bool { return j.ReversedBy != nil }

// Total is the sum of debits, which equals the sum of credits.
func (j *Journal) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range j.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// PostRequest is the input to Post.
type PostRequest struct {
	Reference string    `json:"reference"`
	Source    Source    `json:"source"`
	SourceID  string    `json:"source_id,omitempty"`
	Currency  string    `json:"currency"`
	Narration string    `json:"narration,omitempty"`
	ValueDate time.Time `json:"value_date"`
	Lines     []Line    `json:"lines"`
}

func (r *PostRequest) Normalize() {
	r.Reference = strings.TrimSpace(r.Reference)
	r.Narration = strings.TrimSpace(r.Narration)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Source == "" {
		r.Source = SourceManual
	}
	for i := range r.Lines {
		r.Lines[i].AccountCode = strings.TrimSpace(r.Lines[i].AccountCode)
		r.Lines[i].Memo = strings.TrimSpace(r.Lines[i].Memo)
	}
}

// Validate checks the rules that need no ledger state: shape, sides, scale
// and balance. Account existence, activity and currency are checked at posting.
func (r *PostRequest) Validate() error {
	if r.Reference == "" {
		return dErrors.New(dErrors.CodeValidation, "reference is required")
	}
	// Only reversals carry the prefix on top of a full-length reference.
	limit := maxReferenceLength
	if r.Source == SourceReversal {
		limit += len(reversalPrefix)
	}
	if len(r.Reference) > limit {
		return dErrors.New(dErrors.CodeValidation, "reference is too long")
	}
	if len(r.Narration) > maxNarrationLength {
		return dErrors.New(dErrors.CodeValidation, "narration is too long")
	}
	if _, err := money.ParseCurrency(r.Currency); err != nil {
		return err
	}
	if len(r.Lines) < minLines {
		return dErrors.New(dErrors.CodeValidation, "a journal needs at least two lines")
	}
	if len(r.Lines) > maxLines {
		return dErrors.New(dErrors.CodeValidation, "too many journal lines")
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, l := range r.Lines {
		if l.AccountCode == "" {
			return dErrors.New(dErrors.CodeValidation, lineMsg(i, "account code is required"))
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return dErrors.New(dErrors.CodeValidation, lineMsg(i, "amounts cannot be negative"))
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return dErrors.New(dErrors.CodeValidation, lineMsg(i, "exactly one of debit or credit must be positive"))
		}
		if !money.HasValidScale(l.Debit) || !money.HasValidScale(l.Credit) {
			return dErrors.New(dErrors.CodeValidation, lineMsg(i, "amounts must have at most 2 decimal places"))
		}
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	if !debits.Equal(credits) {
		return dErrors.New(dErrors.CodeValidation, "journal is not balanced: debits "+debits.StringFixed(2)+" != credits "+credits.StringFixed(2))
	}
	return nil
}

func lineMsg(i int, msg string) string {
	return "line " + strconv.Itoa(i+1) + ": " + msg
}

// ReversalOf builds the mirror request for j: sides swapped, reference prefixed.
func ReversalOf(j *Journal, reason string, valueDate time.Time) PostRequest {
	lines := make([]Line, len(j.Lines))
	for i, l := range j.Lines {
		lines[i] = Line{AccountCode: l.AccountCode, Debit: l.Credit, Credit: l.Debit, Memo: l.Memo}
	}
	return PostRequest{
		Reference: reversalPrefix + j.Reference,
		Source:    SourceReversal,
		SourceID:  j.ID.String(),
		Currency:  j.Currency,
		Narration: reason,
		ValueDate: valueDate,
		Lines:     lines,
	}
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
