package models

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

// Class is an IFRS 9 loan-quality bucket.
type Class string

const (
	Performing     Class = "performing"
	SpecialMention Class = "special_mention"
	Substandard    Class = "substandard"
	Doubtful       Class = "doubtful"
	Lost           Class = "lost"
)

func (c Class) IsValid() bool {
	switch c {
	case Performing, SpecialMention, Substandard, Doubtful, Lost:
		return true
	}
	return false
}

// Stage is the IFRS 9 impairment stage: 1 performing, 2 significant increase
// in credit risk, 3 credit-impaired.
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
	Stage3 Stage = 3
)

// OpenEnded marks the last bucket's MaxDPD.
const OpenEnded = -1

// Bucket maps a days-past-due range to a class, a provision rate and a stage.
// The range is inclusive on both ends.
type Bucket struct {
	Class  Class           `json:"class"`
	MinDPD int             `json:"min_dpd"`
	MaxDPD int             `json:"max_dpd"`
	Rate   decimal.Decimal `json:"rate"`
	Stage  Stage           `json:"stage"`
}

func (b Bucket) Contains(dpd int) bool {
	return dpd >= b.MinDPD && (b.MaxDPD == OpenEnded || dpd <= b.MaxDPD)
}

// Policy is the provisioning table applied to every loan in a tenant.
type Policy struct {
	Buckets          []Bucket `json:"buckets"`
	DeductCollateral bool     `json:"deduct_collateral"`
}

func DefaultPolicy() Policy {
	return Policy{Buckets: []Bucket{
		{Class: Performing, MinDPD: 0, MaxDPD: 30, Rate: decimal.RequireFromString("0.01"), Stage: Stage1},
		{Class: SpecialMention, MinDPD: 31, MaxDPD: 90, Rate: decimal.RequireFromString("0.05"), Stage: Stage2},
		{Class: Substandard, MinDPD: 91, MaxDPD: 180, Rate: decimal.RequireFromString("0.20"), Stage: Stage3},
		{Class: Doubtful, MinDPD: 181, MaxDPD: 360, Rate: decimal.RequireFromString("0.50"), Stage: Stage3},
		{Class: Lost, MinDPD: 361, MaxDPD: OpenEnded, Rate: decimal.NewFromInt(1), Stage: Stage3},
	}}
}

// Validate checks the table covers [0, inf) without gaps or overlaps and that
// rates never fall as delinquency grows.
func (p Policy) Validate() error {
	if len(p.Buckets) == 0 {
		return dErrors.New(dErrors.CodeValidation, "policy needs at least one bucket")
	}
	seen := make(map[Class]bool, len(p.Buckets))
	for i, b := range p.Buckets {
		at := "bucket " + strconv.Itoa(i+1) + ": "
		if !b.Class.IsValid() {
			return dErrors.New(dErrors.CodeValidation, at+"unknown class "+string(b.Class))
		}
		if seen[b.Class] {
			return dErrors.New(dErrors.CodeValidation, at+"class "+string(b.Class)+" appears twice")
		}
		seen[b.Class] = true
		if b.Stage < Stage1 || b.Stage > Stage3 {
			return dErrors.New(dErrors.CodeValidation, at+"stage must be 1, 2 or 3")
		}
		if b.Rate.IsNegative() || b.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return dErrors.New(dErrors.CodeValidation, at+"rate must be between 0 and 1")
		}
		if i == 0 {
			if b.MinDPD != 0 {
				return dErrors.New(dErrors.CodeValidation, "first bucket must start at 0 days past due")
			}
		} else {
			prev := p.Buckets[i-1]
			if prev.MaxDPD == OpenEnded || b.MinDPD != prev.MaxDPD+1 {
				return dErrors.New(dErrors.CodeValidation, at+"buckets must be contiguous")
			}
			if b.Rate.LessThan(prev.Rate) {
				return dErrors.New(dErrors.CodeValidation, at+"rates must not decrease")
			}
		}
		last := i == len(p.Buckets)-1
		switch {
		case last && b.MaxDPD != OpenEnded:
			return dErrors.New(dErrors.CodeValidation, "last bucket must be open-ended (max_dpd -1)")
		case !last && b.MaxDPD < b.MinDPD:
			return dErrors.New(dErrors.CodeValidation, at+"max_dpd must not be below min_dpd")
		}
	}
	return nil
}

// Classify returns the bucket holding dpd.
func (p Policy) Classify(dpd int) (Bucket, error) {
	if dpd < 0 {
		return Bucket{}, dErrors.New(dErrors.CodeValidation, "days past due cannot be negative")
	}
	for _, b := range p.Buckets {
		if b.Contains(dpd) {
			return b, nil
		}
	}
	return Bucket{}, dErrors.New(dErrors.CodeInvariantViolation, "no bucket covers "+strconv.Itoa(dpd)+" days past due")
}

// Bucket returns the bucket for class c.
func (p Policy) Bucket(c Class) (Bucket, bool) {
	for _, b := range p.Buckets {
		if b.Class == c {
			return b, true
		}
	}
	return Bucket{}, false
}

// RequiredProvision is round2(base * rate). The base is the outstanding
// principal, less collateral (floored at zero) when the policy deducts it.
func (p Policy) RequiredProvision(outstanding, collateral decimal.Decimal, b Bucket) decimal.Decimal {
	base := outstanding
	if p.DeductCollateral {
		base = money.Max(outstanding.Sub(collateral), decimal.Zero)
	}
	return money.Round2(base.Mul(b.Rate))
}

type policyFile struct {
	DeductCollateral bool `yaml:"deduct_collateral"`
	Buckets          []struct {
		Class  string `yaml:"class"`
		MinDPD int    `yaml:"min_dpd"`
		MaxDPD int    `yaml:"max_dpd"`
		Rate   string `yaml:"rate"`
		Stage  int    `yaml:"stage"`
	} `yaml:"buckets"`
}

// LoadPolicy decodes a YAML policy and validates it.
//
//	deduct_collateral: false
//	buckets:
//	  - {class: performing, min_dpd: 0, max_dpd: 30, rate: 0.01, stage: 1}
//	  - {class: lost, min_dpd: 31, max_dpd: -1, rate: 1, stage: 3}
func LoadPolicy(r io.Reader) (Policy, error) {
	var raw policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Policy{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid policy file")
	}
	p := Policy{DeductCollateral: raw.DeductCollateral}
	for i, b := range raw.Buckets {
		rate, err := decimal.NewFromString(b.Rate)
		if err != nil {
			return Policy{}, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("bucket %d: invalid rate %q", i+1, b.Rate))
		}
		p.Buckets = append(p.Buckets, Bucket{
			Class:  Class(b.Class),
			MinDPD: b.MinDPD,
			MaxDPD: b.MaxDPD,
			Rate:   rate,
			Stage:  Stage(b.Stage),
		})
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func LoadPolicyFile(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}
