// Package simulation implements the fixed-rate annuity (Price table) engine
// used to simulate property financing plans.
package simulation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	monthsPerYear = 12
	centPlaces    = 2
	growthPlaces  = 24

	// Amounts outside these bounds are rejected before any arithmetic.
	maxAmountDigits = 15
	maxAmountScale  = 20
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	cent    = decimal.New(1, -centPlaces)
)

// Rules holds the business limits and the interest rate applied by an Engine.
type Rules struct {
	MinPropertyValue    decimal.Decimal
	MaxPropertyValue    decimal.Decimal
	MinDownPaymentRatio decimal.Decimal
	MinTermYears        int
	MaxTermYears        int
	AnnualRate          decimal.Decimal // 0.12 means 12% a year
}

// DefaultRules returns the standard product: property values from 50,000 to
// one trillion, 20% minimum down payment, 5 to 35 years at 12% a year.
func DefaultRules() Rules {
	return Rules{
		MinPropertyValue:    decimal.NewFromInt(50000),
		MaxPropertyValue:    decimal.New(1, 12),
		MinDownPaymentRatio: decimal.RequireFromString("0.20"),
		MinTermYears:        5,
		MaxTermYears:        35,
		AnnualRate:          decimal.RequireFromString("0.12"),
	}
}

func (r Rules) check() error {
	var errs []error
	if r.MinPropertyValue.IsNegative() {
		errs = append(errs, errors.New("minimum property value must not be negative"))
	}
	if !r.MaxPropertyValue.GreaterThan(r.MinPropertyValue) || !bounded(r.MaxPropertyValue) {
		errs = append(errs, fmt.Errorf("maximum property value must be above the minimum and below 1e%d", maxAmountDigits))
	}
	if r.MinDownPaymentRatio.IsNegative() || r.MinDownPaymentRatio.GreaterThanOrEqual(one) {
		errs = append(errs, errors.New("minimum down payment ratio must be in [0, 1)"))
	}
	if r.MinTermYears < 1 || r.MaxTermYears < r.MinTermYears {
		errs = append(errs, fmt.Errorf("invalid term bounds [%d, %d]", r.MinTermYears, r.MaxTermYears))
	}
	if r.AnnualRate.IsNegative() {
		errs = append(errs, errors.New("annual rate must not be negative"))
	}
	return errors.Join(errs...)
}

// Input is a simulation request as received from a caller. The term is kept
// as a decimal so that fractional values can be reported as field errors.
type Input struct {
	PropertyValue decimal.Decimal `json:"propertyValue"`
	DownPayment   decimal.Decimal `json:"downPayment"`
	TermYears     decimal.Decimal `json:"termYears"`
}

// Validated is an Input that passed Validate. Its zero value is not valid and
// makes Simulate panic.
type Validated struct {
	propertyValue decimal.Decimal
	downPayment   decimal.Decimal
	termYears     int
}

func (v Validated) PropertyValue() decimal.Decimal { return v.propertyValue }
func (v Validated) DownPayment() decimal.Decimal   { return v.downPayment }
func (v Validated) TermYears() int                 { return v.termYears }

// Result is the full set of derived values for one simulation. Downstream
// consumers (proposal display, persistence, statistics) copy it verbatim.
type Result struct {
	PropertyValue         decimal.Decimal `json:"propertyValue"`
	DownPayment           decimal.Decimal `json:"downPayment"`
	FinancedAmount        decimal.Decimal `json:"financedAmount"`
	TermYears             int             `json:"termYears"`
	MonthlyPayment        decimal.Decimal `json:"monthlyPayment"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	TotalInterest         decimal.Decimal `json:"totalInterest"`
	DownPaymentPercentage string          `json:"downPaymentPercentage"`
}

// Engine validates and simulates financing plans under a fixed set of Rules.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	rules Rules
}

// NewEngine returns an Engine for rules, or an error if the rules are
// inconsistent.
func NewEngine(rules Rules) (*Engine, error) {
	if err := rules.check(); err != nil {
		return nil, fmt.Errorf("invalid simulation rules: %w", err)
	}
	return &Engine{rules: rules}, nil
}

// Rules returns the rules the engine was built with.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Validate checks every field of in and returns all violations together.
// When the returned slice is empty the Validated value is usable.
func (e *Engine) Validate(in Input) (Validated, []FieldError) {
	var errs []FieldError

	propertyOK := checkAmount(&errs, FieldPropertyValue, in.PropertyValue)
	downOK := checkAmount(&errs, FieldDownPayment, in.DownPayment)

	if propertyOK {
		switch {
		case in.PropertyValue.LessThan(e.rules.MinPropertyValue) || !in.PropertyValue.IsPositive():
			errs = append(errs, FieldError{
				Field:   FieldPropertyValue,
				Code:    CodePropertyValueTooLow,
				Message: fmt.Sprintf("property value must be at least %s", e.rules.MinPropertyValue.StringFixed(centPlaces)),
			})
		case in.PropertyValue.GreaterThan(e.rules.MaxPropertyValue):
			errs = append(errs, FieldError{
				Field:   FieldPropertyValue,
				Code:    CodePropertyValueTooHigh,
				Message: fmt.Sprintf("property value must be at most %s", e.rules.MaxPropertyValue.StringFixed(centPlaces)),
			})
		}
	}

	if propertyOK && downOK {
		minDown := in.PropertyValue.Mul(e.rules.MinDownPaymentRatio)
		switch {
		case !in.DownPayment.IsPositive() || in.DownPayment.LessThan(minDown):
			errs = append(errs, FieldError{
				Field: FieldDownPayment,
				Code:  CodeDownPaymentOutOfRange,
				Message: fmt.Sprintf("down payment must be at least %s%% of the property value (%s)",
					e.rules.MinDownPaymentRatio.Mul(hundred).StringFixed(1), minDown.StringFixed(centPlaces)),
			})
		case in.DownPayment.GreaterThanOrEqual(in.PropertyValue):
			errs = append(errs, FieldError{
				Field:   FieldDownPayment,
				Code:    CodeDownPaymentOutOfRange,
				Message: "down payment must be less than the property value",
			})
		}
	}

	minTerm := decimal.NewFromInt(int64(e.rules.MinTermYears))
	maxTerm := decimal.NewFromInt(int64(e.rules.MaxTermYears))
	switch {
	case !bounded(in.TermYears) || !in.TermYears.IsInteger():
		errs = append(errs, FieldError{
			Field:   FieldTermYears,
			Code:    CodeTermOutOfRange,
			Message: "term must be a whole number of years",
		})
	case in.TermYears.LessThan(minTerm) || in.TermYears.GreaterThan(maxTerm):
		errs = append(errs, FieldError{
			Field:   FieldTermYears,
			Code:    CodeTermOutOfRange,
			Message: fmt.Sprintf("term must be between %d and %d years", e.rules.MinTermYears, e.rules.MaxTermYears),
		})
	}

	if len(errs) > 0 {
		return Validated{}, errs
	}
	return Validated{
		propertyValue: in.PropertyValue,
		downPayment:   in.DownPayment,
		termYears:     int(in.TermYears.IntPart()),
	}, nil
}

// bounded reports whether d has at most maxAmountDigits integer digits and
// maxAmountScale fractional digits. It only inspects the representation.
func bounded(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp < -maxAmountScale || exp > maxAmountDigits {
		return false
	}
	return d.NumDigits()+exp <= maxAmountDigits
}

// checkAmount records an INVALID_AMOUNT error for values that are not a
// plausible currency amount: too many digits or fractions of a cent.
func checkAmount(errs *[]FieldError, field string, d decimal.Decimal) bool {
	msg := ""
	switch {
	case !bounded(d):
		msg = fmt.Sprintf("%s must have at most %d integer digits", field, maxAmountDigits)
	case !d.Equal(d.Truncate(centPlaces)):
		msg = fmt.Sprintf("%s must have at most %d decimal places", field, centPlaces)
	default:
		return true
	}
	*errs = append(*errs, FieldError{Field: field, Code: CodeInvalidAmount, Message: msg})
	return false
}

// Simulate computes the Price table plan for v. The monthly payment is
// rounded to the cent and every total is derived from that rounded
// installment, so totalAmount == monthlyPayment*months + downPayment holds
// exactly. At a zero rate the installment is financed/months unrounded and
// the total is rounded to the cent, which leaves no interest.
//
// Simulate panics if v did not come from Validate.
func (e *Engine) Simulate(v Validated) Result {
	financed := v.propertyValue.Sub(v.downPayment)
	if v.termYears <= 0 || !financed.IsPositive() || !v.propertyValue.IsPositive() {
		panic(fmt.Sprintf("simulation: unvalidated input (property=%s down=%s term=%d)",
			v.propertyValue, v.downPayment, v.termYears))
	}

	months := v.termYears * monthsPerYear
	payment := MonthlyPayment(financed, e.rules.AnnualRate, months)
	total := payment.Mul(decimal.NewFromInt(int64(months))).Add(v.downPayment)
	if e.rules.AnnualRate.IsZero() {
		total = total.Round(centPlaces)
	}

	return Result{
		PropertyValue:         v.propertyValue,
		DownPayment:           v.downPayment,
		FinancedAmount:        financed,
		TermYears:             v.termYears,
		MonthlyPayment:        payment,
		TotalAmount:           total,
		TotalInterest:         total.Sub(v.downPayment).Sub(financed),
		DownPaymentPercentage: v.downPayment.Div(v.propertyValue).Mul(hundred).StringFixed(1),
	}
}

// MonthlyPayment returns the constant installment that repays financed over
// months at annualRate, rounded to the cent. A zero rate degenerates to the
// unrounded financed/months. The result never sums to less than financed.
func MonthlyPayment(financed, annualRate decimal.Decimal, months int) decimal.Decimal {
	n := decimal.NewFromInt(int64(months))
	if annualRate.IsZero() {
		return financed.Div(n)
	}

	rate := annualRate.Div(decimal.NewFromInt(monthsPerYear))
	growth := one.Add(rate).Pow(n).Round(growthPlaces)
	payment := financed.Mul(rate).Mul(growth).DivRound(growth.Sub(one), centPlaces)

	// Rounding down can only undershoot the principal at near-zero rates.
	if payment.Mul(n).LessThan(financed) {
		payment = financed.Div(n).RoundCeil(centPlaces)
	}
	return payment
}

// Verify checks a result produced elsewhere (typically echoed back by a
// client) against the engine. It returns the engine's own result when every
// input is valid and every derived field agrees: amounts per installment to
// the cent, totals to a cent per installment, the percentage exactly.
func (e *Engine) Verify(r Result) (Result, []FieldError) {
	v, errs := e.Validate(Input{
		PropertyValue: r.PropertyValue,
		DownPayment:   r.DownPayment,
		TermYears:     decimal.NewFromInt(int64(r.TermYears)),
	})
	if len(errs) > 0 {
		return Result{}, errs
	}

	want := e.Simulate(v)
	totalTolerance := cent.Mul(decimal.NewFromInt(int64(want.TermYears * monthsPerYear)))

	checks := []struct {
		field     string
		got, want decimal.Decimal
		tolerance decimal.Decimal
	}{
		{FieldFinancedAmount, r.FinancedAmount, want.FinancedAmount, cent},
		{FieldMonthlyPayment, r.MonthlyPayment, want.MonthlyPayment, cent},
		{FieldTotalAmount, r.TotalAmount, want.TotalAmount, totalTolerance},
		{FieldTotalInterest, r.TotalInterest, want.TotalInterest, totalTolerance},
	}
	for _, c := range checks {
		switch {
		case !bounded(c.got):
			errs = append(errs, mismatch(c.field, "an out of range amount", c.want.StringFixed(centPlaces)))
		case c.got.Sub(c.want).Abs().GreaterThan(c.tolerance):
			errs = append(errs, mismatch(c.field, c.got.String(), c.want.StringFixed(centPlaces)))
		}
	}
	if r.DownPaymentPercentage != want.DownPaymentPercentage {
		errs = append(errs, mismatch(FieldDownPaymentPercentage, r.DownPaymentPercentage, want.DownPaymentPercentage))
	}

	if len(errs) > 0 {
		return Result{}, errs
	}
	return want, nil
}

func mismatch(field, got, want string) FieldError {
	return FieldError{
		Field:   field,
		Code:    CodeResultMismatch,
		Message: fmt.Sprintf("%s does not match the simulation (got %s, expected %s)", field, got, want),
	}
}
