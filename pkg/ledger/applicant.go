package ledger

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mcclellann/casafacil/pkg/simulation"
)

const (
	CodeRequired     simulation.Code = "REQUIRED"
	CodeInvalidField simulation.Code = "INVALID_FIELD"
)

// Applicant is the person signing a proposal, as submitted by the form.
type Applicant struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	TaxID   string `json:"taxId"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

// OnlyDigits strips every non-digit rune, e.g. "529.982.247-25" -> "52998224725".
func OnlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValidTaxID reports whether digits is a well-formed CPF: 11 digits, not all
// equal, with both mod-11 check digits correct.
func ValidTaxID(digits string) bool {
	if len(digits) != 11 || OnlyDigits(digits) != digits {
		return false
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return false
	}
	for _, n := range []int{9, 10} {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		check := sum * 10 % 11 % 10
		if check != int(digits[n]-'0') {
			return false
		}
	}
	return true
}

// normalize trims every field and strips punctuation from the tax ID, phone
// and zip code.
func (a Applicant) normalize() Applicant {
	return Applicant{
		Name:    strings.TrimSpace(a.Name),
		Email:   strings.ToLower(strings.TrimSpace(a.Email)),
		Phone:   OnlyDigits(a.Phone),
		TaxID:   OnlyDigits(a.TaxID),
		Address: strings.TrimSpace(a.Address),
		City:    strings.TrimSpace(a.City),
		State:   strings.ToUpper(strings.TrimSpace(a.State)),
		ZipCode: OnlyDigits(a.ZipCode),
	}
}

func (a Applicant) validate() []simulation.FieldError {
	var errs []simulation.FieldError
	add := func(field string, code simulation.Code, msg string) {
		errs = append(errs, simulation.FieldError{Field: "user." + field, Code: code, Message: msg})
	}
	minLen := func(field, value string, n int) {
		switch {
		case value == "":
			add(field, CodeRequired, field+" is required")
		case utf8.RuneCountInString(value) < n:
			add(field, CodeInvalidField, fmt.Sprintf("%s must have at least %d characters", field, n))
		}
	}

	minLen("name", a.Name, 2)
	if utf8.RuneCountInString(a.Name) >= 2 && !hasLetter(a.Name) {
		add("name", CodeInvalidField, "name must contain letters")
	}
	if a.Email == "" {
		add("email", CodeRequired, "email is required")
	} else if addr, err := mail.ParseAddress(a.Email); err != nil || addr.Address != a.Email {
		add("email", CodeInvalidField, "email is not a valid address")
	}
	if len(a.Phone) < 10 || len(a.Phone) > 13 {
		add("phone", CodeInvalidField, "phone must have between 10 and 13 digits")
	}
	if !ValidTaxID(a.TaxID) {
		add("taxId", CodeInvalidField, "tax ID must be a valid 11-digit CPF")
	}
	minLen("address", a.Address, 10)
	minLen("city", a.City, 2)
	minLen("state", a.State, 2)
	if len(a.ZipCode) != 8 {
		add("zipCode", CodeInvalidField, "zip code must have 8 digits")
	}
	return errs
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
