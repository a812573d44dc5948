package simulation

import "fmt"

// Code identifies the kind of validation failure for a field.
type Code string

const (
	CodePropertyValueTooLow   Code = "PROPERTY_VALUE_TOO_LOW"
	CodePropertyValueTooHigh  Code = "PROPERTY_VALUE_TOO_HIGH"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeDownPaymentOutOfRange Code = "DOWN_PAYMENT_OUT_OF_RANGE"
	CodeTermOutOfRange        Code = "TERM_OUT_OF_RANGE"
	CodeResultMismatch        Code = "RESULT_MISMATCH"
)

// Field names as they appear in the JSON payloads.
const (
	FieldPropertyValue         = "propertyValue"
	FieldDownPayment           = "downPayment"
	FieldTermYears             = "termYears"
	FieldFinancedAmount        = "financedAmount"
	FieldMonthlyPayment        = "monthlyPayment"
	FieldTotalAmount           = "totalAmount"
	FieldTotalInterest         = "totalInterest"
	FieldDownPaymentPercentage = "downPaymentPercentage"
)

// FieldError is a single field-scoped validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
