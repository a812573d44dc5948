package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	TaxID     string    `json:"taxId"` // 11-digit CPF, digits only, unique
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	ZipCode   string    `json:"zipCode"` // digits only
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Proposal is the signed, append-only record of a simulation. The financial
// fields are copied from the simulation result and never recomputed.
type Proposal struct {
	ID                    uuid.UUID       `json:"id"`
	Number                string          `json:"number"` // CF-YYYYMMDD-NNNN
	PropertyValue         decimal.Decimal `json:"propertyValue"`
	DownPayment           decimal.Decimal `json:"downPayment"`
	FinancedAmount        decimal.Decimal `json:"financedAmount"`
	TermYears             int             `json:"termYears"`
	MonthlyPayment        decimal.Decimal `json:"monthlyPayment"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	TotalInterest         decimal.Decimal `json:"totalInterest"`
	DownPaymentPercentage string          `json:"downPaymentPercentage"`
	Signature             string          `json:"signature"` // opaque image payload (data URL)
	SignedAt              time.Time       `json:"signedAt"`
	UserID                uuid.UUID       `json:"userId"`
	CreatedAt             time.Time       `json:"createdAt"`
	User                  *User           `json:"user,omitempty"`
}

type Admin struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProposalAmounts holds the money columns of one proposal, as read for
// aggregate statistics.
type ProposalAmounts struct {
	PropertyValue  decimal.Decimal
	FinancedAmount decimal.Decimal
	MonthlyPayment decimal.Decimal
	TotalAmount    decimal.Decimal
}

// GeneralStats aggregates every stored proposal.
type GeneralStats struct {
	TotalUsers            int             `json:"totalUsers"`
	TotalProposals        int             `json:"totalProposals"`
	TotalPropertyValue    decimal.Decimal `json:"totalPropertyValue"`
	TotalFinancedAmount   decimal.Decimal `json:"totalFinancedAmount"`
	TotalAmountToPay      decimal.Decimal `json:"totalAmountToPay"`
	AverageMonthlyPayment decimal.Decimal `json:"averageMonthlyPayment"`
	AveragePropertyValue  decimal.Decimal `json:"averagePropertyValue"`
}

// UserStats aggregates the proposals of a single user.
type UserStats struct {
	User                  *User           `json:"user"`
	TotalProposals        int             `json:"totalProposals"`
	TotalFinanced         decimal.Decimal `json:"totalFinanced"`
	TotalProperty         decimal.Decimal `json:"totalProperty"`
	AverageMonthlyPayment decimal.Decimal `json:"averageMonthlyPayment"`
	LatestProposal        *Proposal       `json:"latestProposal"`
}
