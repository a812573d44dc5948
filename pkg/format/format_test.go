package format

import (
	"strings"
	"testing"
	"time"

	"github.com/mcclellann/casafacil/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBRL(t *testing.T) {
	cases := map[string]string{
		"0":          "R$ 0,00",
		"5":          "R$ 5,00",
		"1234.56":    "R$ 1.234,56",
		"3963.91":    "R$ 3.963,91",
		"1041338.4":  "R$ 1.041.338,40",
		"99.999":     "R$ 100,00",
		"-1234.5":    "-R$ 1.234,50",
		"450000.004": "R$ 450.000,00",
	}
	for in, want := range cases {
		assert.Equal(t, want, BRL(decimal.RequireFromString(in)), in)
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "12%", Percent(decimal.RequireFromString("0.12")))
	assert.Equal(t, "10,5%", Percent(decimal.RequireFromString("0.105")))
}

func TestMasks(t *testing.T) {
	assert.Equal(t, "529.982.247-25", TaxID("52998224725"))
	assert.Equal(t, "123", TaxID("123"))
	assert.Equal(t, "(11) 98765-4321", Phone("11987654321"))
	assert.Equal(t, "(11) 3456-7890", Phone("1134567890"))
	assert.Equal(t, "5511987654321", Phone("5511987654321"))
	assert.Equal(t, "01310-100", ZipCode("01310100"))
}

func TestSummary(t *testing.T) {
	created := time.Date(2024, 1, 21, 14, 30, 0, 0, time.UTC)
	p := &models.Proposal{
		Number:                "CF-20240121-0001",
		PropertyValue:         decimal.NewFromInt(450000),
		DownPayment:           decimal.NewFromInt(90000),
		FinancedAmount:        decimal.NewFromInt(360000),
		TermYears:             20,
		MonthlyPayment:        decimal.RequireFromString("3963.91"),
		TotalAmount:           decimal.RequireFromString("1041338.40"),
		TotalInterest:         decimal.RequireFromString("591338.40"),
		DownPaymentPercentage: "20.0",
		SignedAt:              created,
		CreatedAt:             created,
		User: &models.User{
			Name:    "Maria Souza",
			Email:   "maria@example.com",
			Phone:   "11987654321",
			TaxID:   "52998224725",
			Address: "Rua das Flores, 123",
			City:    "Sao Paulo",
			State:   "SP",
			ZipCode: "01310100",
		},
	}

	out := Summary(p, decimal.RequireFromString("0.12"), nil)

	for _, want := range []string{
		"Proposta Nº: CF-20240121-0001",
		"Data: 21/01/2024",
		"CPF: 529.982.247-25",
		"Cidade: Sao Paulo - SP",
		"Entrada (20,0%): R$ 90.000,00",
		"Prazo: 20 anos (240 parcelas)",
		"Taxa de Juros: 12% ao ano",
		"Parcela Mensal: R$ 3.963,91",
		"Valor Total: R$ 1.041.338,40",
		"Total de Juros: R$ 591.338,40",
		"3. Taxa de juros fixa de 12% ao ano.",
	} {
		assert.Contains(t, out, want)
	}

	p.User = nil
	assert.False(t, strings.Contains(Summary(p, decimal.RequireFromString("0.12"), nil), "DADOS DO CLIENTE"))
}
