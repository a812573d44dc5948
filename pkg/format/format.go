// Package format renders proposals for people: Brazilian currency, masked
// documents and the plain-text proposal summary.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcclellann/casafacil/pkg/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer = message.NewPrinter(language.BrazilianPortuguese)
	hundred = decimal.NewFromInt(100)
)

// BRL renders d in reais with pt-BR grouping, e.g. "R$ 1.234,56".
func BRL(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Mul(hundred).IntPart()
	return printer.Sprintf("%sR$ %d,%02d", sign, whole.IntPart(), cents)
}

// Percent renders a ratio such as 0.12 as "12%", with a decimal comma.
func Percent(ratio decimal.Decimal) string {
	return strings.Replace(ratio.Mul(hundred).String(), ".", ",", 1) + "%"
}

// TaxID masks an 11-digit CPF as 000.000.000-00. Other inputs are returned
// unchanged.
func TaxID(digits string) string {
	if len(digits) != 11 {
		return digits
	}
	return digits[:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:]
}

// Phone masks 10 or 11 digit numbers as (00) 0000-0000 or (00) 00000-0000.
func Phone(digits string) string {
	switch len(digits) {
	case 10:
		return "(" + digits[:2] + ") " + digits[2:6] + "-" + digits[6:]
	case 11:
		return "(" + digits[:2] + ") " + digits[2:7] + "-" + digits[7:]
	}
	return digits
}

// ZipCode masks an 8-digit CEP as 00000-000.
func ZipCode(digits string) string {
	if len(digits) != 8 {
		return digits
	}
	return digits[:5] + "-" + digits[5:]
}

var terms = []string{
	"Esta proposta é válida por 30 dias.",
	"Aprovação sujeita à análise de crédito.",
	"Taxa de juros fixa de %s ao ano.",
	"Sistema de amortização: Tabela Price.",
	"Seguro obrigatório do imóvel e MIP.",
}

// Summary renders the proposal document body: applicant data, financing
// data and terms. The applicant section is omitted when p.User is nil.
func Summary(p *models.Proposal, annualRate decimal.Decimal, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	rate := Percent(annualRate)

	var b strings.Builder
	fmt.Fprintln(&b, "PROPOSTA DE FINANCIAMENTO IMOBILIÁRIO")
	fmt.Fprintf(&b, "Proposta Nº: %s\n", p.Number)
	fmt.Fprintf(&b, "Data: %s\n", p.CreatedAt.In(loc).Format("02/01/2006"))

	if u := p.User; u != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "DADOS DO CLIENTE")
		fmt.Fprintf(&b, "Nome: %s\n", u.Name)
		fmt.Fprintf(&b, "Email: %s\n", u.Email)
		fmt.Fprintf(&b, "Telefone: %s\n", Phone(u.Phone))
		fmt.Fprintf(&b, "CPF: %s\n", TaxID(u.TaxID))
		fmt.Fprintf(&b, "Endereço: %s\n", u.Address)
		fmt.Fprintf(&b, "Cidade: %s - %s\n", u.City, u.State)
		fmt.Fprintf(&b, "CEP: %s\n", ZipCode(u.ZipCode))
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "DADOS DO FINANCIAMENTO")
	fmt.Fprintf(&b, "Valor do Imóvel: %s\n", BRL(p.PropertyValue))
	fmt.Fprintf(&b, "Entrada (%s%%): %s\n", strings.Replace(p.DownPaymentPercentage, ".", ",", 1), BRL(p.DownPayment))
	fmt.Fprintf(&b, "Valor Financiado: %s\n", BRL(p.FinancedAmount))
	fmt.Fprintf(&b, "Prazo: %d anos (%d parcelas)\n", p.TermYears, p.TermYears*12)
	fmt.Fprintf(&b, "Taxa de Juros: %s ao ano\n", rate)
	fmt.Fprintf(&b, "Parcela Mensal: %s\n", BRL(p.MonthlyPayment))
	fmt.Fprintf(&b, "Valor Total: %s\n", BRL(p.TotalAmount))
	fmt.Fprintf(&b, "Total de Juros: %s\n", BRL(p.TotalInterest))

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "TERMOS E CONDIÇÕES")
	for i, t := range terms {
		if strings.Contains(t, "%s") {
			t = fmt.Sprintf(t, rate)
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}

	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Assinado digitalmente em %s\n", p.SignedAt.In(loc).Format("02/01/2006 15:04:05"))
	return b.String()
}
