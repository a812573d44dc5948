package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/casafacil/pkg/cache"
	"github.com/mcclellann/casafacil/pkg/models"
	"github.com/mcclellann/casafacil/pkg/simulation"
	"github.com/mcclellann/casafacil/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
type MockStore struct {
	mu          sync.Mutex
	users       map[string]*models.User // by tax ID
	proposals   []*models.Proposal
	admins      map[string]*models.Admin
	failCreate  int // number of upcoming creates that report a duplicate number
	amountReads int
}

func NewMockStore() *MockStore {
	return &MockStore{
		users:  make(map[string]*models.User),
		admins: make(map[string]*models.Admin),
	}
}

func (m *MockStore) CreateProposalWithUser(_ context.Context, user *models.User, proposal *models.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate > 0 {
		m.failCreate--
		return store.ErrDuplicateNumber
	}
	for _, p := range m.proposals {
		if p.Number == proposal.Number {
			return store.ErrDuplicateNumber
		}
	}
	if existing, ok := m.users[user.TaxID]; ok {
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
	}
	u := *user
	m.users[user.TaxID] = &u
	proposal.UserID = user.ID
	proposal.User = user
	m.proposals = append(m.proposals, proposal)
	return nil
}

func (m *MockStore) GetProposal(_ context.Context, id uuid.UUID) (*models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proposals {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetProposalByNumber(_ context.Context, number string) (*models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proposals {
		if p.Number == number {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) sorted(filter func(*models.Proposal) bool) []*models.Proposal {
	out := []*models.Proposal{}
	for _, p := range m.proposals {
		if filter(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out
}

func (m *MockStore) ListProposals(_ context.Context, offset, limit int) ([]*models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(*models.Proposal) bool { return true })
	if offset >= len(all) {
		return []*models.Proposal{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MockStore) ListProposalsByTaxID(_ context.Context, taxID string) ([]*models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[taxID]
	if !ok {
		return []*models.Proposal{}, nil
	}
	return m.sorted(func(p *models.Proposal) bool { return p.UserID == u.ID }), nil
}

func (m *MockStore) CountProposals(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proposals), nil
}

func (m *MockStore) LatestProposalNumber(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := ""
	for _, p := range m.proposals {
		if strings.HasPrefix(p.Number, prefix) && p.Number > latest {
			latest = p.Number
		}
	}
	return latest, nil
}

func (m *MockStore) ProposalNumbers(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	numbers := []string{}
	for _, p := range m.proposals {
		if strings.HasPrefix(p.Number, prefix) {
			numbers = append(numbers, p.Number)
		}
	}
	sort.Strings(numbers)
	return numbers, nil
}

func (m *MockStore) ProposalAmounts(_ context.Context) ([]models.ProposalAmounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amountReads++
	amounts := make([]models.ProposalAmounts, 0, len(m.proposals))
	for _, p := range m.proposals {
		amounts = append(amounts, models.ProposalAmounts{
			PropertyValue:  p.PropertyValue,
			FinancedAmount: p.FinancedAmount,
			MonthlyPayment: p.MonthlyPayment,
			TotalAmount:    p.TotalAmount,
		})
	}
	return amounts, nil
}

func (m *MockStore) GetUserByTaxID(_ context.Context, taxID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[taxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *MockStore) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := []*models.User{}
	for _, u := range m.users {
		users = append(users, u)
	}
	return users, nil
}

func (m *MockStore) CountUsers(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *MockStore) CreateAdmin(_ context.Context, admin *models.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[admin.Email]; ok {
		return store.ErrDuplicateEmail
	}
	m.admins[admin.Email] = admin
	return nil
}

func (m *MockStore) GetAdminByEmail(_ context.Context, email string) (*models.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (m *MockStore) UpdateAdminPassword(_ context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.ID == id {
			a.PasswordHash = hash
			a.UpdatedAt = updatedAt
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MockStore) Close() error {
	return nil
}

var fixedNow = time.Date(2024, 1, 21, 14, 30, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *MockStore) {
	t.Helper()
	engine, err := simulation.NewEngine(simulation.DefaultRules())
	require.NoError(t, err)

	s := NewMockStore()
	l := NewLedger(s, engine, cache.NewMemoryCache(), time.Hour, nil)
	l.now = func() time.Time { return fixedNow }
	return l, s
}

func simulate(t *testing.T, l *Ledger, property, down string, term int64) simulation.Result {
	t.Helper()
	r, err := l.Simulate(simulation.Input{
		PropertyValue: decimal.RequireFromString(property),
		DownPayment:   decimal.RequireFromString(down),
		TermYears:     decimal.NewFromInt(term),
	})
	require.NoError(t, err)
	return r
}

func validSubmission(result simulation.Result) Submission {
	return Submission{
		Proposal: ProposalDraft{
			Result:    result,
			Signature: "data:image/png;base64,iVBORw0KGgo=",
			SignedAt:  fixedNow.Add(-time.Minute),
		},
		User: Applicant{
			Name:    "Maria Souza",
			Email:   "Maria@Example.com",
			Phone:   "(11) 98765-4321",
			TaxID:   "529.982.247-25",
			Address: "Rua das Flores, 123",
			City:    "Sao Paulo",
			State:   "sp",
			ZipCode: "01310-100",
		},
	}
}

func TestSimulate_ReturnsValidationError(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Simulate(simulation.Input{
		PropertyValue: decimal.NewFromInt(40000),
		DownPayment:   decimal.NewFromInt(40000),
		TermYears:     decimal.NewFromInt(3),
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	assert.Len(t, verr.Errors, 3)
}

func TestNextProposalNumber(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	n, err := l.NextProposalNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CF-20240121-0001", n)

	s.proposals = append(s.proposals,
		&models.Proposal{Number: "CF-20240121-0007"},
		&models.Proposal{Number: "CF-20240120-0042"},
	)
	n, err = l.NextProposalNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CF-20240121-0008", n)

	s.proposals = append(s.proposals, &models.Proposal{Number: "CF-20240121-9999"})
	n, err = l.NextProposalNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CF-20240121-0001", n)
}

func TestNextProposalNumber_Exhausted(t *testing.T) {
	l, s := newTestLedger(t)

	for seq := 1; seq <= maxSequence; seq++ {
		s.proposals = append(s.proposals, &models.Proposal{Number: simulation.BuildProposalNumber(fixedNow, seq)})
	}
	_, err := l.NextProposalNumber(context.Background())
	assert.ErrorIs(t, err, ErrNumbersExhausted)
}

func TestSubmitProposal_ClientNumberAtEndOfDay(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	result := simulate(t, l, "450000", "90000", 20)

	sub := validSubmission(result)
	sub.Proposal.Number = "CF-20240121-9999"
	_, err := l.SubmitProposal(ctx, sub)
	require.NoError(t, err)

	// Server numbering keeps working after a client took the last sequence.
	for _, want := range []string{"CF-20240121-0001", "CF-20240121-0002"} {
		p, err := l.SubmitProposal(ctx, validSubmission(result))
		require.NoError(t, err)
		assert.Equal(t, want, p.Number)
	}

	s.proposals = append(s.proposals, &models.Proposal{Number: "CF-20240121-0004"})
	p, err := l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)
	assert.Equal(t, "CF-20240121-0003", p.Number)

	p, err = l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)
	assert.Equal(t, "CF-20240121-0005", p.Number)
}

func TestSubmitProposal(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	result := simulate(t, l, "450000", "90000", 20)

	p, err := l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)

	assert.Equal(t, "CF-20240121-0001", p.Number)
	assert.True(t, p.MonthlyPayment.Equal(result.MonthlyPayment))
	assert.True(t, p.TotalAmount.Equal(result.TotalAmount))
	assert.True(t, p.TotalInterest.Equal(result.TotalInterest))
	assert.Equal(t, "20.0", p.DownPaymentPercentage)
	assert.Equal(t, fixedNow, p.CreatedAt)

	require.Contains(t, s.users, "52998224725")
	u := s.users["52998224725"]
	assert.Equal(t, "maria@example.com", u.Email)
	assert.Equal(t, "11987654321", u.Phone)
	assert.Equal(t, "01310100", u.ZipCode)
	assert.Equal(t, "SP", u.State)
	assert.Equal(t, u.ID, p.UserID)
}

func TestSubmitProposal_StoresEngineValues(t *testing.T) {
	l, _ := newTestLedger(t)
	result := simulate(t, l, "450000", "90000", 20)

	// A browser computing in float64 echoes unrounded values.
	sub := validSubmission(result)
	sub.Proposal.MonthlyPayment = decimal.RequireFromString("3963.9100808505955")
	sub.Proposal.TotalAmount = decimal.RequireFromString("1041338.4194041429")
	sub.Proposal.TotalInterest = decimal.RequireFromString("591338.4194041429")

	p, err := l.SubmitProposal(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "3963.91", p.MonthlyPayment.String())
	assert.True(t, p.TotalAmount.Equal(p.MonthlyPayment.Mul(decimal.NewFromInt(240)).Add(p.DownPayment)))
}

func TestSubmitProposal_ValidationErrors(t *testing.T) {
	l, s := newTestLedger(t)
	result := simulate(t, l, "450000", "90000", 20)

	sub := validSubmission(result)
	sub.User.TaxID = "111.111.111-11"
	sub.User.Email = "not-an-email"
	sub.User.Address = "short"
	sub.Proposal.Signature = ""
	sub.Proposal.Number = "CF-2024-1"
	sub.Proposal.MonthlyPayment = decimal.NewFromInt(1)

	_, err := l.SubmitProposal(context.Background(), sub)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)

	fields := map[string]simulation.Code{}
	for _, fe := range verr.Errors {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, CodeInvalidField, fields["user.taxId"])
	assert.Equal(t, CodeInvalidField, fields["user.email"])
	assert.Equal(t, CodeInvalidField, fields["user.address"])
	assert.Equal(t, CodeRequired, fields["proposal.signature"])
	assert.Equal(t, CodeInvalidField, fields["proposal.number"])
	assert.Equal(t, simulation.CodeResultMismatch, fields["proposal.monthlyPayment"])
	assert.Empty(t, s.proposals)
}

func TestSubmitProposal_DuplicateClientNumber(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	result := simulate(t, l, "450000", "90000", 20)

	sub := validSubmission(result)
	sub.Proposal.Number = "CF-20240121-0042"
	_, err := l.SubmitProposal(ctx, sub)
	require.NoError(t, err)

	_, err = l.SubmitProposal(ctx, sub)
	assert.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestSubmitProposal_RetriesAssignedNumber(t *testing.T) {
	l, s := newTestLedger(t)
	result := simulate(t, l, "450000", "90000", 20)

	s.failCreate = 2
	p, err := l.SubmitProposal(context.Background(), validSubmission(result))
	require.NoError(t, err)
	assert.Equal(t, "CF-20240121-0001", p.Number)

	s.failCreate = numberAttempts
	_, err = l.SubmitProposal(context.Background(), validSubmission(result))
	assert.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestListProposals(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	result := simulate(t, l, "450000", "90000", 20)

	for i := 0; i < 3; i++ {
		_, err := l.SubmitProposal(ctx, validSubmission(result))
		require.NoError(t, err)
	}

	page, err := l.ListProposals(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 3, TotalPages: 1}, page.Pagination)
	require.Len(t, page.Data, 3)
	assert.Equal(t, "CF-20240121-0003", page.Data[0].Number)

	page, err = l.ListProposals(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "CF-20240121-0001", page.Data[0].Number)

	page, err = l.ListProposals(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxLimit, page.Pagination.Limit)

	byUser, err := l.ListProposalsByTaxID(ctx, "529.982.247-25")
	require.NoError(t, err)
	assert.Len(t, byUser, 3)
}

func TestGeneralStats(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	empty, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalProposals)
	assert.True(t, empty.AverageMonthlyPayment.IsZero())

	a := simulate(t, l, "450000", "90000", 20)
	b := simulate(t, l, "200000", "50000", 30)
	_, err = l.SubmitProposal(ctx, validSubmission(a))
	require.NoError(t, err)

	other := validSubmission(b)
	other.User.TaxID = "123.456.789-09"
	_, err = l.SubmitProposal(ctx, other)
	require.NoError(t, err)

	stats, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 2, stats.TotalProposals)
	assert.Equal(t, "650000", stats.TotalPropertyValue.String())
	assert.Equal(t, "510000", stats.TotalFinancedAmount.String())
	assert.True(t, stats.TotalAmountToPay.Equal(a.TotalAmount.Add(b.TotalAmount)))
	assert.True(t, stats.AverageMonthlyPayment.Equal(a.MonthlyPayment.Add(b.MonthlyPayment).DivRound(decimal.NewFromInt(2), 2)))
	assert.Equal(t, "325000", stats.AveragePropertyValue.String())
}

func TestGeneralStats_CachedUntilNextSubmission(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	result := simulate(t, l, "450000", "90000", 20)

	_, err := l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)

	first, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalProposals)
	assert.Equal(t, 1, s.amountReads)

	cached, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalProposals)
	assert.True(t, cached.TotalAmountToPay.Equal(first.TotalAmountToPay))
	assert.Equal(t, 1, s.amountReads)

	_, err = l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)
	fresh, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalProposals)
	assert.Equal(t, 2, s.amountReads)
}

func TestGeneralStats_StaleWriteIsNotServed(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	result := simulate(t, l, "450000", "90000", 20)

	_, err := l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)

	// A computation that read the store before the next insert stores its
	// result after the insert already cleared the key.
	stale, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	_, err = l.SubmitProposal(ctx, validSubmission(result))
	require.NoError(t, err)
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, l.cache.Set(ctx, generalStatsKey, string(data), time.Hour))

	stats, err := l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProposals)
	assert.True(t, stats.TotalPropertyValue.Equal(decimal.NewFromInt(900000)))

	// Writes that bypass the ledger are picked up as well.
	s.proposals = append(s.proposals, &models.Proposal{Number: "CF-20240101-0001", PropertyValue: decimal.NewFromInt(1)})
	stats, err = l.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProposals)
	assert.True(t, stats.TotalPropertyValue.Equal(decimal.NewFromInt(900001)))
}

func TestUserStats(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.UserStats(ctx, "52998224725")
	assert.ErrorIs(t, err, ErrNotFound)

	a := simulate(t, l, "450000", "90000", 20)
	b := simulate(t, l, "300000", "100000", 10)
	_, err = l.SubmitProposal(ctx, validSubmission(a))
	require.NoError(t, err)
	l.now = func() time.Time { return fixedNow.Add(time.Hour) }
	latest, err := l.SubmitProposal(ctx, validSubmission(b))
	require.NoError(t, err)

	stats, err := l.UserStats(ctx, "529.982.247-25")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProposals)
	assert.Equal(t, "560000", stats.TotalFinanced.String())
	assert.Equal(t, "750000", stats.TotalProperty.String())
	require.NotNil(t, stats.LatestProposal)
	assert.Equal(t, latest.Number, stats.LatestProposal.Number)
}

func TestValidTaxID(t *testing.T) {
	assert.True(t, ValidTaxID("52998224725"))
	assert.True(t, ValidTaxID("12345678909"))
	assert.True(t, ValidTaxID("11144477735"))

	assert.False(t, ValidTaxID("52998224724"))
	assert.False(t, ValidTaxID("11111111111"))
	assert.False(t, ValidTaxID("5299822472"))
	assert.False(t, ValidTaxID("529.982.247-25"))
	assert.Equal(t, "52998224725", OnlyDigits("529.982.247-25"))
}
