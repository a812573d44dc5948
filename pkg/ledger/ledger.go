// Package ledger records signed proposals and answers queries about them.
// Proposals are append-only: once written they are never modified.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/casafacil/pkg/cache"
	"github.com/mcclellann/casafacil/pkg/models"
	"github.com/mcclellann/casafacil/pkg/simulation"
	"github.com/mcclellann/casafacil/pkg/store"
	"go.uber.org/zap"
)

const (
	defaultPage     = 1
	defaultLimit    = 10
	maxLimit        = 100
	numberAttempts  = 3
	maxSequence     = 9999
	defaultStatsTTL = 5 * time.Minute
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrDuplicateNumber  = store.ErrDuplicateNumber
	ErrNumbersExhausted = errors.New("no proposal numbers left for today")
)

// ValidationError carries every field-level problem found in a request.
type ValidationError struct {
	Errors []simulation.FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ProposalDraft is a simulation result together with the signature data the
// applicant attached to it.
type ProposalDraft struct {
	simulation.Result
	Number    string    `json:"number"` // optional; assigned when empty
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signedAt"`
}

// Submission is the payload of a signed proposal.
type Submission struct {
	Proposal ProposalDraft `json:"proposal"`
	User     Applicant     `json:"user"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type ProposalPage struct {
	Data       []*models.Proposal `json:"data"`
	Pagination Pagination         `json:"pagination"`
}

// Ledger handles the business logic for simulations and proposals.
type Ledger struct {
	storage  store.Storage
	engine   *simulation.Engine
	cache    cache.Cache
	statsTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a Ledger over storage. A nil cache falls back to an
// in-memory one; a non-positive statsTTL uses the default of five minutes.
func NewLedger(s store.Storage, engine *simulation.Engine, c cache.Cache, statsTTL time.Duration, logger *zap.Logger) *Ledger {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if statsTTL <= 0 {
		statsTTL = defaultStatsTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		storage:  s,
		engine:   engine,
		cache:    c,
		statsTTL: statsTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Rules returns the financing rules the ledger simulates with.
func (l *Ledger) Rules() simulation.Rules {
	return l.engine.Rules()
}

// Simulate validates in and runs the engine on it.
func (l *Ledger) Simulate(in simulation.Input) (simulation.Result, error) {
	v, errs := l.engine.Validate(in)
	if len(errs) > 0 {
		return simulation.Result{}, &ValidationError{Errors: errs}
	}
	result := l.engine.Simulate(v)
	l.logger.Debug("simulation computed",
		zap.String("op", "ledger.Simulate"),
		zap.String("propertyValue", result.PropertyValue.String()),
		zap.String("financedAmount", result.FinancedAmount.String()),
		zap.Int("termYears", result.TermYears),
		zap.String("monthlyPayment", result.MonthlyPayment.String()),
	)
	return result, nil
}

// NextProposalNumber returns the next free number for today: one past the
// highest taken sequence, or the lowest gap once the highest is 9999.
func (l *Ledger) NextProposalNumber(ctx context.Context) (string, error) {
	now := l.now()
	prefix := simulation.ProposalNumberDayPrefix(now) + "-"

	latest, err := l.storage.LatestProposalNumber(ctx, prefix)
	if err != nil {
		return "", err
	}

	seq := 1
	if latest != "" {
		last, err := sequence(prefix, latest)
		if err != nil {
			return "", err
		}
		seq = last + 1
	}
	if seq > maxSequence {
		if seq, err = l.lowestFreeSequence(ctx, prefix); err != nil {
			return "", err
		}
	}
	return simulation.BuildProposalNumber(now, seq), nil
}

// lowestFreeSequence scans the numbers taken for the day. Client-chosen
// numbers can leave gaps below the highest sequence.
func (l *Ledger) lowestFreeSequence(ctx context.Context, prefix string) (int, error) {
	numbers, err := l.storage.ProposalNumbers(ctx, prefix)
	if err != nil {
		return 0, err
	}
	want := 1
	for _, n := range numbers {
		seq, err := sequence(prefix, n)
		if err != nil {
			return 0, err
		}
		if seq > want {
			break
		}
		if seq == want {
			want++
		}
	}
	if want > maxSequence {
		return 0, ErrNumbersExhausted
	}
	l.logger.Warn("highest proposal number taken, filling a gap",
		zap.String("op", "ledger.NextProposalNumber"),
		zap.String("prefix", prefix),
		zap.Int("sequence", want),
	)
	return want, nil
}

func sequence(prefix, number string) (int, error) {
	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil {
		return 0, fmt.Errorf("malformed stored proposal number %q: %w", number, err)
	}
	return seq, nil
}

// SubmitProposal validates a signed proposal, verifies its simulation against
// the engine, and stores it together with an upsert of the applicant. The
// stored financial fields are the engine's values for the submitted inputs.
func (l *Ledger) SubmitProposal(ctx context.Context, sub Submission) (*models.Proposal, error) {
	applicant := sub.User.normalize()
	draft := sub.Proposal

	errs := applicant.validate()
	if strings.TrimSpace(draft.Signature) == "" {
		errs = append(errs, simulation.FieldError{Field: "proposal.signature", Code: CodeRequired, Message: "signature is required"})
	}
	if draft.SignedAt.IsZero() {
		errs = append(errs, simulation.FieldError{Field: "proposal.signedAt", Code: CodeRequired, Message: "signedAt is required"})
	}
	if draft.Number != "" && !simulation.ValidProposalNumber(draft.Number) {
		errs = append(errs, simulation.FieldError{Field: "proposal.number", Code: CodeInvalidField, Message: "number must look like CF-YYYYMMDD-NNNN"})
	}
	result, simErrs := l.engine.Verify(draft.Result)
	for _, fe := range simErrs {
		fe.Field = "proposal." + fe.Field
		errs = append(errs, fe)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	now := l.now()
	user := &models.User{
		ID:        uuid.New(),
		TaxID:     applicant.TaxID,
		Name:      applicant.Name,
		Email:     applicant.Email,
		Phone:     applicant.Phone,
		Address:   applicant.Address,
		City:      applicant.City,
		State:     applicant.State,
		ZipCode:   applicant.ZipCode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	proposal := &models.Proposal{
		ID:                    uuid.New(),
		Number:                draft.Number,
		PropertyValue:         result.PropertyValue,
		DownPayment:           result.DownPayment,
		FinancedAmount:        result.FinancedAmount,
		TermYears:             result.TermYears,
		MonthlyPayment:        result.MonthlyPayment,
		TotalAmount:           result.TotalAmount,
		TotalInterest:         result.TotalInterest,
		DownPaymentPercentage: result.DownPaymentPercentage,
		Signature:             draft.Signature,
		SignedAt:              draft.SignedAt.UTC(),
		CreatedAt:             now,
	}

	if err := l.create(ctx, user, proposal, draft.Number == ""); err != nil {
		return nil, err
	}

	if err := l.cache.Delete(ctx, generalStatsKey); err != nil {
		l.logger.Warn("failed to invalidate stats cache",
			zap.String("op", "ledger.SubmitProposal"),
			zap.Error(err),
		)
	}

	l.logger.Info("proposal created",
		zap.String("op", "ledger.SubmitProposal"),
		zap.String("number", proposal.Number),
		zap.String("userId", user.ID.String()),
	)
	return proposal, nil
}

// create stores the proposal. Server-assigned numbers are retried when a
// concurrent submission took the same number first.
func (l *Ledger) create(ctx context.Context, user *models.User, proposal *models.Proposal, assignNumber bool) error {
	attempts := 1
	if assignNumber {
		attempts = numberAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		if assignNumber {
			if proposal.Number, err = l.NextProposalNumber(ctx); err != nil {
				return fmt.Errorf("failed to assign proposal number: %w", err)
			}
		}
		err = l.storage.CreateProposalWithUser(ctx, user, proposal)
		if !errors.Is(err, store.ErrDuplicateNumber) {
			break
		}
		l.logger.Warn("proposal number already taken",
			zap.String("op", "ledger.SubmitProposal"),
			zap.String("number", proposal.Number),
			zap.Int("attempt", i+1),
		)
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicateNumber) {
			return err
		}
		return fmt.Errorf("failed to store proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal by its number.
func (l *Ledger) GetProposal(ctx context.Context, number string) (*models.Proposal, error) {
	return l.storage.GetProposalByNumber(ctx, number)
}

// ListProposals returns one page of proposals, newest first. Out-of-range
// page and limit values fall back to the defaults.
func (l *Ledger) ListProposals(ctx context.Context, page, limit int) (*ProposalPage, error) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	total, err := l.storage.CountProposals(ctx)
	if err != nil {
		return nil, err
	}
	proposals, err := l.storage.ListProposals(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}

	return &ProposalPage{
		Data: proposals,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// ListProposalsByTaxID returns every proposal of the user with taxID,
// formatted or not.
func (l *Ledger) ListProposalsByTaxID(ctx context.Context, taxID string) ([]*models.Proposal, error) {
	return l.storage.ListProposalsByTaxID(ctx, OnlyDigits(taxID))
}

// ListUsers returns every applicant that ever submitted a proposal.
func (l *Ledger) ListUsers(ctx context.Context) ([]*models.User, error) {
	return l.storage.ListUsers(ctx)
}
