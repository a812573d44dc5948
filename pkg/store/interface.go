package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/casafacil/pkg/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateNumber = errors.New("proposal number already exists")
	ErrDuplicateEmail  = errors.New("admin email already exists")
)

// Storage defines the interface for database operations related to users,
// proposals and admin accounts. Proposals are append-only: there is no
// update or delete.
type Storage interface {
	// CreateProposalWithUser upserts user by tax ID and inserts proposal for
	// it in a single transaction. On return user.ID and proposal.UserID are set.
	CreateProposalWithUser(ctx context.Context, user *models.User, proposal *models.Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error)
	GetProposalByNumber(ctx context.Context, number string) (*models.Proposal, error)
	// ListProposals returns proposals newest first. A limit <= 0 returns all.
	ListProposals(ctx context.Context, offset, limit int) ([]*models.Proposal, error)
	ListProposalsByTaxID(ctx context.Context, taxID string) ([]*models.Proposal, error)
	CountProposals(ctx context.Context) (int, error)
	// ProposalAmounts returns the money columns of every proposal.
	ProposalAmounts(ctx context.Context) ([]models.ProposalAmounts, error)
	// LatestProposalNumber returns the highest number starting with prefix,
	// or "" when there is none.
	LatestProposalNumber(ctx context.Context, prefix string) (string, error)
	// ProposalNumbers returns every number starting with prefix in
	// ascending order.
	ProposalNumbers(ctx context.Context, prefix string) ([]string, error)

	GetUserByTaxID(ctx context.Context, taxID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	CountUsers(ctx context.Context) (int, error)

	CreateAdmin(ctx context.Context, admin *models.Admin) error
	GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	UpdateAdminPassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error

	Close() error
}
