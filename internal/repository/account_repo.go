package repository

import (
	"context"
	"errors"

	"github.com/risk-governor/internal/models"
	"github.com/risk-governor/internal/risk"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrVersionConflict means the account row changed since it was read.
	ErrVersionConflict = errors.New("account version conflict")
)

// LedgerCommit is one atomic state transition of an account: the new ledger
// value, guarded by the version it was derived from, plus the trade row it
// creates or updates. A nil Ledger writes only the trade.
type LedgerCommit struct {
	Ledger      *risk.Ledger
	PrevVersion int64
	Create      *models.Trade
	Update      *models.Trade
}

// Empty reports whether the commit writes nothing
func (c LedgerCommit) Empty() bool {
	return c.Ledger == nil && c.Create == nil && c.Update == nil
}

// AccountRepository handles account data access
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Error
	}
	return &account, nil
}

// LoadLedger reads the ledger of an account
func (r *AccountRepository) LoadLedger(ctx context.Context, id uint) (risk.Ledger, error) {
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return risk.Ledger{}, err
	}
	return account.Ledger(), nil
}

// ListIDs returns the IDs of all accounts
func (r *AccountRepository) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Account{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// CommitLedger applies a LedgerCommit in a single transaction. The account
// row is only written if its version still equals PrevVersion.
func (r *AccountRepository) CommitLedger(ctx context.Context, c LedgerCommit) error {
	if c.Empty() {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Ledger != nil {
			result := tx.Model(&models.Account{}).
				Where("id = ? AND version = ?", c.Ledger.AccountID, c.PrevVersion).
				Updates(models.LedgerColumns(*c.Ledger))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrVersionConflict
			}
		}
		if c.Create != nil {
			if err := tx.Create(c.Create).Error; err != nil {
				return err
			}
		}
		if c.Update != nil {
			if err := tx.Save(c.Update).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
