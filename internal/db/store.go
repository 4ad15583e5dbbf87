package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/freieslabor/prepaid-mate/internal/models"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNegativeBalance is returned when a balance update would break the
	// non-negative balance constraint.
	ErrNegativeBalance = errors.New("balance would become negative")

	// ErrBalanceOutOfRange is returned when a credit would overflow the
	// balance column.
	ErrBalanceOutOfRange = errors.New("balance out of range")
)

// UniqueViolation reports a unique constraint failure on Field ("name" or "code").
type UniqueViolation struct {
	Field string
	Err   error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint failed: %s", e.Field)
}

func (e *UniqueViolation) Unwrap() error {
	return e.Err
}

// Store runs ledger transactions. Update commits when fn returns nil and
// rolls back otherwise. View runs fn in a read-only transaction.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of ledger operations available inside a transaction.
// Lookups with lock=true hold the row until the transaction ends.
type Tx interface {
	AccountByID(ctx context.Context, id string, lock bool) (*models.Account, error)
	AccountByName(ctx context.Context, name string, lock bool) (*models.Account, error)
	AccountByCode(ctx context.Context, code string, lock bool) (*models.Account, error)
	InsertAccount(ctx context.Context, account *models.Account) error
	UpdateAccount(ctx context.Context, account *models.Account) error
	AddBalance(ctx context.Context, accountID string, delta int64) (int64, error)

	DrinkByCode(ctx context.Context, code string) (*models.Drink, error)
	InsertDrink(ctx context.Context, drink *models.Drink) error

	// LockCode serializes writers that claim code in the shared
	// account/drink code namespace.
	LockCode(ctx context.Context, code string) error

	AppendTopUp(ctx context.Context, entry *models.MoneyLogEntry) error
	AppendPurchase(ctx context.Context, entry *models.PayLogEntry) error
	History(ctx context.Context, accountID string) ([]models.HistoryEntry, error)
}
