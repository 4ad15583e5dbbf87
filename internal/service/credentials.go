package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
	"github.com/freieslabor/prepaid-mate/internal/security"
)

// handles account credentials. Password hashing and checking never run
// inside a store transaction.
type Credentials struct {
	hasher *security.Hasher
	now    func() time.Time
}

func NewCredentials(hasher *security.Hasher, now func() time.Time) *Credentials {
	return &Credentials{hasher: hasher, now: now}
}

func (c *Credentials) hash(password string) (string, error) {
	hash, err := c.hasher.Hash(password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return "", models.ErrPasswordTooLong
	}
	return hash, err
}

// NewAccount validates the fields of a new account and hashes its password.
// The account starts with balance 0.
func (c *Credentials) NewAccount(name, password, code string) (*models.Account, error) {
	if name == "" || password == "" || code == "" {
		return nil, models.ErrIncompleteRequest
	}

	hash, err := c.hash(password)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	return &models.Account{
		ID:           uuid.New().String(),
		Name:         name,
		PasswordHash: hash,
		Code:         code,
		Balance:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Create stores an account built by NewAccount.
func (c *Credentials) Create(ctx context.Context, tx db.Tx, account *models.Account) error {
	return tx.InsertAccount(ctx, account)
}

// Lookup finds an account by name.
func (c *Credentials) Lookup(ctx context.Context, tx db.Tx, name string, lock bool) (*models.Account, error) {
	account, err := tx.AccountByName(ctx, name, lock)
	if errors.Is(err, db.ErrNotFound) {
		return nil, models.ErrNoSuchAccount
	}
	return account, err
}

// Check compares password with the stored hash of account.
func (c *Credentials) Check(account *models.Account, password string) error {
	ok, err := c.hasher.Verify(account.PasswordHash, password)
	if err != nil {
		return fmt.Errorf("failed to verify account %s: %w", account.ID, err)
	}
	if !ok {
		return models.ErrWrongPassword
	}
	return nil
}

// Relock locks an account whose password was checked before the transaction
// began. It fails if the name or password changed in between.
func (c *Credentials) Relock(ctx context.Context, tx db.Tx, verified *models.Account) (*models.Account, error) {
	account, err := tx.AccountByID(ctx, verified.ID, true)
	if errors.Is(err, db.ErrNotFound) {
		return nil, models.ErrNoSuchAccount
	}
	if err != nil {
		return nil, err
	}
	if account.Name != verified.Name {
		return nil, models.ErrNoSuchAccount
	}
	if account.PasswordHash != verified.PasswordHash {
		return nil, models.ErrWrongPassword
	}
	return account, nil
}

// validateChanges rejects fields that were supplied but left empty.
func validateChanges(changes models.AccountChanges) error {
	for _, field := range []*string{changes.NewName, changes.NewPassword, changes.NewCode} {
		if field != nil && *field == "" {
			return models.ErrIncompleteRequest
		}
	}
	return nil
}

// AccountUpdate is a validated set of changes with the new password already
// hashed.
type AccountUpdate struct {
	changes      models.AccountChanges
	passwordHash string
}

// Prepare validates changes and hashes a new password.
func (c *Credentials) Prepare(changes models.AccountChanges) (AccountUpdate, error) {
	if err := validateChanges(changes); err != nil {
		return AccountUpdate{}, err
	}
	upd := AccountUpdate{changes: changes}
	if changes.NewPassword != nil {
		hash, err := c.hash(*changes.NewPassword)
		if err != nil {
			return AccountUpdate{}, err
		}
		upd.passwordHash = hash
	}
	return upd, nil
}

// Update applies prepared changes to account. Absent fields are left as
// they are.
func (c *Credentials) Update(ctx context.Context, tx db.Tx, account *models.Account, upd AccountUpdate) error {
	changes := upd.changes
	if changes.Empty() {
		return nil
	}

	updated := *account
	if changes.NewName != nil {
		updated.Name = *changes.NewName
	}
	if changes.NewCode != nil {
		updated.Code = *changes.NewCode
	}
	if changes.NewPassword != nil {
		updated.PasswordHash = upd.passwordHash
	}
	updated.UpdatedAt = c.now().UTC()

	if err := tx.UpdateAccount(ctx, &updated); err != nil {
		return err
	}
	*account = updated
	return nil
}
