package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
)

// Ledger pairs every balance change with its log entry inside the caller's
// transaction.
type Ledger struct {
	now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// TopUp credits amount to account and appends a money log entry. It returns
// the entry and the new balance.
func (l *Ledger) TopUp(ctx context.Context, tx db.Tx, account *models.Account, amount int64) (*models.MoneyLogEntry, int64, error) {
	if amount <= 0 {
		return nil, 0, models.ErrMoneyNotPositive
	}
	if amount > math.MaxInt64-account.Balance {
		return nil, 0, models.ErrBalanceOverflow
	}

	balance, err := tx.AddBalance(ctx, account.ID, amount)
	if err != nil {
		return nil, 0, err
	}

	entry := &models.MoneyLogEntry{
		AccountID: account.ID,
		Amount:    amount,
		Timestamp: l.now().Unix(),
	}
	if err := tx.AppendTopUp(ctx, entry); err != nil {
		return nil, 0, err
	}
	return entry, balance, nil
}

// Charge debits the drink price from a locked account and appends a pay log
// entry with the price, name and code at the time of sale.
func (l *Ledger) Charge(ctx context.Context, tx db.Tx, account *models.Account, drink *models.Drink) (*models.PayLogEntry, int64, error) {
	if account.Balance-drink.Price < 0 {
		return nil, 0, models.ErrInsufficientFunds
	}

	balance, err := tx.AddBalance(ctx, account.ID, -drink.Price)
	if errors.Is(err, db.ErrNegativeBalance) {
		return nil, 0, models.ErrInsufficientFunds
	}
	if err != nil {
		return nil, 0, err
	}

	entry := &models.PayLogEntry{
		AccountID: account.ID,
		DrinkID:   drink.ID,
		DrinkName: drink.Name,
		DrinkCode: drink.Code,
		Price:     drink.Price,
		Timestamp: l.now().Unix(),
	}
	if err := tx.AppendPurchase(ctx, entry); err != nil {
		return nil, 0, err
	}
	return entry, balance, nil
}

// History returns all top-ups and purchases of an account, newest first.
func (l *Ledger) History(ctx context.Context, tx db.Tx, accountID string) ([]models.HistoryEntry, error) {
	return tx.History(ctx, accountID)
}
