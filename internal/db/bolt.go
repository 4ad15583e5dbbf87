package db

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/freieslabor/prepaid-mate/internal/models"
)

var (
	bucketAccounts       = []byte("accounts")
	bucketAccountsByName = []byte("accounts_by_name")
	bucketAccountsByCode = []byte("accounts_by_code")
	bucketDrinks         = []byte("drinks")
	bucketDrinksByCode   = []byte("drinks_by_code")
	// one nested bucket per account, keyed by big-endian seq
	bucketHistory = []byte("history")
)

// Bolt is an embedded single-file ledger store. Bolt allows one writer at a
// time, so Update transactions are fully serialized.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database at path and ensures all buckets exist.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketAccounts, bucketAccountsByName, bucketAccountsByCode,
			bucketDrinks, bucketDrinksByCode, bucketHistory,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close releases the database file lock.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// Update runs fn in a write transaction. The context is checked before
// waiting for the writer lock, again once the lock is held, and after fn.
// A done context rolls the transaction back.
func (s *Bolt) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (s *Bolt) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// boltAccount is the stored form of an account; models.Account hides the
// password hash from JSON.
type boltAccount struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	Code         string    `json:"code"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type boltHistory struct {
	Seq       int64  `json:"seq"`
	Amount    int64  `json:"amount"`
	Label     string `json:"label"`
	Timestamp int64  `json:"timestamp"`
	DrinkID   string `json:"drink_id,omitempty"`
	DrinkCode string `json:"drink_code"`
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) getAccount(id []byte) (*models.Account, error) {
	v := t.tx.Bucket(bucketAccounts).Get(id)
	if v == nil {
		return nil, ErrNotFound
	}
	var rec boltAccount
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &models.Account{
		ID:           rec.ID,
		Name:         rec.Name,
		PasswordHash: rec.PasswordHash,
		Code:         rec.Code,
		Balance:      rec.Balance,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func (t *boltTx) putAccount(a *models.Account) error {
	data, err := json.Marshal(boltAccount{
		ID:           a.ID,
		Name:         a.Name,
		PasswordHash: a.PasswordHash,
		Code:         a.Code,
		Balance:      a.Balance,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketAccounts).Put([]byte(a.ID), data)
}

func (t *boltTx) accountByIndex(index []byte, key string) (*models.Account, error) {
	id := t.tx.Bucket(index).Get([]byte(key))
	if id == nil {
		return nil, ErrNotFound
	}
	return t.getAccount(id)
}

func (t *boltTx) AccountByID(_ context.Context, id string, _ bool) (*models.Account, error) {
	return t.getAccount([]byte(id))
}

func (t *boltTx) AccountByName(_ context.Context, name string, _ bool) (*models.Account, error) {
	return t.accountByIndex(bucketAccountsByName, name)
}

func (t *boltTx) AccountByCode(_ context.Context, code string, _ bool) (*models.Account, error) {
	return t.accountByIndex(bucketAccountsByCode, code)
}

func (t *boltTx) InsertAccount(_ context.Context, a *models.Account) error {
	byName := t.tx.Bucket(bucketAccountsByName)
	byCode := t.tx.Bucket(bucketAccountsByCode)

	if byName.Get([]byte(a.Name)) != nil {
		return &UniqueViolation{Field: "name"}
	}
	if byCode.Get([]byte(a.Code)) != nil {
		return &UniqueViolation{Field: "code"}
	}
	if a.Balance < 0 {
		return ErrNegativeBalance
	}

	if err := t.putAccount(a); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	if err := byName.Put([]byte(a.Name), []byte(a.ID)); err != nil {
		return fmt.Errorf("failed to index account name: %w", err)
	}
	if err := byCode.Put([]byte(a.Code), []byte(a.ID)); err != nil {
		return fmt.Errorf("failed to index account code: %w", err)
	}
	return nil
}

// UpdateAccount writes name, password hash and code. Balance is only changed
// through AddBalance.
func (t *boltTx) UpdateAccount(_ context.Context, a *models.Account) error {
	current, err := t.getAccount([]byte(a.ID))
	if err != nil {
		return err
	}
	byName := t.tx.Bucket(bucketAccountsByName)
	byCode := t.tx.Bucket(bucketAccountsByCode)

	if a.Name != current.Name {
		if byName.Get([]byte(a.Name)) != nil {
			return &UniqueViolation{Field: "name"}
		}
		if err := byName.Delete([]byte(current.Name)); err != nil {
			return err
		}
		if err := byName.Put([]byte(a.Name), []byte(a.ID)); err != nil {
			return err
		}
	}
	if a.Code != current.Code {
		if byCode.Get([]byte(a.Code)) != nil {
			return &UniqueViolation{Field: "code"}
		}
		if err := byCode.Delete([]byte(current.Code)); err != nil {
			return err
		}
		if err := byCode.Put([]byte(a.Code), []byte(a.ID)); err != nil {
			return err
		}
	}

	current.Name = a.Name
	current.PasswordHash = a.PasswordHash
	current.Code = a.Code
	current.UpdatedAt = a.UpdatedAt
	if err := t.putAccount(current); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

func (t *boltTx) AddBalance(_ context.Context, accountID string, delta int64) (int64, error) {
	a, err := t.getAccount([]byte(accountID))
	if err != nil {
		return 0, err
	}
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return 0, ErrBalanceOutOfRange
	}
	if a.Balance+delta < 0 {
		return 0, ErrNegativeBalance
	}
	a.Balance += delta
	a.UpdatedAt = time.Now().UTC()
	if err := t.putAccount(a); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return a.Balance, nil
}

func (t *boltTx) DrinkByCode(_ context.Context, code string) (*models.Drink, error) {
	id := t.tx.Bucket(bucketDrinksByCode).Get([]byte(code))
	if id == nil {
		return nil, ErrNotFound
	}
	v := t.tx.Bucket(bucketDrinks).Get(id)
	if v == nil {
		return nil, ErrNotFound
	}
	var d models.Drink
	if err := json.Unmarshal(v, &d); err != nil {
		return nil, fmt.Errorf("failed to decode drink: %w", err)
	}
	return &d, nil
}

func (t *boltTx) InsertDrink(_ context.Context, d *models.Drink) error {
	byCode := t.tx.Bucket(bucketDrinksByCode)
	if byCode.Get([]byte(d.Code)) != nil {
		return &UniqueViolation{Field: "code"}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketDrinks).Put([]byte(d.ID), data); err != nil {
		return fmt.Errorf("failed to create drink: %w", err)
	}
	return byCode.Put([]byte(d.Code), []byte(d.ID))
}

// LockCode is a no-op: write transactions are already serialized.
func (t *boltTx) LockCode(context.Context, string) error {
	return nil
}

func (t *boltTx) appendHistory(accountID string, rec *boltHistory) error {
	root := t.tx.Bucket(bucketHistory)
	seq, err := root.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}
	rec.Seq = int64(seq)

	b, err := root.CreateBucketIfNotExists([]byte(accountID))
	if err != nil {
		return fmt.Errorf("failed to create history bucket: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(seqKey(seq), data)
}

func (t *boltTx) AppendTopUp(_ context.Context, e *models.MoneyLogEntry) error {
	if t.tx.Bucket(bucketAccounts).Get([]byte(e.AccountID)) == nil {
		return ErrNotFound
	}
	rec := &boltHistory{
		Amount:    e.Amount,
		Label:     models.TopUpLabel,
		Timestamp: e.Timestamp,
	}
	if err := t.appendHistory(e.AccountID, rec); err != nil {
		return fmt.Errorf("failed to append money log: %w", err)
	}
	e.Seq = rec.Seq
	return nil
}

func (t *boltTx) AppendPurchase(_ context.Context, e *models.PayLogEntry) error {
	if t.tx.Bucket(bucketAccounts).Get([]byte(e.AccountID)) == nil {
		return ErrNotFound
	}
	rec := &boltHistory{
		Amount:    -e.Price,
		Label:     e.DrinkName,
		Timestamp: e.Timestamp,
		DrinkID:   e.DrinkID,
		DrinkCode: e.DrinkCode,
	}
	if err := t.appendHistory(e.AccountID, rec); err != nil {
		return fmt.Errorf("failed to append pay log: %w", err)
	}
	e.Seq = rec.Seq
	return nil
}

func (t *boltTx) History(_ context.Context, accountID string) ([]models.HistoryEntry, error) {
	history := []models.HistoryEntry{}

	b := t.tx.Bucket(bucketHistory).Bucket([]byte(accountID))
	if b == nil {
		return history, nil
	}
	err := b.ForEach(func(_, v []byte) error {
		var rec boltHistory
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		history = append(history, models.HistoryEntry{
			Amount:    rec.Amount,
			Label:     rec.Label,
			Timestamp: rec.Timestamp,
			DrinkCode: rec.DrinkCode,
			Seq:       rec.Seq,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	sort.Slice(history, func(i, j int) bool {
		if history[i].Timestamp != history[j].Timestamp {
			return history[i].Timestamp > history[j].Timestamp
		}
		return history[i].Seq > history[j].Seq
	})
	return history, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
