package db_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
)

// newPostgresStore connects to PREPAID_TEST_POSTGRES_URI. The database should
// be disposable; tests use random names and codes so reruns do not collide.
func newPostgresStore(t *testing.T) *db.Postgres {
	t.Helper()
	uri := os.Getenv("PREPAID_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("PREPAID_TEST_POSTGRES_URI not set")
	}
	s, err := db.NewPostgres(db.PostgresConfig{
		URI:             uri,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return s
}

func TestPostgresUniqueAndCheckConstraints(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	id := uuid.New().String()
	name := "pg-" + id[:8]
	code := "c-" + id[:8]

	insertAccount(t, s, id, name, code)

	err := s.Update(ctx, func(tx db.Tx) error {
		return tx.InsertAccount(ctx, &models.Account{ID: uuid.New().String(), Name: name, Code: "other-" + id[:8]})
	})
	var uv *db.UniqueViolation
	if !errors.As(err, &uv) || uv.Field != "name" {
		t.Fatalf("expected name UniqueViolation, got %v", err)
	}

	err = s.Update(ctx, func(tx db.Tx) error {
		_, err := tx.AddBalance(ctx, id, -1)
		return err
	})
	if !errors.Is(err, db.ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
}

func TestPostgresConcurrentDebits(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	id := uuid.New().String()
	insertAccount(t, s, id, "pg-"+id[:8], "c-"+id[:8])

	err := s.Update(ctx, func(tx db.Tx) error {
		_, err := tx.AddBalance(ctx, id, 1000)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 20 debits of 100 against a balance of 1000: exactly 10 may succeed
	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx db.Tx) error {
				a, err := tx.AccountByID(ctx, id, true)
				if err != nil {
					return err
				}
				if a.Balance < 100 {
					return db.ErrNegativeBalance
				}
				_, err = tx.AddBalance(ctx, id, -100)
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, db.ErrNegativeBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected 10 successful debits, got %d", succeeded)
	}
	_ = s.View(ctx, func(tx db.Tx) error {
		a, err := tx.AccountByID(ctx, id, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Balance != 0 {
			t.Fatalf("expected balance 0, got %d", a.Balance)
		}
		return nil
	})
}
