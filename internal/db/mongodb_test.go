package db_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
)

func TestInsertEventIsIdempotent(t *testing.T) {
	uri := os.Getenv("PREPAID_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PREPAID_TEST_MONGO_URI not set")
	}
	m, err := db.NewMongoDB(uri, "prepaid_test")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := &models.LedgerEvent{
		ID:           uuid.New().String(),
		Type:         models.EventTopUp,
		AccountID:    uuid.New().String(),
		Amount:       1000,
		BalanceAfter: 1000,
		Label:        models.TopUpLabel,
		Timestamp:    time.Now().Unix(),
		Seq:          time.Now().UnixNano(),
	}

	archived, err := m.InsertEvent(ctx, e)
	if err != nil || !archived {
		t.Fatalf("expected first insert to archive, got %v %v", archived, err)
	}
	archived, err = m.InsertEvent(ctx, e)
	if err != nil || archived {
		t.Fatalf("expected redelivery to be ignored, got %v %v", archived, err)
	}
}
