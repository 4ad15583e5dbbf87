package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
)

// DrinkRequest carries the raw form values of a new drink.
type DrinkRequest struct {
	Name      string
	ContentML string
	Price     string
	Code      string
}

// Catalog looks up and registers drinks.
type Catalog struct{}

func NewCatalog() *Catalog {
	return &Catalog{}
}

func (c *Catalog) LookupByCode(ctx context.Context, tx db.Tx, code string) (*models.Drink, error) {
	drink, err := tx.DrinkByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, models.ErrNoSuchDrink
	}
	if err != nil {
		return nil, err
	}
	return drink, nil
}

func (c *Catalog) CodeIsDrink(ctx context.Context, tx db.Tx, code string) (bool, error) {
	_, err := tx.DrinkByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// parseDrink validates req without touching the store.
func parseDrink(req DrinkRequest) (*models.Drink, error) {
	if req.Name == "" || req.Code == "" || req.Price == "" {
		return nil, models.ErrIncompleteRequest
	}
	price, err := parseCents(req.Price, models.ErrPriceNotCents, models.ErrPriceNotPositive)
	if err != nil {
		return nil, err
	}

	drink := &models.Drink{
		ID:    uuid.New().String(),
		Name:  req.Name,
		Price: price,
		Code:  req.Code,
	}
	if content := strings.TrimSpace(req.ContentML); content != "" {
		ml, err := strconv.ParseInt(content, 10, 64)
		if err != nil || ml < 0 {
			return nil, models.ErrContentNotInteger
		}
		drink.ContentML = &ml
	}
	return drink, nil
}

// Create registers drink. The caller holds the code lock.
func (c *Catalog) Create(ctx context.Context, tx db.Tx, drink *models.Drink) error {
	_, err := tx.AccountByCode(ctx, drink.Code, false)
	if err == nil {
		return models.ErrAccountCodeCollision
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return tx.InsertDrink(ctx, drink)
}
