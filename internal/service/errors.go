package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
)

// translate normalizes store errors into *models.Error. Errors that already
// carry a kind pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var me *models.Error
	if errors.As(err, &me) {
		return me
	}

	var uv *db.UniqueViolation
	switch {
	case errors.As(err, &uv):
		return models.DuplicateError(uv.Field, err)
	case errors.Is(err, db.ErrNegativeBalance):
		return &models.Error{Kind: models.KindInsolvency, Msg: models.ErrInsufficientFunds.Msg, Err: err}
	case errors.Is(err, db.ErrBalanceOutOfRange):
		return &models.Error{Kind: models.KindInvalidAmount, Msg: models.ErrBalanceOverflow.Msg, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &models.Error{Kind: models.KindBackend, Msg: models.ErrDatabaseTimeout.Msg, Err: err}
	default:
		return models.BackendError(err)
	}
}

// parseCents parses a positive base-10 integer amount. notInt is returned for
// anything that is not an integer, notPositive for zero or less.
func parseCents(s string, notInt, notPositive *models.Error) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, notInt
	}
	if v <= 0 {
		return 0, notPositive
	}
	return v, nil
}
