package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/models"
	"github.com/freieslabor/prepaid-mate/internal/security"
)

// EventPublisher receives ledger events after their transaction committed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e *models.LedgerEvent) error
}

// Options configures an Engine. Publisher and Clock are optional.
type Options struct {
	SuperuserSecret string
	Timeout         time.Duration
	UnknownCodeTTL  time.Duration
	Publisher       EventPublisher
	Clock           func() time.Time
}

// Engine runs every ledger operation in a single store transaction.
type Engine struct {
	store       db.Store
	credentials *Credentials
	catalog     *Catalog
	ledger      *Ledger
	unknown     *UnknownCodeCache
	secret      string
	timeout     time.Duration
	publisher   EventPublisher
	logger      *zap.Logger
}

// creates a new Engine
func NewEngine(store db.Store, hasher *security.Hasher, opts Options, logger *zap.Logger) *Engine {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:       store,
		credentials: NewCredentials(hasher, now),
		catalog:     NewCatalog(),
		ledger:      NewLedger(now),
		unknown:     NewUnknownCodeCache(opts.UnknownCodeTTL, now),
		secret:      opts.SuperuserSecret,
		timeout:     opts.Timeout,
		publisher:   opts.Publisher,
		logger:      logger,
	}
}

func (e *Engine) update(ctx context.Context, fn func(ctx context.Context, tx db.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	err := e.store.Update(ctx, func(tx db.Tx) error { return fn(ctx, tx) })
	return e.normalize(ctx, err)
}

func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, tx db.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	err := e.store.View(ctx, func(tx db.Tx) error { return fn(ctx, tx) })
	return e.normalize(ctx, err)
}

func (e *Engine) normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	// drivers do not always surface the deadline itself
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		var me *models.Error
		if !errors.As(err, &me) {
			err = errors.Join(context.DeadlineExceeded, err)
		}
	}
	err = translate(err)
	if models.KindOf(err) == models.KindBackend {
		e.logger.Error("store failure", zap.Error(errors.Unwrap(err)))
	}
	return err
}

func (e *Engine) checkSecret(secret string) error {
	if !security.SecretEqual(secret, e.secret) {
		return models.ErrWrongSuperuserPassword
	}
	return nil
}

// authenticate checks owner credentials against a snapshot read in its own
// view. The bcrypt comparison runs after that transaction has ended.
func (e *Engine) authenticate(ctx context.Context, name, password string) (*models.Account, error) {
	var account *models.Account
	err := e.view(ctx, func(ctx context.Context, tx db.Tx) error {
		var err error
		account, err = e.credentials.Lookup(ctx, tx, name, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := e.credentials.Check(account, password); err != nil {
		return nil, e.normalize(ctx, err)
	}
	return account, nil
}

// preauthorize runs the credential checks of auth before any write
// transaction. For owners it returns the verified account snapshot.
func (e *Engine) preauthorize(ctx context.Context, auth models.Auth) (*models.Account, error) {
	switch a := auth.(type) {
	case models.OwnerAuth:
		return e.authenticate(ctx, a.Name, a.Password)
	case models.SuperuserAuth:
		return nil, e.checkSecret(a.Secret)
	default:
		return nil, models.ErrIncompleteRequest
	}
}

// authorize resolves preauthorized auth to a locked account row.
func (e *Engine) authorize(ctx context.Context, tx db.Tx, auth models.Auth, verified *models.Account) (*models.Account, error) {
	switch a := auth.(type) {
	case models.OwnerAuth:
		return e.credentials.Relock(ctx, tx, verified)
	case models.SuperuserAuth:
		return e.accountByRef(ctx, tx, a.Account)
	default:
		return nil, models.ErrIncompleteRequest
	}
}

func (e *Engine) accountByRef(ctx context.Context, tx db.Tx, ref models.AccountRef) (*models.Account, error) {
	if ref.Value == "" {
		return nil, models.ErrIncompleteRequest
	}
	if ref.Kind == models.RefByCode {
		account, err := tx.AccountByCode(ctx, ref.Value, true)
		if errors.Is(err, db.ErrNotFound) {
			return nil, models.ErrUnknownAccountCode
		}
		return account, err
	}
	account, err := tx.AccountByName(ctx, ref.Value, true)
	if errors.Is(err, db.ErrNotFound) {
		return nil, models.ErrNoSuchAccount
	}
	return account, err
}

// claimCode locks code in the shared namespace and rejects drink codes.
func (e *Engine) claimCode(ctx context.Context, tx db.Tx, code string) error {
	if err := tx.LockCode(ctx, code); err != nil {
		return err
	}
	isDrink, err := e.catalog.CodeIsDrink(ctx, tx, code)
	if err != nil {
		return err
	}
	if isDrink {
		return models.ErrDrinkCodeCollision
	}
	return nil
}

// CreateAccount registers a new account with balance 0.
func (e *Engine) CreateAccount(ctx context.Context, name, password, code string) error {
	// a drink code collision is reported before missing fields
	account, prepErr := e.credentials.NewAccount(name, password, code)
	if prepErr != nil && !errors.Is(prepErr, models.ErrIncompleteRequest) {
		e.logger.Info("account create rejected", zap.String("name", name), zap.String("code", code), zap.Error(prepErr))
		return e.normalize(ctx, prepErr)
	}

	err := e.update(ctx, func(ctx context.Context, tx db.Tx) error {
		if code != "" {
			if err := e.claimCode(ctx, tx, code); err != nil {
				return err
			}
		}
		if prepErr != nil {
			return prepErr
		}
		return e.credentials.Create(ctx, tx, account)
	})
	if err != nil {
		e.logger.Info("account create rejected", zap.String("name", name), zap.String("code", code), zap.Error(err))
		return err
	}
	e.logger.Info("account created", zap.String("name", name), zap.String("code", code))
	return nil
}

// ModifyAccount changes name, password or code of the authorized account.
func (e *Engine) ModifyAccount(ctx context.Context, auth models.Auth, changes models.AccountChanges) error {
	if su, ok := auth.(models.SuperuserAuth); ok {
		if err := e.checkSecret(su.Secret); err != nil {
			e.logger.Warn("account modify with wrong superuser password")
			return err
		}
	}
	if err := validateChanges(changes); err != nil {
		return err
	}
	verified, err := e.preauthorize(ctx, auth)
	if err != nil {
		e.logger.Info("account modify rejected", zap.Error(err))
		return err
	}
	upd, err := e.credentials.Prepare(changes)
	if err != nil {
		return e.normalize(ctx, err)
	}

	err = e.update(ctx, func(ctx context.Context, tx db.Tx) error {
		account, err := e.authorize(ctx, tx, auth, verified)
		if err != nil {
			return err
		}
		if changes.NewCode != nil && *changes.NewCode != account.Code {
			if err := e.claimCode(ctx, tx, *changes.NewCode); err != nil {
				return err
			}
		}
		return e.credentials.Update(ctx, tx, account, upd)
	})
	if err != nil {
		e.logger.Info("account modify rejected", zap.Error(err))
		return err
	}
	return nil
}

// ViewAccount returns name, code and balance of the owner's account.
func (e *Engine) ViewAccount(ctx context.Context, name, password string) (models.AccountView, error) {
	account, err := e.authenticate(ctx, name, password)
	if err != nil {
		return models.AccountView{}, err
	}
	return models.AccountView{Name: account.Name, Code: account.Code, Balance: account.Balance}, nil
}

// CodeExists reports whether code belongs to an account. Unmatched codes are
// remembered for LastUnknownCode.
func (e *Engine) CodeExists(ctx context.Context, code string) (models.CodeLookup, error) {
	if code == "" {
		return models.CodeLookup{}, models.ErrIncompleteRequest
	}

	var lookup models.CodeLookup
	err := e.view(ctx, func(ctx context.Context, tx db.Tx) error {
		account, err := tx.AccountByCode(ctx, code, false)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		lookup = models.CodeLookup{Exists: true, Name: &account.Name}
		return nil
	})
	if err != nil {
		return models.CodeLookup{}, err
	}
	if !lookup.Exists {
		e.unknown.Record(code)
		e.logger.Info("unknown code scanned", zap.String("code", code))
	}
	return lookup, nil
}

// AddMoney credits amount (decimal cents) to the authorized account.
func (e *Engine) AddMoney(ctx context.Context, auth models.Auth, amount string) error {
	cents, err := parseCents(amount, models.ErrMoneyNotCents, models.ErrMoneyNotPositive)
	if err != nil {
		return err
	}
	if su, ok := auth.(models.SuperuserAuth); ok {
		if err := e.checkSecret(su.Secret); err != nil {
			e.logger.Warn("money add with wrong superuser password")
			return err
		}
	}
	verified, err := e.preauthorize(ctx, auth)
	if err != nil {
		e.logger.Info("money add rejected", zap.Error(err))
		return err
	}

	var event *models.LedgerEvent
	err = e.update(ctx, func(ctx context.Context, tx db.Tx) error {
		account, err := e.authorize(ctx, tx, auth, verified)
		if err != nil {
			return err
		}
		entry, balance, err := e.ledger.TopUp(ctx, tx, account, cents)
		if err != nil {
			return err
		}
		event = &models.LedgerEvent{
			ID:           uuid.New().String(),
			Type:         models.EventTopUp,
			AccountID:    account.ID,
			Amount:       entry.Amount,
			BalanceAfter: balance,
			Label:        models.TopUpLabel,
			Timestamp:    entry.Timestamp,
			Seq:          entry.Seq,
		}
		return nil
	})
	if err != nil {
		e.logger.Info("money add rejected", zap.Error(err))
		return err
	}

	e.logger.Info("money added",
		zap.String("account_id", event.AccountID), zap.Int64("amount", event.Amount), zap.Int64("balance", event.BalanceAfter))
	e.publish(ctx, event)
	return nil
}

// ViewMoney returns the owner's history, newest first.
func (e *Engine) ViewMoney(ctx context.Context, name, password string) ([]models.HistoryEntry, error) {
	var (
		account *models.Account
		history []models.HistoryEntry
	)
	err := e.view(ctx, func(ctx context.Context, tx db.Tx) error {
		var err error
		account, err = e.credentials.Lookup(ctx, tx, name, false)
		if err != nil {
			return err
		}
		history, err = e.ledger.History(ctx, tx, account.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	// the snapshot is only returned once the password matched
	if err := e.credentials.Check(account, password); err != nil {
		return nil, e.normalize(ctx, err)
	}
	return history, nil
}

// PerformPayment charges the drink identified by drinkCode to the account
// identified by accountCode and returns the new balance.
func (e *Engine) PerformPayment(ctx context.Context, secret, accountCode, drinkCode string) (int64, error) {
	log := e.logger.With(zap.String("account_code", accountCode), zap.String("drink_code", drinkCode))

	if err := e.checkSecret(secret); err != nil {
		log.Warn("payment rejected", zap.String("stage", "start"), zap.Error(err))
		return 0, err
	}
	if accountCode == "" || drinkCode == "" {
		return 0, models.ErrIncompleteRequest
	}

	stage := "authorized"
	var event *models.LedgerEvent
	err := e.update(ctx, func(ctx context.Context, tx db.Tx) error {
		account, err := tx.AccountByCode(ctx, accountCode, true)
		if errors.Is(err, db.ErrNotFound) {
			return models.ErrUnknownAccountCode
		}
		if err != nil {
			return err
		}
		stage = "account_found"

		drink, err := e.catalog.LookupByCode(ctx, tx, drinkCode)
		if err != nil {
			return err
		}
		stage = "drink_found"

		entry, balance, err := e.ledger.Charge(ctx, tx, account, drink)
		if err != nil {
			return err
		}
		stage = "commit"

		event = &models.LedgerEvent{
			ID:           uuid.New().String(),
			Type:         models.EventPurchase,
			AccountID:    account.ID,
			Amount:       -entry.Price,
			BalanceAfter: balance,
			Label:        entry.DrinkName,
			DrinkCode:    entry.DrinkCode,
			Timestamp:    entry.Timestamp,
			Seq:          entry.Seq,
		}
		return nil
	})
	if err != nil {
		log.Info("payment rejected", zap.String("stage", stage), zap.Error(err))
		return 0, err
	}

	log.Info("payment done", zap.Int64("price", -event.Amount), zap.Int64("balance", event.BalanceAfter))
	e.publish(ctx, event)
	return event.BalanceAfter, nil
}

// CreateDrink adds a drink to the catalog.
func (e *Engine) CreateDrink(ctx context.Context, secret string, req DrinkRequest) error {
	if err := e.checkSecret(secret); err != nil {
		e.logger.Warn("drink create with wrong superuser password")
		return err
	}
	drink, err := parseDrink(req)
	if err != nil {
		return err
	}

	err = e.update(ctx, func(ctx context.Context, tx db.Tx) error {
		if err := tx.LockCode(ctx, drink.Code); err != nil {
			return err
		}
		return e.catalog.Create(ctx, tx, drink)
	})
	if err != nil {
		e.logger.Info("drink create rejected", zap.String("code", drink.Code), zap.Error(err))
		return err
	}
	e.logger.Info("drink created", zap.String("name", drink.Name), zap.String("code", drink.Code), zap.Int64("price", drink.Price))
	return nil
}

// LastUnknownCode returns the last unmatched code seen by CodeExists while it
// is still fresh, or "".
func (e *Engine) LastUnknownCode() string {
	return e.unknown.Last()
}

// publish hands a committed event to the publisher. It is detached from the
// caller's cancellation and bounded by the engine timeout. Failures are
// logged only; the ledger change is already durable.
func (e *Engine) publish(ctx context.Context, event *models.LedgerEvent) {
	if e.publisher == nil || event == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.publisher.PublishEvent(ctx, event); err != nil {
		e.logger.Error("failed to publish ledger event", zap.String("event_id", event.ID), zap.Error(err))
	}
}
