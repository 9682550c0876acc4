// Package wallet serves BRL balances and Pix deposits.
//
// A Pix deposit is created pending with a copy-and-paste payload and is
// credited to the wallet exactly once when it completes. The credit is
// keyed by a wallet transaction on (PIX_DEPOSIT, deposit id), so repeated
// completions never double-credit.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/metrics"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

const (
	// DepositTTL is how long a Pix payload stays payable.
	DepositTTL = 10 * time.Minute

	pixPayloadPrefix = "00020126580014br.gov.bcb.pix0136"
	qrCodeImageURL   = "https://via.placeholder.com/200"
)

var (
	ErrBalanceNotFound = apperr.NotFound("Balance not found")
	ErrDepositNotFound = apperr.NotFound("Deposit not found")
	ErrInvalidStatus   = apperr.New(http.StatusBadRequest, apperr.CodeInvalidStatus,
		"Deposit cannot be completed")
	// errWalletMissing means a completed deposit has no wallet to report.
	errWalletMissing = apperr.New(http.StatusInternalServerError, apperr.CodeBalanceNotFound,
		"Balance not found")
)

// Completion is the result of completing a deposit.
type Completion struct {
	Deposit model.PixDeposit    `json:"deposit"`
	Balance model.WalletBalance `json:"balance"`
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the user's wallet.
func (s *Service) Balance(ctx context.Context, userID string) (*model.WalletBalance, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return w, nil
}

// ParseAmount validates a deposit amount: a decimal string greater than zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := model.ParseDecimal(s)
	if err != nil {
		return decimal.Zero, apperr.InvalidInput("amountBrl must be a decimal string")
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperr.InvalidInput("Amount must be greater than zero")
	}
	return amount, nil
}

// DepositHook runs inside the transaction that creates a deposit.
type DepositHook func(ctx context.Context, tx store.Tx, d *model.PixDeposit) error

// CreatePixDeposit opens a pending deposit of amount for the user.
func (s *Service) CreatePixDeposit(ctx context.Context, userID string, amount decimal.Decimal, hooks ...DepositHook) (*model.PixDeposit, error) {
	now := s.now()
	d := &model.PixDeposit{
		ID:             uuid.New().String(),
		UserID:         userID,
		AmountBRL:      amount,
		Status:         model.DepositPending,
		QRCodeText:     pixPayloadPrefix + uuid.New().String(),
		QRCodeImageURL: qrCodeImageURL,
		ExpiresAt:      now.Add(DepositTTL),
		CreatedAt:      now,
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDeposit(ctx, d); err != nil {
			return fmt.Errorf("create deposit: %w", err)
		}
		for _, hook := range hooks {
			if err := hook(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.PixDeposits.WithLabelValues(model.DepositPending).Inc()
	slog.Info("pix deposit created", "deposit_id", d.ID, "user_id", userID, "amount_brl", amount.String())
	return d, nil
}

// RequestPixWithdrawal acknowledges a withdrawal to the given Pix key. No
// payout provider is wired, so the request stays processing and the wallet
// is not debited.
func (s *Service) RequestPixWithdrawal(userID string, amount decimal.Decimal, keyType, keyValue string) *model.PixWithdrawal {
	wd := &model.PixWithdrawal{
		ID:          "with_" + uuid.New().String(),
		Status:      model.WithdrawalProcessing,
		CreatedAt:   s.now(),
		AmountBRL:   amount,
		PixKeyType:  keyType,
		PixKeyValue: keyValue,
	}
	slog.Info("pix withdrawal requested", "withdrawal_id", wd.ID, "user_id", userID,
		"amount_brl", amount.String(), "pix_key_type", keyType)
	return wd
}

// GetPixDeposit returns one of the user's deposits.
func (s *Service) GetPixDeposit(ctx context.Context, userID, depositID string) (*model.PixDeposit, error) {
	d, err := s.store.GetDeposit(ctx, depositID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	if d.UserID != userID {
		return nil, ErrDepositNotFound
	}
	return d, nil
}

// CompletePixDeposit marks a pending deposit completed and credits its
// amount to the user's wallet. Completing an already completed deposit
// returns the current balance and credits nothing.
func (s *Service) CompletePixDeposit(ctx context.Context, userID, depositID string) (*Completion, error) {
	var (
		out      Completion
		credited bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, depositID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrDepositNotFound
		}
		if err != nil {
			return fmt.Errorf("lock deposit: %w", err)
		}
		if d.UserID != userID {
			return ErrDepositNotFound
		}

		switch d.Status {
		case model.DepositCompleted:
			w, err := tx.GetWalletForUpdate(ctx, userID)
			if errors.Is(err, store.ErrNotFound) {
				return errWalletMissing
			}
			if err != nil {
				return fmt.Errorf("lock wallet: %w", err)
			}
			out = Completion{Deposit: *d, Balance: *w}
			return nil
		case model.DepositPending:
		default:
			return ErrInvalidStatus
		}

		now := s.now()
		d.Status = model.DepositCompleted
		d.CompletedAt = &now
		if err := tx.UpdateDeposit(ctx, d); err != nil {
			return fmt.Errorf("update deposit: %w", err)
		}

		_, err = tx.GetWalletTransaction(ctx, model.RefPixDeposit, d.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			credited = true
		case err != nil:
			return fmt.Errorf("load wallet transaction: %w", err)
		}

		if credited {
			err := tx.InsertWalletTransaction(ctx, &model.WalletTransaction{
				ID:            uuid.New().String(),
				UserID:        userID,
				Type:          model.TxTypePixDepositCred,
				AmountBRL:     d.AmountBRL,
				ReferenceType: model.RefPixDeposit,
				ReferenceID:   d.ID,
				CreatedAt:     now,
			})
			if err != nil {
				return fmt.Errorf("insert wallet transaction: %w", err)
			}
		}

		w, err := tx.GetWalletForUpdate(ctx, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// A credit already on the ledger still needs a wallet to land in.
			w = model.NewWalletBalance(userID, now)
			w.Available = d.AmountBRL
			w.Total = d.AmountBRL
			if err := tx.CreateWallet(ctx, w); err != nil {
				return fmt.Errorf("create wallet: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lock wallet: %w", err)
		case credited:
			w.Available = w.Available.Add(d.AmountBRL)
			w.Total = w.Total.Add(d.AmountBRL)
			w.UpdatedAt = now
			if err := tx.UpdateWallet(ctx, w); err != nil {
				return fmt.Errorf("credit wallet: %w", err)
			}
		}

		out = Completion{Deposit: *d, Balance: *w}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if credited {
		metrics.PixDeposits.WithLabelValues(model.DepositCompleted).Inc()
		slog.Info("pix deposit completed",
			"deposit_id", depositID,
			"user_id", userID,
			"amount_brl", out.Deposit.AmountBRL.String(),
			"available_brl", out.Balance.Available.String(),
		)
	}
	return &out, nil
}
