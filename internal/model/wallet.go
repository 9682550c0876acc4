package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pix deposit statuses.
const (
	DepositPending   = "pending"
	DepositCompleted = "completed"
	DepositExpired   = "expired"
	DepositFailed    = "failed"
)

// Wallet transaction reference and entry types.
const (
	RefPixDeposit        = "PIX_DEPOSIT"
	TxTypePixDepositCred = "PIX_DEPOSIT_CREDIT"
)

// PixDeposit is an incoming Pix transfer awaiting confirmation.
type PixDeposit struct {
	ID             string          `json:"depositId"`
	UserID         string          `json:"-"`
	AmountBRL      decimal.Decimal `json:"amountBrl"`
	Status         string          `json:"status"`
	QRCodeText     string          `json:"qrCodeText"`
	QRCodeImageURL string          `json:"qrCodeImageUrl,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	CreatedAt      time.Time       `json:"-"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// WithdrawalProcessing is the status of an accepted Pix withdrawal.
const WithdrawalProcessing = "processing"

// PixWithdrawal is an outgoing Pix transfer request. Payouts are not
// settled against the wallet.
type PixWithdrawal struct {
	ID          string          `json:"withdrawalId"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	AmountBRL   decimal.Decimal `json:"amountBrl"`
	PixKeyType  string          `json:"pixKeyType"`
	PixKeyValue string          `json:"pixKeyValue"`
}

// WalletTransaction is a ledger line crediting or debiting a wallet.
// (ReferenceType, ReferenceID) is unique, which makes credits idempotent.
type WalletTransaction struct {
	ID            string
	UserID        string
	Type          string
	AmountBRL     decimal.Decimal
	ReferenceType string
	ReferenceID   string
	CreatedAt     time.Time
}

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// KYCNotStarted is the verification status of a new account.
const KYCNotStarted = "not_started"

// User is a registered account holder.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Role         string    `json:"role"`
	KYCStatus    string    `json:"kycStatus"`
	CreatedAt    time.Time `json:"createdAt"`
}
