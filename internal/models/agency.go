package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Agency struct {
	bun.BaseModel `bun:"table:agencies"`

	ID            string    `bun:"id,pk" json:"id"`
	OwnerUserID   string    `bun:"owner_user_id" json:"owner_user_id"`
	Name          string    `bun:"name" json:"name"`
	WalletVersion int64     `bun:"wallet_version" json:"-"`
	CreatedAt     time.Time `bun:"created_at" json:"created_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type Withdrawal struct {
	bun.BaseModel `bun:"table:withdrawals"`

	ID            string           `bun:"id,pk" json:"id"`
	AgencyID      string           `bun:"agency_id" json:"agency_id"`
	Amount        float64          `bun:"amount" json:"amount"`
	Currency      string           `bun:"currency" json:"currency"`
	PaymentMethod string           `bun:"payment_method" json:"payment_method"`
	Destination   string           `bun:"destination" json:"destination"`
	Status        WithdrawalStatus `bun:"status" json:"status"`
	DecidedBy     string           `bun:"decided_by" json:"decided_by,omitempty"`
	DecidedAt     *time.Time       `bun:"decided_at,nullzero" json:"decided_at,omitempty"`
	CreatedAt     time.Time        `bun:"created_at" json:"created_at"`
}

type Balance struct {
	AgencyID  string  `json:"agency_id"`
	Earned    float64 `json:"earned"`
	Withdrawn float64 `json:"withdrawn"`
	Available float64 `json:"available"`
	Currency  string  `json:"currency"`
}
