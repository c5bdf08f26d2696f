package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan defines a subscription tier's monthly message allowance.
type Plan struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	MonthlyMessages int64           `json:"monthly_messages" db:"monthly_messages"`
	PriceMonthly    decimal.Decimal `json:"price_monthly" db:"price_monthly"`
}

// UserPlan binds a tenant to a plan with a running message counter for the
// current billing period. The counter only advances on turns that produced a
// deliverable answer.
type UserPlan struct {
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	PlanID       string    `json:"plan_id" db:"plan_id"`
	MessagesUsed int64     `json:"messages_used" db:"messages_used"`
	PeriodStart  time.Time `json:"period_start" db:"period_start"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
