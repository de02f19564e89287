package tournament

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("tournament: not found")
	// ErrInvalidDates is returned when a write would leave end_at before start_at.
	ErrInvalidDates = errors.New("tournament: end_at must not be before start_at")
)

const (
	DefaultStatus  = "draft"
	FinishedStatus = "finished"
)

type Tournament struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	PriceClient float64    `json:"price_client"`
	PricePlayer float64    `json:"price_player"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type CreateInput struct {
	Name        string     `json:"name" validate:"required,max=150"`
	Description string     `json:"description" validate:"max=2000"`
	Status      string     `json:"status" validate:"required,max=32"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at" validate:"omitempty,notbefore=start_at"`
	PriceClient float64    `json:"price_client" validate:"gte=0"`
	PricePlayer float64    `json:"price_player" validate:"gte=0"`
	IsActive    *bool      `json:"is_active"`
}

// UpdateInput is a partial update: nil fields keep their stored value.
// Dates are only compared here when both are sent; the table CHECK covers
// the stored half.
type UpdateInput struct {
	Name        *string    `json:"name" validate:"omitempty,min=1,max=150"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	Status      *string    `json:"status" validate:"omitempty,min=1,max=32"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at" validate:"omitempty,notbefore=start_at"`
	PriceClient *float64   `json:"price_client" validate:"omitempty,gte=0"`
	PricePlayer *float64   `json:"price_player" validate:"omitempty,gte=0"`
	IsActive    *bool      `json:"is_active"`
}

type Page struct {
	Skip  int
	Limit int
}
