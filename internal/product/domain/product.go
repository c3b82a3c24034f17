package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const maxNameLength = 255

// Price is a decimal that encodes as a JSON number (9.99), not a string.
// Decoding, Scan and Value come from the embedded decimal.Decimal.
type Price struct {
	decimal.Decimal
}

func NewPrice(d decimal.Decimal) Price {
	return Price{Decimal: d}
}

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal.String()), nil
}

type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Price       Price     `json:"price"`
	Quantity    int       `json:"quantity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateProductRequest uses pointers so an absent field can be told apart
// from a zero value.
type CreateProductRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Price       *Price  `json:"price"`
	Quantity    *int    `json:"quantity,omitempty"`
}

// UpdateProductRequest overwrites every mutable field. A nil Quantity keeps
// the stored value.
type UpdateProductRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Price       *Price  `json:"price"`
	Quantity    *int    `json:"quantity,omitempty"`
}

var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validateFields(name string, price *Price, quantity *int) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return &ValidationError{Field: "name", Message: "exceeds 255 characters"}
	}
	if price == nil {
		return &ValidationError{Field: "price", Message: "is required"}
	}
	if price.IsNegative() {
		return &ValidationError{Field: "price", Message: "must not be negative"}
	}
	if price.Round(2).GreaterThanOrEqual(decimal.New(1, 8)) {
		return &ValidationError{Field: "price", Message: "exceeds numeric(10,2)"}
	}
	if quantity != nil && *quantity < 0 {
		return &ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	return nil
}

func (r CreateProductRequest) Validate() error {
	return validateFields(r.Name, r.Price, r.Quantity)
}

func (r UpdateProductRequest) Validate() error {
	return validateFields(r.Name, r.Price, r.Quantity)
}

// MutationResponse acknowledges a create, update or delete.
type MutationResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}
