package models

// Drink is catalog reference data. Price is in cents.
type Drink struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	ContentML *int64 `json:"content_ml,omitempty" db:"content_ml"`
	Price     int64  `json:"price" db:"price"`
	Code      string `json:"code" db:"code"`
}
