package model

import "time"

// Grocery is a tracked item and its purchase history. Name is unique per
// owner, compared case-insensitively.
type Grocery struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Expanded  bool        `json:"expanded"`
	Purchases []time.Time `json:"purchases"`
}

// GroceryUpdate carries a partial update. Nil fields are left unchanged.
type GroceryUpdate struct {
	Name      *string      `json:"name"`
	Expanded  *bool        `json:"expanded"`
	Purchases *[]time.Time `json:"purchases"`
}
