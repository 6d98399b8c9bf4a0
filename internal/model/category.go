package model

import "time"

// Category is a spending category. Default categories have a nil owner and
// are read-only for every user; user categories carry an owner.
type Category struct {
	ID        string    `json:"id"`
	OwnerID   *string   `json:"ownerId,omitempty"`
	Name      string    `json:"name"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
	IsDefault bool      `json:"isDefault"`
	ParentID  *string   `json:"parentId,omitempty"`
	SortOrder int       `json:"sortOrder"`
	IsHidden  bool      `json:"isHidden"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
