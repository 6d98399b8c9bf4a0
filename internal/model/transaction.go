package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
)

// Field limits enforced on user-editable transaction fields.
const (
	MaxNotesLength = 500
	MaxTags        = 10
	MaxTagLength   = 50
)

// Transaction is a single monetary movement extracted from a document.
// Amounts are signed integer minor units: expenses negative, income positive.
type Transaction struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"ownerId"`
	AccountID          string            `json:"accountId"`
	ImportID           string            `json:"importId"`
	PostedAt           time.Time         `json:"postedAt"`
	Amount             int64             `json:"amount"`
	Description        string            `json:"description"`
	MerchantRaw        string            `json:"merchantRaw"`
	MerchantNormalized string            `json:"merchantNormalized"`
	CategoryID         *string           `json:"categoryId,omitempty"`
	AutoCategory       *AutoCategory     `json:"autoCategory,omitempty"`
	ManualOverride     bool              `json:"manualOverride"`
	Explainability     Explainability    `json:"explainability"`
	Notes              string            `json:"notes,omitempty"`
	Tags               []string          `json:"tags"`
	CorrectedAt        *time.Time        `json:"correctedAt,omitempty"`
	IsSplitParent      bool              `json:"isSplitParent"`
	SplitParentID      *string           `json:"splitParentId,omitempty"`
	ReceiptLineItems   []ReceiptLineItem `json:"receiptLineItems,omitempty"`
	TxKey              string            `json:"txKey"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// AutoCategory preserves the last non-manual categorization result so a
// manual override never destroys the audit trail.
type AutoCategory struct {
	CategoryID     *string        `json:"categoryId"`
	Explainability Explainability `json:"explainability"`
}

// ReceiptLineItem is a single line extracted from a photographed receipt.
type ReceiptLineItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	TotalPrice int64  `json:"totalPrice"`
	Category   string `json:"category,omitempty"`
}

// GenerateTxKey computes the stable dedupe hash over the identity-bearing
// fields. The key is unique per owner; re-importing the same row reproduces
// the same key.
func GenerateTxKey(accountID string, postedAt time.Time, amount int64, description string) string {
	data := fmt.Sprintf("%s|%s|%d|%s",
		accountID,
		postedAt.Format("2006-01-02"),
		amount,
		description)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ValidateNotes enforces the notes length limit.
func ValidateNotes(notes string) error {
	if len(notes) > MaxNotesLength {
		return common.Validationf("notes exceed %d characters", MaxNotesLength)
	}
	return nil
}

// ValidateTags enforces tag count and per-tag length limits.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return common.Validationf("at most %d tags allowed", MaxTags)
	}
	for _, tag := range tags {
		if tag == "" {
			return common.Validationf("tags must not be empty")
		}
		if len(tag) > MaxTagLength {
			return common.Validationf("tag %q exceeds %d characters", tag, MaxTagLength)
		}
	}
	return nil
}
