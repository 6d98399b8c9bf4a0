package model

import "time"

// ParsedTransaction is one row extracted from a document before
// normalization and deduplication.
type ParsedTransaction struct {
	PostedAt    time.Time `json:"postedAt"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	MerchantRaw string    `json:"merchantRaw"`
}

// Receipt carries line items extracted from a photographed receipt.
type Receipt struct {
	Merchant  string            `json:"merchant"`
	Total     int64             `json:"total"`
	LineItems []ReceiptLineItem `json:"lineItems"`
}

// ParseResult is the outcome of parsing one document.
type ParseResult struct {
	Transactions []ParsedTransaction `json:"transactions"`
	Receipt      *Receipt            `json:"receipt,omitempty"`
}
