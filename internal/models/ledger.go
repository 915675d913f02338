package models

import "github.com/shopspring/decimal"

// Transfer is an unsigned instruction moving Amount from one ledger account
// to another.
type Transfer struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Comment string          `json:"comment,omitempty"`
}

// TransferStatus is what the ledger reports for a submitted transfer.
type TransferStatus struct {
	Confirmed bool   `json:"confirmed"`
	Slot      uint64 `json:"slot,omitempty"` // logical time of the confirming transaction
	Error     string `json:"error,omitempty"`
}
