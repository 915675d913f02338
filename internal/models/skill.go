package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "TON"

type Skill struct {
	ID            uuid.UUID       `json:"id"`
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	AuthorWallet  string          `json:"author_wallet"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Listed        bool            `json:"listed"`
	DownloadCount int64           `json:"download_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

type SkillFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
