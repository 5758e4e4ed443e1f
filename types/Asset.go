package types

import (
	"time"
)

type AssetType string

const (
	AssetTypeCrypto AssetType = "CRYPTO"
	AssetTypeStable AssetType = "STABLE"
)

type Asset struct {
	Id         int       `json:"id"`
	Ticker     string    `json:"ticker"`
	Name       string    `json:"name"`
	Type       AssetType `json:"type"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Dataset groups the instruments a run may trade.
type Dataset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Assets    []Asset   `json:"assets"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

func (d Dataset) Tickers() []string {
	out := make([]string, 0, len(d.Assets))
	for _, a := range d.Assets {
		out = append(out, a.Ticker)
	}
	return out
}
