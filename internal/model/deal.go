package model

import "time"

// Deal is one scored price-comparison record as persisted by the importer.
type Deal struct {
	WineName         string   `json:"wine_name"`
	Vintage          *int     `json:"vintage,omitempty"`
	Quantity         *int     `json:"quantity,omitempty"`
	Volume           string   `json:"volume,omitempty"`
	PricePlatinum    *float64 `json:"price_platinum,omitempty"`
	PriceGrandCru    *float64 `json:"price_grand_cru,omitempty"`
	PriceDiff        *float64 `json:"price_diff,omitempty"`
	PriceDiffPct     *float64 `json:"price_diff_pct,omitempty"`
	CheaperSide      string   `json:"cheaper_side,omitempty"`
	PlatinumURL      string   `json:"platinum_url,omitempty"`
	GrandCruURL      string   `json:"grand_cru_url,omitempty"`
	VivinoURL        string   `json:"vivino_url,omitempty"`
	VivinoRating     *float64 `json:"vivino_rating,omitempty"`
	VivinoNumRatings *int     `json:"vivino_num_ratings,omitempty"`
	DealScore        float64  `json:"deal_score"`
}

// HasVivino reports whether the deal carries any rating-source data.
func (d Deal) HasVivino() bool {
	return d.VivinoURL != "" || d.VivinoRating != nil || d.VivinoNumRatings != nil
}

// IngestionStatus is the state of one import run.
type IngestionStatus string

const (
	IngestionRunning IngestionStatus = "running"
	IngestionSuccess IngestionStatus = "success"
	IngestionFailed  IngestionStatus = "failed"
)

// Ingestion records one import of the comparison data.
type Ingestion struct {
	ID             string          `json:"id"`
	Status         IngestionStatus `json:"status"`
	ComparisonRows int             `json:"comparison_rows"`
	VivinoRows     int             `json:"vivino_rows"`
	MergedRows     int             `json:"merged_rows"`
	Details        string          `json:"details,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}
