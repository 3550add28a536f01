// Package model defines the records exchanged between the matching engine,
// its input tables and its reports.
package model

import "strings"

// ComparisonRecord is one scraped price-comparison row. It is produced by the
// scrape/build collaborators and never modified here.
type ComparisonRecord struct {
	Name         string `csv:"name_plat" json:"name_plat"`
	Year         string `csv:"year_plat" json:"year_plat"`
	Quantity     string `csv:"quantity_plat" json:"quantity_plat"`
	Volume       string `csv:"volume_plat" json:"volume_plat"`
	PricePlat    string `csv:"price_plat" json:"price_plat"`
	PriceMain    string `csv:"price_main" json:"price_main"`
	PriceDiff    string `csv:"price_diff" json:"price_diff"`
	PriceDiffPct string `csv:"price_diff_pct" json:"price_diff_pct"`
	CheaperSide  string `csv:"cheaper_side" json:"cheaper_side"`
	URLPlat      string `csv:"url_plat" json:"url_plat"`
	URLMain      string `csv:"url_main" json:"url_main"`
}

// Clean trims every field.
func (c *ComparisonRecord) Clean() {
	c.Name = strings.TrimSpace(c.Name)
	c.Year = strings.TrimSpace(c.Year)
	c.Quantity = strings.TrimSpace(c.Quantity)
	c.Volume = strings.TrimSpace(c.Volume)
	c.PricePlat = strings.TrimSpace(c.PricePlat)
	c.PriceMain = strings.TrimSpace(c.PriceMain)
	c.PriceDiff = strings.TrimSpace(c.PriceDiff)
	c.PriceDiffPct = strings.TrimSpace(c.PriceDiffPct)
	c.CheaperSide = strings.TrimSpace(c.CheaperSide)
	c.URLPlat = strings.TrimSpace(c.URLPlat)
	c.URLMain = strings.TrimSpace(c.URLMain)
}

// RatingRecord is one rating-source row, from the base ratings file or
// from the overrides file.
type RatingRecord struct {
	WineName   string `csv:"wine_name" json:"wine_name"`
	MatchName  string `csv:"match_name,omitempty" json:"match_name,omitempty"`
	Rating     string `csv:"vivino_rating" json:"vivino_rating"`
	NumRatings string `csv:"vivino_num_ratings,omitempty" json:"vivino_num_ratings,omitempty"`
	Raters     string `csv:"vivino_raters,omitempty" json:"vivino_raters,omitempty"`
	Price      string `csv:"vivino_price,omitempty" json:"vivino_price,omitempty"`
	URL        string `csv:"vivino_url" json:"vivino_url"`
	Notes      string `csv:"notes,omitempty" json:"notes,omitempty"`
}

// Clean trims every field.
func (r *RatingRecord) Clean() {
	r.WineName = strings.TrimSpace(r.WineName)
	r.MatchName = strings.TrimSpace(r.MatchName)
	r.Rating = strings.TrimSpace(r.Rating)
	r.NumRatings = strings.TrimSpace(r.NumRatings)
	r.Raters = strings.TrimSpace(r.Raters)
	r.Price = strings.TrimSpace(r.Price)
	r.URL = strings.TrimSpace(r.URL)
	r.Notes = strings.TrimSpace(r.Notes)
}

// RatingCount returns vivino_num_ratings, falling back to the legacy
// vivino_raters column.
func (r RatingRecord) RatingCount() string {
	if r.NumRatings != "" {
		return r.NumRatings
	}
	return r.Raters
}

// HasRating reports whether the record carries a rating value or a rating
// count. A URL alone does not count.
func (r RatingRecord) HasRating() bool {
	return r.Rating != "" || r.RatingCount() != ""
}

// DisplayName prefers match_name over wine_name.
func (r RatingRecord) DisplayName() string {
	if r.MatchName != "" {
		return r.MatchName
	}
	return r.WineName
}

// OverrideRecord is an accepted or human-approved link keyed by the exact,
// untransformed catalog name.
type OverrideRecord struct {
	MatchName  string `csv:"match_name" json:"match_name"`
	WineName   string `csv:"wine_name" json:"wine_name"`
	Rating     string `csv:"vivino_rating" json:"vivino_rating"`
	NumRatings string `csv:"vivino_num_ratings" json:"vivino_num_ratings"`
	Price      string `csv:"vivino_price" json:"vivino_price"`
	URL        string `csv:"vivino_url" json:"vivino_url"`
	Notes      string `csv:"notes" json:"notes"`
}

// AsRating converts the override into a rating row for the catalog index.
func (o OverrideRecord) AsRating() RatingRecord {
	return RatingRecord{
		WineName:   o.WineName,
		MatchName:  o.MatchName,
		Rating:     o.Rating,
		NumRatings: o.NumRatings,
		Price:      o.Price,
		URL:        o.URL,
		Notes:      o.Notes,
	}
}
