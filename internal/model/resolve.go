package model

// MatchMethod tags how a catalog name was resolved against the rating index.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchCanonical MatchMethod = "canonical"
	MatchFuzzy     MatchMethod = "fuzzy"
	MatchNone      MatchMethod = "none"
)

// Decision classifies a resolution attempt for one unresolved row.
type Decision string

const (
	DecisionAutoAccept  Decision = "auto_accept"
	DecisionNeedsReview Decision = "needs_review"
	DecisionUnmatched   Decision = "unmatched"
	DecisionNoProvider  Decision = "no_provider"
)

// ReviewRow is one line of the review queue report.
type ReviewRow struct {
	WineName       string   `csv:"wine_name"`
	Year           string   `csv:"year"`
	Producer       string   `csv:"producer"`
	Label          string   `csv:"label"`
	Color          string   `csv:"color"`
	Query1         string   `csv:"query_1"`
	Query2         string   `csv:"query_2"`
	Query3         string   `csv:"query_3"`
	SearchURL      string   `csv:"vivino_search_url"`
	CandidateCount int      `csv:"candidate_count"`
	BestScore      string   `csv:"best_score"`
	SecondScore    string   `csv:"second_score"`
	BestTitle      string   `csv:"best_title"`
	BestURL        string   `csv:"best_url"`
	BestProvider   string   `csv:"best_provider"`
	BestQuery      string   `csv:"best_query"`
	Decision       Decision `csv:"decision"`
	Reason         string   `csv:"reason"`
}

// UnmatchedRow is one line of the unmatched report: everything that was not
// auto-accepted, with the source URLs for a human to follow.
type UnmatchedRow struct {
	WineName     string   `csv:"wine_name"`
	Year         string   `csv:"year"`
	Producer     string   `csv:"producer"`
	Label        string   `csv:"label"`
	PlatinumURL  string   `csv:"platinum_url"`
	GrandCruURL  string   `csv:"grand_cru_url"`
	Query1       string   `csv:"query_1"`
	Query2       string   `csv:"query_2"`
	Query3       string   `csv:"query_3"`
	SearchURL    string   `csv:"vivino_search_url"`
	BestScore    string   `csv:"best_score"`
	BestURL      string   `csv:"best_url"`
	BestProvider string   `csv:"best_provider"`
	Decision     Decision `csv:"decision"`
	Reason       string   `csv:"reason"`
}

// SearchHit is one raw web-search result before rating-URL normalization.
type SearchHit struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
