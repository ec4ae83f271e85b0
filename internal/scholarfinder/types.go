package scholarfinder

// Validation status values reported by the remote service
const (
	ValidationInProgress = "in_progress"
	ValidationCompleted  = "completed"
	ValidationFailed     = "failed"
)

// Database search status values, per searched database
const (
	SearchSuccess    = "success"
	SearchFailed     = "failed"
	SearchInProgress = "in_progress"
)

// Metadata is the manuscript metadata extracted by the remote service on
// upload. The same shape is returned by the metadata_extraction endpoint.
type Metadata struct {
	JobID        string            `json:"job_id"`
	FileName     string            `json:"file_name,omitempty"`
	Heading      string            `json:"heading"`
	Authors      []string          `json:"authors"`
	Affiliations []string          `json:"affiliations"`
	Keywords     string            `json:"keywords"`
	Abstract     string            `json:"abstract"`
	AuthorAffMap map[string]string `json:"author_aff_map"`
}

// KeywordEnhancement carries the MeSH-derived and focus keyword sets
type KeywordEnhancement struct {
	JobID                       string   `json:"job_id"`
	MeshTerms                   []string `json:"mesh_terms"`
	BroaderTerms                []string `json:"broader_terms"`
	PrimaryFocus                []string `json:"primary_focus"`
	SecondaryFocus              []string `json:"secondary_focus"`
	AdditionalPrimaryKeywords   []string `json:"additional_primary_keywords,omitempty"`
	AdditionalSecondaryKeywords []string `json:"additional_secondary_keywords,omitempty"`
	AllPrimaryKeywords          []string `json:"all_primary_focus_list,omitempty"`
	AllSecondaryKeywords        []string `json:"all_secondary_focus_list,omitempty"`
}

// KeywordString is the combined boolean search string built from selected
// primary/secondary keywords
type KeywordString struct {
	JobID                 string   `json:"job_id"`
	SearchString          string   `json:"search_string"`
	PrimaryKeywordsUsed   []string `json:"primary_keywords_used"`
	SecondaryKeywordsUsed []string `json:"secondary_keywords_used"`
}

// SearchResults summarizes a literature database search
type SearchResults struct {
	JobID             string            `json:"job_id"`
	TotalReviewers    int               `json:"total_reviewers"`
	DatabasesSearched []string          `json:"databases_searched"`
	SearchStatus      map[string]string `json:"search_status"`
}

// FoundAuthor is a single author located by a manual name search
type FoundAuthor struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Affiliation string `json:"affiliation"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`
}

// ManualAuthorResult is the outcome of a manual author search
type ManualAuthorResult struct {
	FoundAuthors []FoundAuthor `json:"found_authors"`
	SearchTerm   string        `json:"search_term"`
	TotalFound   int           `json:"total_found"`
}

// ValidationSummary is present once validation completes
type ValidationSummary struct {
	TotalAuthors     int    `json:"total_authors"`
	AuthorsValidated int    `json:"authors_validated"`
	Message          string `json:"message,omitempty"`
}

// ValidationStatus is the shape returned both by the validation start call
// and by every poll of validation_status. Progress fields are a feed for
// display, not only a completion check.
type ValidationStatus struct {
	JobID                   string             `json:"job_id"`
	Status                  string             `json:"validation_status"`
	ProgressPercentage      int                `json:"progress_percentage"`
	AuthorsProcessed        int                `json:"authors_processed"`
	EstimatedCompletionTime string             `json:"estimated_completion_time,omitempty"`
	ValidationCriteria      []string           `json:"validation_criteria,omitempty"`
	Summary                 *ValidationSummary `json:"summary,omitempty"`
	Error                   string             `json:"error,omitempty"`
}

// Terminal reports whether the status is completed or failed
func (v *ValidationStatus) Terminal() bool {
	return v.Status == ValidationCompleted || v.Status == ValidationFailed
}

// ReviewerCriteria is the fixed set of eight validation conditions, each
// 0 or 1 as scored by the remote service
type ReviewerCriteria struct {
	Publications10Years       int `json:"no_of_pub_condition_10_years"`
	RelevantPublications5Yrs  int `json:"no_of_pub_condition_5_years"`
	Publications2Years        int `json:"no_of_pub_condition_2_years"`
	EnglishPublicationShare   int `json:"english_condition"`
	NoCoauthorship            int `json:"coauthor_condition"`
	NoAffiliationConflict     int `json:"aff_condition"`
	CountryMatch              int `json:"country_match_condition"`
	AcceptableRetractionCount int `json:"retracted_condition"`
}

// Reviewer is a validated candidate reviewer with its condition score
type Reviewer struct {
	Name                string           `json:"reviewer"`
	Email               string           `json:"email"`
	Affiliation         string           `json:"aff"`
	Country             string           `json:"country,omitempty"`
	ConditionsMet       int              `json:"conditions_met"`
	ConditionsSatisfied string           `json:"conditions_satisfied,omitempty"`
	Criteria            ReviewerCriteria `json:"criteria"`
}

// Recommendations is the final reviewer list for a completed validation.
// Reviewers are presented sorted by ConditionsMet descending; ties keep the
// server's order.
type Recommendations struct {
	JobID             string             `json:"job_id"`
	Reviewers         []Reviewer         `json:"reviewers"`
	TotalCount        int                `json:"total_count"`
	ValidationSummary *ValidationSummary `json:"validation_summary,omitempty"`
}
