package models

import "time"

// RecommendedItem is one entry of a recommendation response (§3, §4.6).
type RecommendedItem struct {
	ContentID  int64          `json:"content_id"`
	Similarity float64        `json:"similarity_score"`
	Source     string         `json:"source,omitempty"` // "", "upstream_direct", "pending_score"
	Content    *ArticleDetail `json:"content,omitempty"`
}

// RecommendationMetadata carries the flags §4.6 and §8 scenarios depend on.
type RecommendationMetadata struct {
	Page                    int     `json:"page"`
	Limit                   int     `json:"limit"`
	TotalCandidatesExamined int     `json:"total_candidates_examined"`
	AverageSimilarity       float64 `json:"average_similarity"`
	ThresholdRelaxed        bool    `json:"threshold_relaxed"`
	ContentDetailsAttached  bool    `json:"content_details_attached"`
	ColdStart               bool    `json:"cold_start"`
}

// RecommendationResponse is the payload of GET /api/v1/recommendations/{user_id}.
type RecommendationResponse struct {
	UserID          int64                   `json:"user_id"`
	UserMBTI        *string                 `json:"user_mbti"`
	Recommendations []RecommendedItem       `json:"recommendations"`
	RecommendationsCount int                `json:"recommendations_count"`
	Metadata        RecommendationMetadata  `json:"metadata"`
}

// RecommendationLog is the append-only audit record of §3.
type RecommendationLog struct {
	ID                 int64     `json:"id" db:"id"`
	UserID              int64     `json:"user_id" db:"user_id"`
	ContentIDs          []int64   `json:"content_ids" db:"content_ids"`
	Similarities        []float64 `json:"similarities" db:"similarities"`
	Limit               int       `json:"limit" db:"param_limit"`
	Threshold           float64   `json:"threshold" db:"param_threshold"`
	ContentTypeFilter   string    `json:"content_type_filter,omitempty" db:"content_type_filter"`
	TotalCandidates     int       `json:"total_candidates_examined" db:"total_candidates"`
	AverageSimilarity   float64   `json:"average_similarity" db:"average_similarity"`
	UserVectorSnapshot  MBTIVector `json:"user_vector_snapshot" db:"-"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// RecommendationRequest captures the parsed query params of §4.6/§6.
type RecommendationRequest struct {
	UserID              int64
	Page                *int
	Limit               int
	ContentType         string
	SimilarityThreshold float64
	ExcludeViewed       bool
	FreshDays           int
	IncludeContentDetails bool
	AutoPage            bool
}
