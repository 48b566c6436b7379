package models

import "time"

// ContentMeta is the denormalized metadata mirrored from the upstream platform
// onto a ContentVector row (§3 ContentVector).
type ContentMeta struct {
	Title       string    `json:"title,omitempty" db:"title"`
	CoverImage  string    `json:"cover_image,omitempty" db:"cover_image"`
	Author      string    `json:"author,omitempty" db:"author"`
	PublishTime time.Time `json:"publish_time,omitempty" db:"publish_time"`
	ContentType string    `json:"content_type,omitempty" db:"content_type"`
}

// ContentVector is the persisted per-item MBTI state (§3 ContentVector).
type ContentVector struct {
	ContentID   int64       `json:"content_id" db:"content_id"`
	Vector      MBTIVector  `json:"mbti_vector" db:"-"`
	TypeLabel   string      `json:"mbti_type,omitempty" db:"type_label"`
	Meta        ContentMeta `json:"meta"`
	ScoringMode string      `json:"scoring_method,omitempty" db:"scoring_method"`
	ScoringFailed bool      `json:"scoring_failed" db:"scoring_failed"`
	ToucherCount int64      `json:"toucher_count" db:"toucher_count"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// ArticleDetail is the shape of an upstream content item (§4.3, §6).
type ArticleDetail struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CoverImage   string    `json:"cover_image"`
	ContentText  string    `json:"content_text"`
	ImageURLs    []string  `json:"image_urls,omitempty"`
	Author       string    `json:"author"`
	PublishTime  time.Time `json:"publish_time"`
	State        string    `json:"state"`
	AuditState   string    `json:"audit_state"`
	ContentType  string    `json:"content_type,omitempty"`
	SiteID       int64     `json:"site_id,omitempty"`
	CategoryID   int64     `json:"category_id,omitempty"`
	Recommendable bool     `json:"recommendable"`
}

// ArticleFilters narrow an upstream ListArticles call (§4.3).
type ArticleFilters struct {
	OnShelf    *bool
	SiteID     *int64
	CategoryID *int64
}
