package upstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mbti-rec/server/pkg/models"
)

type articleDTO struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	CoverImage  string   `json:"coverImage"`
	ContentText string   `json:"content"`
	ImageURLs   []string `json:"imageUrls"`
	Author      string   `json:"author"`
	PublishTime int64    `json:"publishTime"` // unix millis
	State       string   `json:"state"`
	AuditState  string   `json:"auditState"`
	ContentType string   `json:"contentType"`
	SiteID      int64    `json:"siteId"`
	CategoryID  int64    `json:"categoryId"`
}

func (d articleDTO) toDetail() *models.ArticleDetail {
	detail := &models.ArticleDetail{
		ID:          d.ID,
		Title:       d.Title,
		CoverImage:  d.CoverImage,
		ContentText: d.ContentText,
		ImageURLs:   d.ImageURLs,
		Author:      d.Author,
		State:       d.State,
		AuditState:  d.AuditState,
		ContentType: d.ContentType,
		SiteID:      d.SiteID,
		CategoryID:  d.CategoryID,
	}
	if d.PublishTime > 0 {
		detail.PublishTime = time.UnixMilli(d.PublishTime)
	}
	detail.Recommendable = Recommendable(detail)
	return detail
}

type listArticlesResponse struct {
	Code int `json:"code"`
	Data struct {
		List  []articleDTO `json:"list"`
		Total int          `json:"total"`
	} `json:"data"`
	Msg string `json:"msg"`
}

// ListArticles returns a page of the upstream article list with a stable
// ordering, disabling the upstream's own personalization so successive calls
// don't collapse to identical results (§4.3).
func (c *Client) ListArticles(ctx context.Context, page, size int, filters models.ArticleFilters) ([]*models.ArticleDetail, int, error) {
	params := map[string]string{
		"pageNum":  strconv.Itoa(page),
		"pageSize": strconv.Itoa(size),
	}
	if c.cfg.DisablePersonalization {
		params["aiRec"] = "false"
	}
	if filters.SiteID != nil {
		params["siteId"] = strconv.FormatInt(*filters.SiteID, 10)
	}
	if filters.CategoryID != nil {
		params["categoryId"] = strconv.FormatInt(*filters.CategoryID, 10)
	}
	if filters.OnShelf != nil && *filters.OnShelf {
		params["state"] = "OnShelf"
	}

	query := buildQuery(params)
	relativePath := "/app/api/content/article/list"
	if query != "" {
		relativePath += "?" + query
	}

	var resp listArticlesResponse
	if err := c.requestJSON(ctx, "GET", relativePath, nil, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Code != 200 {
		return nil, 0, fmt.Errorf("list articles rejected: %s", resp.Msg)
	}

	items := make([]*models.ArticleDetail, 0, len(resp.Data.List))
	for _, dto := range resp.Data.List {
		items = append(items, dto.toDetail())
	}
	return items, resp.Data.Total, nil
}

type articleDetailResponse struct {
	Code int        `json:"code"`
	Data articleDTO `json:"data"`
	Msg  string      `json:"msg"`
}

// GetArticle fetches a single content item's full detail (§4.3).
func (c *Client) GetArticle(ctx context.Context, id int64) (*models.ArticleDetail, error) {
	relativePath := fmt.Sprintf("/app/api/content/article/%d", id)

	var resp articleDetailResponse
	if err := c.requestJSON(ctx, "GET", relativePath, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("get article %d rejected: %s", id, resp.Msg)
	}
	return resp.Data.toDetail(), nil
}

// GetArticlesBatch fetches several content items individually, splitting the
// results into found and missing_ids (§4.3). The upstream offers no native
// batch endpoint, so this issues one GetArticle per id — acceptable given the
// batch sizes the scoring engine and ingestion workers use (§4.4, §4.7).
func (c *Client) GetArticlesBatch(ctx context.Context, ids []int64) (found []*models.ArticleDetail, missing []int64, err error) {
	for _, id := range ids {
		detail, fetchErr := c.GetArticle(ctx, id)
		if fetchErr != nil {
			c.logger.WithError(fetchErr).WithField("content_id", id).Warn("failed to fetch article in batch")
			missing = append(missing, id)
			continue
		}
		found = append(found, detail)
	}
	return found, missing, nil
}

// Recommendable implements the §4.3 eligibility predicate: non-empty title,
// a cover image, state=OnShelf, audit_state=Pass, and at least one of
// {non-empty body text, image list, title+cover}.
func Recommendable(a *models.ArticleDetail) bool {
	if strings.TrimSpace(a.Title) == "" {
		return false
	}
	if strings.TrimSpace(a.CoverImage) == "" {
		return false
	}
	if a.State != "OnShelf" || a.AuditState != "Pass" {
		return false
	}
	hasBody := strings.TrimSpace(a.ContentText) != ""
	hasImages := len(a.ImageURLs) > 0
	hasTitleAndCover := true // title and cover are already required above
	return hasBody || hasImages || hasTitleAndCover
}
