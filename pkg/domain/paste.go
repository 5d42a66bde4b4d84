package domain

import (
	"time"
)

const (
	ReasonTime  = "time"
	ReasonViews = "views"
)

// Paste is the stored entity. ExpiresAt nil means no time limit,
// MaxViews nil means unlimited views.
type Paste struct {
	ID        int64      `json:"-"`
	Slug      string     `json:"slug"`
	Content   string     `json:"content"`
	Title     string     `json:"title,omitempty"`
	Syntax    string     `json:"syntax"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	MaxViews  *int       `json:"max_views"`
	ViewCount int        `json:"view_count"`
}

type CreateParams struct {
	Content  string
	Title    string
	Syntax   string
	TTL      time.Duration
	MaxViews int
}

// PasteView is what a consuming read returns. RemainingViews is computed
// after the view that produced it; WillExpireAfterView is true when that
// view was the last one allowed.
type PasteView struct {
	Slug                string     `json:"slug"`
	Content             string     `json:"content"`
	Title               string     `json:"title,omitempty"`
	Syntax              string     `json:"syntax"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           *time.Time `json:"expires_at"`
	ViewCount           int        `json:"view_count"`
	RemainingViews      *int       `json:"remaining_views"`
	WillExpireAfterView bool       `json:"will_expire_after_view"`
}

func (p *Paste) ExpiredByTime(now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return !now.Before(*p.ExpiresAt)
}

func (p *Paste) ExpiredByViews() bool {
	if p.MaxViews == nil {
		return false
	}
	return p.ViewCount >= *p.MaxViews
}

func (p *Paste) Unavailable(now time.Time) bool {
	return p.ExpiredByTime(now) || p.ExpiredByViews()
}

// BurnReason reports why a paste is unavailable, or "" if it is still live.
// Time expiry wins when both limits are hit.
func (p *Paste) BurnReason(now time.Time) string {
	if p.ExpiredByTime(now) {
		return ReasonTime
	}
	if p.ExpiredByViews() {
		return ReasonViews
	}
	return ""
}

func (p *Paste) RemainingViews() *int {
	if p.MaxViews == nil {
		return nil
	}
	remaining := *p.MaxViews - p.ViewCount
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// View builds the consuming-read response for a post-increment snapshot.
func (p *Paste) View() *PasteView {
	return &PasteView{
		Slug:                p.Slug,
		Content:             p.Content,
		Title:               p.Title,
		Syntax:              p.Syntax,
		CreatedAt:           p.CreatedAt,
		ExpiresAt:           p.ExpiresAt,
		ViewCount:           p.ViewCount,
		RemainingViews:      p.RemainingViews(),
		WillExpireAfterView: p.MaxViews != nil && p.ViewCount >= *p.MaxViews,
	}
}
