package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"quickbin/cfg"
	"quickbin/pkg/clock"
	"quickbin/pkg/domain"
	"quickbin/svc/svc"
	"quickbin/svc/util"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
	clock *clock.RequestClock
}

type CreateReq struct {
	Content    string `json:"content"`
	Title      string `json:"title,omitempty"`
	Syntax     string `json:"syntax,omitempty"`
	TTLSeconds *int64 `json:"ttl_seconds,omitempty"`
	MaxViews   *int   `json:"max_views,omitempty"`
}

type CreateResp struct {
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at"`
	MaxViews  *int       `json:"max_views"`
}

type MetaResp struct {
	Slug           string     `json:"slug"`
	Available      bool       `json:"available"`
	Title          string     `json:"title,omitempty"`
	Syntax         string     `json:"syntax"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	MaxViews       *int       `json:"max_views"`
	ViewCount      int        `json:"view_count"`
	RemainingViews *int       `json:"remaining_views"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxContentSize*2)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if req.TTLSeconds != nil && *req.TTLSeconds < 1 {
		log.Warn().Int64("ttl_seconds", *req.TTLSeconds).Msg("invalid ttl")
		writeErr(w, domain.ErrInvalidTTL, requestID)
		return
	}
	if req.MaxViews != nil && *req.MaxViews < 1 {
		log.Warn().Int("max_views", *req.MaxViews).Msg("invalid max_views")
		writeErr(w, domain.ErrInvalidMaxViews, requestID)
		return
	}

	params := domain.CreateParams{
		Content: req.Content,
		Title:   req.Title,
		Syntax:  req.Syntax,
	}
	if req.TTLSeconds != nil {
		params.TTL = time.Duration(*req.TTLSeconds) * time.Second
	}
	if req.MaxViews != nil {
		params.MaxViews = *req.MaxViews
	}

	now := h.clock.FromRequest(r)
	paste, err := h.paste.Create(r.Context(), params, now)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("slug", paste.Slug).
		Bool("has_ttl", paste.ExpiresAt != nil).
		Bool("has_view_limit", paste.MaxViews != nil).
		Msg("paste created")
	resp := CreateResp{
		Slug:      paste.Slug,
		URL:       h.pasteURL(r, paste.Slug),
		ExpiresAt: paste.ExpiresAt,
		MaxViews:  paste.MaxViews,
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *Hdl) ConsumePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	now := h.clock.FromRequest(r)
	view, err := h.paste.Consume(r.Context(), slug, now)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) || domain.IsGone(err) {
			log.Info().Str("slug", slug).Msg("paste unavailable")
		} else {
			log.Error().Err(err).Str("slug", slug).Msg("consume failed")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("slug", slug).
		Int("view_count", view.ViewCount).
		Bool("last_view", view.WillExpireAfterView).
		Msg("paste viewed")
	json.NewEncoder(w).Encode(view)
}

func (h *Hdl) StatPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	now := h.clock.FromRequest(r)
	paste, err := h.paste.Stat(r.Context(), slug, now)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(MetaResp{
		Slug:           paste.Slug,
		Available:      true,
		Title:          paste.Title,
		Syntax:         paste.Syntax,
		CreatedAt:      paste.CreatedAt,
		ExpiresAt:      paste.ExpiresAt,
		MaxViews:       paste.MaxViews,
		ViewCount:      paste.ViewCount,
		RemainingViews: paste.RemainingViews(),
	})
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.paste.Delete(r.Context(), slug); err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			log.Error().Err(err).Str("slug", slug).Msg("failed to delete paste")
		}
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

// pasteURL builds the shareable link: configured BASE_URL wins, then the
// request origin, then the bare host the request arrived on.
func (h *Hdl) pasteURL(r *http.Request, slug string) string {
	base := h.cfg.BaseURL
	if base == "" {
		base = r.Header.Get("Origin")
	}
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/p/" + slug
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	resp.RequestID = requestID
	if statusCode >= 500 {
		resp.Error.Msg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
