package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound   = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrContentRequired = NewErr("CONTENT_REQUIRED", "content is required and must be a non-empty string", http.StatusBadRequest)
	ErrPasteTooLarge   = NewErr("PASTE_TOO_LARGE", "content exceeds maximum size", http.StatusBadRequest)
	ErrInvalidTTL      = NewErr("INVALID_TTL", "ttl_seconds must be an integer >= 1", http.StatusBadRequest)
	ErrInvalidMaxViews = NewErr("INVALID_MAX_VIEWS", "max_views must be an integer >= 1", http.StatusBadRequest)
	ErrInvalidRequest  = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrSlugGeneration  = NewErr("SLUG_GENERATION_FAILED", "failed to generate unique slug", http.StatusInternalServerError)
	ErrInternalServer  = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string                 `json:"code"`
	Msg    string                 `json:"message"`
	Status int                    `json:"-"`
	Meta   map[string]interface{} `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// GoneErr marks a paste as irreversibly burned, carrying the machine-readable
// reason ("time" or "views") the detecting request surfaces as 410.
func GoneErr(reason string) *Err {
	msg := "paste has expired"
	if reason == ReasonViews {
		msg = "paste has been burned after reaching maximum views"
	}
	return &Err{
		Code:   "PASTE_GONE",
		Msg:    msg,
		Status: http.StatusGone,
		Meta:   map[string]interface{}{"expired": true, "reason": reason},
	}
}

func IsGone(err error) bool {
	if e, ok := asErr(err); ok {
		return e.Code == "PASTE_GONE"
	}
	return false
}

type ErrResp struct {
	Error     ErrDetail `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func asErr(err error) (*Err, bool) {
	if e, ok := err.(*Err); ok {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}

func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg, Meta: e.Meta}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
