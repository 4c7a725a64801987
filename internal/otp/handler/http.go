// Package handler exposes the OTP operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	auditdomain "github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
	"github.com/ShiroSan123/otp-valhalla/internal/otp/service"
)

// bodyOverhead is added to the report cap to bound whole request bodies.
const bodyOverhead = 4 << 10

// OTPService is the engine the handler drives. *service.Service implements it.
type OTPService interface {
	RequestOTP(ctx context.Context, in service.RequestInput) (*service.RequestResult, error)
	VerifyOTP(ctx context.Context, sessionID, code string) (*service.VerifyResult, error)
	ListRecentSessions(ctx context.Context, limit int) ([]*auditdomain.SessionRecord, error)
}

// Handler serves /api/otp.
type Handler struct {
	svc     OTPService
	logger  *zap.Logger
	maxBody int64
}

// NewHandler returns a Handler. reportMaxBytes bounds the request body together with a fixed overhead.
func NewHandler(svc OTPService, logger *zap.Logger, reportMaxBytes int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reportMaxBytes <= 0 {
		reportMaxBytes = 16 << 10
	}
	return &Handler{svc: svc, logger: logger.Named("http"), maxBody: int64(reportMaxBytes) + bodyOverhead}
}

// Routes mounts the OTP endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/request", h.RequestOTP)
	r.Post("/verify", h.VerifyOTP)
	r.Get("/sessions", h.ListSessions)
}

type requestOTPBody struct {
	Phone  string          `json:"phone"`
	Report json.RawMessage `json:"report,omitempty"`
}

type requestOTPResponse struct {
	Success          bool               `json:"success"`
	SessionID        string             `json:"sessionId"`
	ExpiresInSeconds int                `json:"expiresInSeconds"`
	Mock             bool               `json:"mock"`
	MockCode         string             `json:"mockCode,omitempty"`
	QR               *domain.QRArtifact `json:"qr,omitempty"`
}

type verifyOTPBody struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type verifyOTPResponse struct {
	Success             bool    `json:"success"`
	Phone               string  `json:"phone"`
	IdentityUserID      *string `json:"identityUserId"`
	IdentityUserCreated *bool   `json:"identityUserCreated"`
}

type listSessionsResponse struct {
	Success  bool                         `json:"success"`
	Sessions []*auditdomain.SessionRecord `json:"sessions"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RequestOTP handles POST /request.
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var body requestOTPBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.svc.RequestOTP(r.Context(), service.RequestInput{Phone: body.Phone, Report: body.Report})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, requestOTPResponse{
		Success:          true,
		SessionID:        res.SessionID,
		ExpiresInSeconds: res.ExpiresInSeconds,
		Mock:             res.Mock,
		MockCode:         res.MockCode,
		QR:               res.QR,
	})
}

// VerifyOTP handles POST /verify.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.svc.VerifyOTP(r.Context(), body.SessionID, body.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, verifyOTPResponse{
		Success:             res.Success,
		Phone:               res.Phone,
		IdentityUserID:      res.IdentityUserID,
		IdentityUserCreated: res.IdentityUserCreated,
	})
}

// ListSessions handles GET /sessions?limit=N. A missing or malformed limit uses the default.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.svc.ListRecentSessions(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*auditdomain.SessionRecord{}
	}
	render.JSON(w, r, listSessionsResponse{Success: true, Sessions: recs})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, domain.ErrReportTooLarge)
			return false
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

// writeError maps service errors to status codes. Only client errors and the audit-unavailable
// condition expose their text; everything else is logged and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsClientError(err):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAuditUnavailable):
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: "internal server error"})
	}
}
