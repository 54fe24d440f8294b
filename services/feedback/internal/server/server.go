package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"truefeedback/internal/util"
	"truefeedback/pkg/domain"
	"truefeedback/services/feedback/internal/app"
	"truefeedback/services/feedback/internal/security"
)

// Limiter admits or rejects a request identified by key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	Alerter        *security.AuditAlerter

	// Optional per-route limiters; nil disables limiting for that route.
	SignupLimiter Limiter
	VerifyLimiter Limiter
	LoginLimiter  Limiter
}

// Server exposes the feedback HTTP API.
type Server struct {
	app      *app.App
	mux      *http.ServeMux
	validate *validator.Validate
	origins  []string
	trusted  *util.TrustedProxies
	alerter  *security.AuditAlerter

	signupLimiter Limiter
	verifyLimiter Limiter
	loginLimiter  Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		mux:           http.NewServeMux(),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		origins:       cfg.AllowedOrigins,
		trusted:       cfg.TrustedProxies,
		alerter:       cfg.Alerter,
		signupLimiter: cfg.SignupLimiter,
		verifyLimiter: cfg.VerifyLimiter,
		loginLimiter:  cfg.LoginLimiter,
	}
	s.routes()
	return s
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("feedback",
			util.WithSecurityHeaders(
				util.WithCORS(s.origins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// signup and sessions
	s.mux.HandleFunc("POST /api/sign-up", s.limited(security.EventSignUp, s.signupLimiter, s.handleSignUp))
	s.mux.HandleFunc("POST /api/verify-code", s.limited(security.EventVerifyCode, s.verifyLimiter, s.handleVerifyCode))
	s.mux.HandleFunc("GET /api/check-username-unique", s.handleCheckUsername)
	s.mux.HandleFunc("POST /api/sign-in", s.limited(security.EventSignIn, s.loginLimiter, s.handleSignIn))
	s.mux.HandleFunc("POST /api/sign-out", s.handleSignOut)

	// public
	s.mux.HandleFunc("POST /api/send-message", s.handleSendMessage)
	s.mux.HandleFunc("GET /api/profile/{username}", s.handleProfile)

	// dashboard
	s.mux.Handle("GET /api/accept-messages", s.authenticated(s.handleGetAccepting))
	s.mux.Handle("POST /api/accept-messages", s.authenticated(s.handleSetAccepting))
	s.mux.Handle("GET /api/get-messages", s.authenticated(s.handleGetMessages))
	s.mux.Handle("DELETE /api/delete-message/{id}", s.authenticated(s.handleDeleteMessage))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.Session)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		sess, err := s.app.SessionFromToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, sess)
	})
}

func (s *Server) limited(event string, limiter Limiter, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := util.ClientIP(r, s.trusted)
		if !limiter.Allow(r.Context(), r.URL.Path+"|"+ip) {
			s.audit(r, event, security.OutcomeRateLimited, ip)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		next(w, r)
	}
}

// signup and sessions

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.app.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		s.audit(r, security.EventSignUp, security.OutcomeFail, util.ClientIP(r, s.trusted))
		s.fail(w, r, err)
		return
	}
	s.audit(r, security.EventSignUp, security.OutcomeSuccess, req.Username)
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "User registered successfully. Please verify your email",
	})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.app.Verify(r.Context(), req.Username, req.Code); err != nil {
		if errors.Is(err, app.ErrCodeMismatch) || errors.Is(err, app.ErrCodeExpired) {
			s.audit(r, security.EventVerifyCode, security.OutcomeFail, req.Username)
		}
		s.fail(w, r, err)
		return
	}
	s.audit(r, security.EventVerifyCode, security.OutcomeSuccess, req.Username)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Account verified successfully"})
}

func (s *Server) handleCheckUsername(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	free, err := s.app.UsernameAvailable(r.Context(), username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !free {
		writeError(w, http.StatusConflict, "Username is already taken")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Username is unique"})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !s.decode(w, r, &req) {
		return
	}
	acct, token, expiresAt, err := s.app.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) || errors.Is(err, app.ErrNotVerified) {
			s.audit(r, security.EventSignIn, security.OutcomeFail, util.ClientIP(r, s.trusted))
		}
		s.fail(w, r, err)
		return
	}
	s.audit(r, security.EventSignIn, security.OutcomeSuccess, acct.ID)
	writeJSON(w, http.StatusOK, signInResponse{
		envelope:   envelope{Success: true, Message: "Signed in"},
		Token:      token,
		ExpiresAt:  expiresAt,
		User:       acct,
		ProfileURL: s.app.ProfileURL(acct.Username),
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Signed out"})
}

// public

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.app.Submit(r.Context(), req.Username, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendMessageResponse{
		envelope:  envelope{Success: true, Message: "Message sent successfully"},
		MessageID: id,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	acct, err := s.app.Profile(r.Context(), r.PathValue("username"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	accepting := acct.IsAcceptingMessages
	writeJSON(w, http.StatusOK, profileResponse{
		envelope: envelope{Success: true, Message: "Profile found", IsAcceptingMessages: &accepting},
		Username: acct.Username,
	})
}

// dashboard

func (s *Server) handleGetAccepting(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	accepting, err := s.app.GetAcceptingState(r.Context(), sess, sess.AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Accepting state loaded", IsAcceptingMessages: &accepting})
}

func (s *Server) handleSetAccepting(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req acceptMessagesRequest
	if !s.decode(w, r, &req) {
		return
	}
	acct, err := s.app.SetAcceptingState(r.Context(), sess, sess.AccountID, *req.AcceptMessages)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	accepting := acct.IsAcceptingMessages
	writeJSON(w, http.StatusOK, envelope{
		Success:             true,
		Message:             "Message acceptance status updated successfully",
		IsAcceptingMessages: &accepting,
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	msgs, err := s.app.ListMessages(r.Context(), sess, sess.AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{
		envelope: envelope{Success: true, Message: "Messages loaded"},
		Messages: msgs,
	})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if err := s.app.DeleteMessage(r.Context(), sess, sess.AccountID, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Message deleted"})
}

// helpers

// audit logs a security event and raises a security_alert once failures for
// subject cross the alerter's threshold.
func (s *Server) audit(r *http.Request, event, outcome, subject string) {
	logger := util.LoggerFromContext(r.Context())
	attrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"ip", util.ClientIP(r, s.trusted),
	}
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", attrs...)
		return
	}
	logger.Warn("security_event", attrs...)
	if s.alerter == nil {
		return
	}
	result, err := s.alerter.Observe(r.Context(), event, outcome, subject)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert", append(attrs,
			"subject", subject,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)...)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	default:
		return field + " is invalid"
	}
}

// fail maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported without internal detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, msg)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), app.ErrValidation.Error()+": ")
	case errors.Is(err, app.ErrEmptyContent), errors.Is(err, app.ErrCodeMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrUnauthorized), errors.Is(err, app.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, app.ErrNotVerified), errors.Is(err, app.ErrMessagesNotAccepted):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, app.ErrNotFound), errors.Is(err, app.ErrRecipientNotFound), errors.Is(err, app.ErrMessageNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, app.ErrDuplicateUsername), errors.Is(err, app.ErrDuplicateEmail):
		return http.StatusConflict, err.Error()
	case errors.Is(err, app.ErrCodeExpired):
		return http.StatusGone, err.Error()
	case errors.Is(err, app.ErrTimeout):
		return http.StatusGatewayTimeout, app.ErrTimeout.Error()
	case errors.Is(err, app.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, app.ErrStorageUnavailable.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

type envelope struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	IsAcceptingMessages *bool  `json:"isAcceptingMessages,omitempty"`
}

type signUpRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyCodeRequest struct {
	Username string `json:"username" validate:"required"`
	Code     string `json:"code" validate:"required,numeric"`
}

type signInRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type signInResponse struct {
	envelope
	Token      string         `json:"token"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	User       domain.Account `json:"user"`
	ProfileURL string         `json:"profileUrl"`
}

type sendMessageRequest struct {
	Username string `json:"username" validate:"required"`
	Content  string `json:"content"`
}

type sendMessageResponse struct {
	envelope
	MessageID string `json:"messageId"`
}

type profileResponse struct {
	envelope
	Username string `json:"username"`
}

type acceptMessagesRequest struct {
	AcceptMessages *bool `json:"acceptMessages" validate:"required"`
}

type messagesResponse struct {
	envelope
	Messages []domain.Message `json:"messages"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}
