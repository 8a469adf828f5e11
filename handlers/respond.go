package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const maxRequestBytes = 1 << 20

var (
	ErrInvalidBody  = apperr.New(apperr.InvalidInput, "INVALID_BODY", "Request body must be valid JSON")
	ErrUserMismatch = apperr.New(apperr.Forbidden, "USER_MISMATCH", "Request user does not match the session")
	ErrRateLimited  = apperr.New(apperr.RateLimited, "RATE_LIMITED", "Too many attempts, try again later")
)

// ErrResponse is the JSON error body.
type ErrResponse struct {
	HTTPStatusCode int `json:"-"`

	Message         string `json:"error"`
	Code            string `json:"code,omitempty"`
	RequiresContact bool   `json:"requiresContact,omitempty"`

	// Upsell hints for license-gated content.
	Decision    string `json:"decision,omitempty"`
	PurchaseURL string `json:"purchaseUrl,omitempty"`
	ActivateURL string `json:"activateUrl,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

const (
	purchasePath = "/api/v1/licenses/purchase"
	activatePath = "/api/v1/licenses/activate"
)

// renderError maps err onto a status code. Store and gateway failures are
// logged and reported with a generic message.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, errorResponse(r, err))
}

func errorResponse(r *http.Request, err error) *ErrResponse {
	kind := apperr.KindOf(err)
	resp := &ErrResponse{HTTPStatusCode: apperr.HTTPStatus(kind)}

	if !apperr.Public(err) {
		logger.Error("Request failed", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
			"error":      err.Error(),
		})
		captureException(r, err)
		resp.Message = "Something went wrong, please try again"
		resp.Code = "INTERNAL_ERROR"
		return resp
	}

	var e *apperr.Error
	errors.As(err, &e)
	resp.Message = e.Message
	resp.Code = e.Code
	if kind == apperr.LicenseRequired {
		resp.PurchaseURL = purchasePath
		resp.ActivateURL = activatePath
	}
	return resp
}

func captureException(r *http.Request, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	logger.Warn("Rate limit exceeded", map[string]interface{}{
		"path":      r.URL.Path,
		"client_ip": r.RemoteAddr,
	})
	renderError(w, r, ErrRateLimited)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return apperr.Wrap(ErrInvalidBody, err)
	}

	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return apperr.New(apperr.InvalidInput, "INVALID_INPUT", describe(fieldErrs[0]))
		}
		return apperr.Wrap(ErrInvalidBody, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain only digits", fe.Field())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
