package handlers

import (
	"net/http"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/models"
	"github.com/go-chi/chi/v5"
)

var ErrMissingLicenseID = apperr.New(apperr.InvalidInput, "INVALID_INPUT", "licenseId is required")

type PurchaseRequest struct {
	UserID      string `json:"userId"`
	LicenseType string `json:"licenseType" validate:"required"`
}

type ActivateRequest struct {
	UserID     string `json:"userId"`
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
}

type LeaveRequest struct {
	UserID    string `json:"userId"`
	LicenseID string `json:"licenseId" validate:"required"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active expired revoked"`
}

type SuccessResponse struct {
	Success bool            `json:"success"`
	License *models.License `json:"license,omitempty"`
}

func (s *Server) LicenseCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"licenses": s.Prices.Catalog()})
}

func (s *Server) PurchaseLicense(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	uid, err := resolveUser(r, req.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	res, err := s.Licenses.Purchase(r.Context(), uid, req.LicenseType)
	if err != nil {
		renderError(w, r, err)
		return
	}
	// Contact-sales answers are a normal outcome, not a failure.
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	uid, err := resolveUser(r, req.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	license, err := s.Licenses.Activate(r.Context(), uid, req.LicenseKey)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, SuccessResponse{Success: true, License: license})
}

func (s *Server) LeaveLicense(w http.ResponseWriter, r *http.Request) {
	var req LeaveRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	uid, err := resolveUser(r, req.UserID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	if err := s.Licenses.Leave(r.Context(), uid, req.LicenseID); err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) RemoveLicenseMember(w http.ResponseWriter, r *http.Request) {
	licenseID := chi.URLParam(r, "licenseID")
	memberID := chi.URLParam(r, "userID")

	if err := s.Licenses.RemoveMember(r.Context(), sessionUser(r), licenseID, memberID); err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) CheckLicense(w http.ResponseWriter, r *http.Request) {
	status, err := s.Licenses.CheckStatus(r.Context(), sessionUser(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) ListLicenseUsers(w http.ResponseWriter, r *http.Request) {
	licenseID := r.URL.Query().Get("licenseId")
	if licenseID == "" {
		renderError(w, r, ErrMissingLicenseID)
		return
	}

	roster, err := s.Licenses.ListUsers(r.Context(), sessionUser(r), licenseID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, roster)
}

func (s *Server) SetLicenseStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}

	license, err := s.Licenses.SetStatus(r.Context(), chi.URLParam(r, "licenseID"), req.Status)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, SuccessResponse{Success: true, License: license})
}
