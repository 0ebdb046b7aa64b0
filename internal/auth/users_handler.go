package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/harborarts/member-api/internal/account"
	"github.com/harborarts/member-api/internal/httputil"
	"github.com/harborarts/member-api/internal/logging"
)

// ProfileStore is the account store surface the user endpoints need
// beyond the credential flows.
type ProfileStore interface {
	GetByID(ctx context.Context, id int64) (*account.Account, error)
	UpdateProfile(ctx context.Context, id int64, upd account.ProfileUpdate) (*account.Account, error)
	Delete(ctx context.Context, id int64) error
}

// UsersHandler contains HTTP handlers for member profile management.
type UsersHandler struct {
	service  *Service
	profiles ProfileStore
	logger   *logging.Logger
}

func NewUsersHandler(service *Service, profiles ProfileStore, logger *logging.Logger) *UsersHandler {
	return &UsersHandler{
		service:  service,
		profiles: profiles,
		logger:   logger,
	}
}

// UpdateUserRequest is a partial profile update. A changed email value
// redirects the whole request into the pending-email-change path.
type UpdateUserRequest struct {
	Name             *string `json:"name"`
	Email            *string `json:"email"`
	Phone            *string `json:"phone"`
	EmailOptIn       *bool   `json:"emailOptIn"`
	InstructorNumber *string `json:"instructorNumber"`
	Role             *string `json:"role"`
	Status           *string `json:"status"`
}

// ChangePasswordRequest is the authenticated password change body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UserResponse wraps a sanitized account view.
type UserResponse struct {
	User *account.Account `json:"user"`
}

// GetMe returns the session subject's account
// @Summary      Current member
// @Description  Return the sanitized account for the session subject
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} UserResponse
// @Failure      401 {object} httputil.ErrorResponse
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /users/me [get]
func (h *UsersHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	accountID, ok := GetAccountIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	current, err := h.profiles.GetByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			respondError(w, "account not found", httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logger.Error("failed to load account", "account_id", accountID, "error", err.Error())
		respondError(w, "failed to load account", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, UserResponse{User: current}, http.StatusOK)
}

// Update handles profile updates, including pending email changes
// @Summary      Update member profile
// @Description  Apply profile fields, or begin a pending email change when the email differs
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Account ID"
// @Param        request body UpdateUserRequest true "Fields to update"
// @Success      200 {object} UserResponse "Updated account, or emailChangePending"
// @Failure      400 {object} httputil.ErrorResponse "Validation error"
// @Failure      403 {object} httputil.ErrorResponse "Not self or admin"
// @Failure      404 {object} httputil.ErrorResponse
// @Failure      500 {object} httputil.ErrorResponse "Email delivery failed"
// @Router       /users/{id} [put]
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	targetID, ok := h.parseTargetID(w, r)
	if !ok {
		return
	}
	callerID, _ := GetAccountIDFromContext(r.Context())
	callerRole, _ := GetRoleFromContext(r.Context())
	isAdmin := callerRole == account.RoleAdmin

	if callerID != targetID && !isAdmin {
		respondError(w, "access denied", httputil.CodeAccessDenied, http.StatusForbidden)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid update request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	target, err := h.profiles.GetByID(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			respondError(w, "account not found", httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logger.Error("failed to load account", "account_id", targetID, "error", err.Error())
		respondError(w, "failed to load account", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	// A changed email redirects the whole request into the pending
	// email change path; other submitted fields are dropped and must
	// be resubmitted after the new address is verified.
	if req.Email != nil && account.CanonicalEmail(*req.Email) != target.Email {
		if err := h.service.RequestEmailChange(r.Context(), targetID, *req.Email); err != nil {
			if isValidationError(err) {
				logger.Warn("email change rejected", "error", err.Error())
				respondError(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
				return
			}
			logger.Error("email change failed", "account_id", targetID, "error", err.Error())
			respondError(w, "failed to send verification email to the new address", httputil.CodeEmailDeliveryError, http.StatusInternalServerError)
			return
		}

		logger.Info("email change pending", "account_id", targetID)

		respondJSON(w, map[string]any{
			"emailChangePending": true,
			"message":            "A verification link has been sent to the new address. The change takes effect once it is confirmed.",
		}, http.StatusOK)
		return
	}

	upd, errMsg := buildProfileUpdate(req, isAdmin)
	if errMsg != "" {
		logger.Warn("profile update rejected", "error", errMsg)
		respondError(w, errMsg, httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	updated, err := h.profiles.UpdateProfile(r.Context(), targetID, upd)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			respondError(w, "account not found", httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logger.Error("profile update failed", "account_id", targetID, "error", err.Error())
		respondError(w, "failed to update profile", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("profile updated", "account_id", targetID)

	respondJSON(w, UserResponse{User: updated}, http.StatusOK)
}

// ChangePassword handles the authenticated self-service password change
// @Summary      Change password
// @Description  Overwrite the password after verifying the current one. Self only.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Account ID"
// @Param        request body ChangePasswordRequest true "Current and new password"
// @Success      200 {object} map[string]string
// @Failure      400 {object} httputil.ErrorResponse "Weak password"
// @Failure      401 {object} httputil.ErrorResponse "Current password incorrect"
// @Failure      403 {object} httputil.ErrorResponse "Not the account owner"
// @Router       /users/{id}/reset-password [post]
func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	targetID, ok := h.parseTargetID(w, r)
	if !ok {
		return
	}
	callerID, _ := GetAccountIDFromContext(r.Context())

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid change password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	err := h.service.ChangePassword(r.Context(), callerID, targetID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, ErrAccessDenied) {
			logger.Warn("password change denied", "caller_id", callerID, "target_id", targetID)
			respondError(w, "access denied", httputil.CodeAccessDenied, http.StatusForbidden)
			return
		}
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("password change failed: current password incorrect")
			respondError(w, "Current password is incorrect", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if isPolicyError(err) {
			logger.Warn("password change failed: weak password", "error", err.Error())
			respondError(w, err.Error(), httputil.CodeWeakPassword, http.StatusBadRequest)
			return
		}
		logger.Error("password change failed: internal error", "error", err.Error())
		respondError(w, "failed to change password", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("password changed", "account_id", targetID)

	respondJSON(w, map[string]string{"message": "Password changed successfully."}, http.StatusOK)
}

// Delete handles account deletion
// @Summary      Delete account
// @Description  Remove an account, its profile, and any live tokens. Self or admin.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Account ID"
// @Success      200 {object} map[string]string
// @Failure      403 {object} httputil.ErrorResponse
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /users/{id} [delete]
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	targetID, ok := h.parseTargetID(w, r)
	if !ok {
		return
	}
	callerID, _ := GetAccountIDFromContext(r.Context())
	callerRole, _ := GetRoleFromContext(r.Context())

	if callerID != targetID && callerRole != account.RoleAdmin {
		respondError(w, "access denied", httputil.CodeAccessDenied, http.StatusForbidden)
		return
	}

	if err := h.profiles.Delete(r.Context(), targetID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			respondError(w, "account not found", httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logger.Error("account deletion failed", "account_id", targetID, "error", err.Error())
		respondError(w, "failed to delete account", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("account deleted", "account_id", targetID)

	respondJSON(w, map[string]string{"message": "Account deleted."}, http.StatusOK)
}

func (h *UsersHandler) parseTargetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, "invalid account id", httputil.CodeValidationFailed, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// buildProfileUpdate validates and maps the request into a partial
// update. Role and status are applied only for admin callers.
func buildProfileUpdate(req UpdateUserRequest, isAdmin bool) (account.ProfileUpdate, string) {
	var upd account.ProfileUpdate

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return upd, "name is required"
		}
		upd.Name = &name
	}
	if req.Phone != nil {
		upd.Phone = account.NormalizePhone(*req.Phone)
		upd.PhoneProvided = true
	}
	if req.EmailOptIn != nil {
		upd.EmailOptIn = req.EmailOptIn
	}
	if req.InstructorNumber != nil {
		n := strings.TrimSpace(*req.InstructorNumber)
		if n == "" {
			upd.InstructorNumber = nil
		} else {
			if !account.ValidInstructorNumber(n) {
				return upd, "instructor number must be 9-10 alphanumeric characters"
			}
			upd.InstructorNumber = &n
		}
		upd.InstructorNumberProvided = true
	}

	if isAdmin {
		if req.Role != nil {
			role := *req.Role
			if role != account.RoleMember && role != account.RoleAdmin && role != account.RoleInstructor {
				return upd, "invalid role"
			}
			upd.Role = &role
		}
		if req.Status != nil {
			status := *req.Status
			if status != account.StatusActive && status != account.StatusInactive {
				return upd, "invalid status"
			}
			upd.Status = &status
		}
	}

	return upd, ""
}
