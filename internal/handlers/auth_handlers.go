package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/credvault/credvault/internal/models"
	"github.com/credvault/credvault/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	statusSuccess = "Success"
	statusFailure = "Failure"
)

type AuthHandlers struct {
	auth   *service.AuthService
	users  service.UserStore
	logger *logrus.Logger
}

func NewAuthHandlers(auth *service.AuthService, users service.UserStore, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		auth:   auth,
		users:  users,
		logger: logger,
	}
}

type SignupRequest struct {
	FirstName   string  `json:"first_name"`
	MiddleName  *string `json:"middle_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phone_number"`
	DOB         string  `json:"dob,omitempty"`
	Password    string  `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ResetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type LoginResponse struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type UserResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	User    *models.User `json:"user,omitempty"`
}

func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, APIResponse{statusFailure, "Invalid request body"})
		return
	}

	var dob *time.Time
	if req.DOB != "" {
		parsed, err := time.Parse("2006-01-02", req.DOB)
		if err != nil {
			h.respondWithJSON(w, http.StatusOK, APIResponse{statusFailure, "Date of birth must be in YYYY-MM-DD format"})
			return
		}
		dob = &parsed
	}

	outcome := h.auth.Signup(r.Context(), service.SignupRequest{
		FirstName:   req.FirstName,
		MiddleName:  req.MiddleName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		DOB:         dob,
		Password:    req.Password,
	})

	h.respondWithOutcome(w, outcome)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, APIResponse{statusFailure, "Invalid request body"})
		return
	}

	outcome := h.auth.Login(r.Context(), req.Email, req.Password)

	resp := LoginResponse{Status: statusFailure, Message: outcome.Message}
	if outcome.OK {
		resp.Status = statusSuccess
		resp.Token = outcome.Token
		resp.ExpiresAt = &outcome.ExpiresAt
	}

	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, APIResponse{statusFailure, "Invalid request body"})
		return
	}

	h.respondWithOutcome(w, h.auth.SendOTP(r.Context(), req.Email))
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, APIResponse{statusFailure, "Invalid request body"})
		return
	}

	h.respondWithOutcome(w, h.auth.VerifyOTP(r.Context(), req.Email, req.OTP))
}

// ResetPassword is not gated on a prior successful OTP verification; the
// client is responsible for sequencing the two calls.
func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, APIResponse{statusFailure, "Invalid request body"})
		return
	}

	h.respondWithOutcome(w, h.auth.ResetPassword(r.Context(), req.Email, req.Password))
}

func (h *AuthHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, APIResponse{statusFailure, "Invalid user id"})
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.respondWithJSON(w, http.StatusOK, UserResponse{Status: statusFailure, Message: "User not found"})
		return
	}

	h.respondWithJSON(w, http.StatusOK, UserResponse{
		Status:  statusSuccess,
		Message: "User retrieved",
		User:    user,
	})
}

func (h *AuthHandlers) respondWithOutcome(w http.ResponseWriter, outcome service.Outcome) {
	status := statusFailure
	if outcome.OK {
		status = statusSuccess
	}
	h.respondWithJSON(w, http.StatusOK, APIResponse{Status: status, Message: outcome.Message})
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
