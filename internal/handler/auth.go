package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/muranga-mess/api/internal/auth"
	"github.com/muranga-mess/api/internal/database"
	"golang.org/x/crypto/bcrypt"
)

// AuthStore defines the database methods needed by auth handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type AuthStore interface {
	GetStaffByEmail(ctx context.Context, email string) (database.Staff, error)
	GetStaffByID(ctx context.Context, id uuid.UUID) (database.Staff, error)
}

// AuthHandler handles staff authentication endpoints.
type AuthHandler struct {
	store     AuthStore
	jwtSecret string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store AuthStore, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: store, jwtSecret: jwtSecret}
}

// RegisterRoutes registers auth endpoints on the given Chi router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
}

// --- Request / Response types ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	Staff        staffResponse `json:"staff"`
}

type staffResponse struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	EmployeeID string    `json:"employee_id"`
	Role       string    `json:"role"`
}

// --- Handlers ---

// Login handles email + password authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	staff, err := h.store.GetStaffByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		log.Printf("ERROR: get staff by email: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(staff.HashedPassword), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.respondWithTokens(w, staff)
}

// Refresh exchanges a valid refresh token for a new access + refresh token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	staffID, err := auth.ValidateRefreshToken(h.jwtSecret, req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	staff, err := h.store.GetStaffByID(r.Context(), staffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "staff not found")
			return
		}
		log.Printf("ERROR: get staff by id: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.respondWithTokens(w, staff)
}

// --- Helpers ---

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, staff database.Staff) {
	accessToken, err := auth.GenerateToken(h.jwtSecret, staff.ID, staff.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	refreshToken, err := auth.GenerateRefreshToken(h.jwtSecret, staff.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Staff: staffResponse{
			ID:         staff.ID,
			FullName:   staff.FullName,
			Email:      staff.Email,
			EmployeeID: staff.EmployeeID,
			Role:       staff.Role,
		},
	})
}
