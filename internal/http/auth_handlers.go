package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"bookclub-collab/internal/store"
	"bookclub-collab/pkg/auth"
)

// Accounts creates and checks user credentials
type Accounts interface {
	CreateUser(ctx context.Context, email, password, username string) (store.User, error)
	VerifyUser(ctx context.Context, email, password string) (store.User, error)
}

// defaultTokenTTL applies when AuthAPI.TTL is unset
const defaultTokenTTL = 24 * time.Hour

type AuthAPI struct {
	DB  Accounts
	JWT *auth.JWT
	TTL time.Duration
	Log *slog.Logger
}

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type tokenResp struct {
	Token string      `json:"token"`
	User  authUserDTO `json:"user"`
}
type authUserDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func userDTO(u store.User) authUserDTO {
	return authUserDTO{ID: u.ID, Email: u.Email, Username: u.Username, AvatarURL: u.AvatarURL}
}

// Register handles user signup and returns a JWT for the websocket join
func (a *AuthAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)

	if len(req.Password) < 8 || !strings.Contains(req.Email, "@") || req.Username == "" {
		http.Error(w, "invalid email, username or weak password", http.StatusBadRequest)
		return
	}

	u, err := a.DB.CreateUser(r.Context(), req.Email, req.Password, req.Username)
	if errors.Is(err, store.ErrEmailTaken) {
		http.Error(w, "email already in use", http.StatusConflict)
		return
	}
	if err != nil {
		a.Log.Error("auth.register", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.issue(w, u, http.StatusCreated)
}

// Login verifies credentials and returns a JWT
func (a *AuthAPI) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	u, err := a.DB.VerifyUser(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	a.issue(w, u, http.StatusOK)
}

func (a *AuthAPI) issue(w http.ResponseWriter, u store.User, status int) {
	ttl := a.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	tok, err := a.JWT.Sign(u.ID, u.Email, ttl)
	if err != nil {
		a.Log.Error("auth.sign", "user", u.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, tokenResp{Token: tok, User: userDTO(u)})
}

// Me returns the authenticated user's ID
func (a *AuthAPI) Me(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())
	if uid == "anon" || uid == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": uid})
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
