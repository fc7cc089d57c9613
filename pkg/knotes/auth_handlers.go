package knotes

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/knotes-app/knotes/pkg/auth"
	"github.com/knotes-app/knotes/pkg/models"
)

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token       string         `json:"token"`
	User        models.Profile `json:"user"`
	MFAVerified bool           `json:"mfaVerified"`
}

func (a *App) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.Window / time.Second),
	})
}

func (a *App) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	if existing, err := a.store.GetUserByEmail(ctx, req.Email); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	} else if existing != nil {
		respondError(w, http.StatusConflict, "An account with this email already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user := &models.User{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.sendVerificationMail(user)

	session, err := a.sessions.Create(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.setSessionCookie(w, session.Token)
	respondJSON(w, http.StatusCreated, authResponse{Token: session.Token, User: user.Profile()})
}

// sendVerificationMail issues a verification token and hands it to the dev
// mailer, which just logs the link.
func (a *App) sendVerificationMail(user *models.User) {
	token, err := a.sessions.CreateEmailToken(user.ID)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to issue verification token")
		return
	}
	a.log.Info().
		Str("email", user.Email).
		Str("verifyUrl", "/api/auth/verify-email?token="+token).
		Msg("verification mail dispatched")
}

func (a *App) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := a.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	session, err := a.sessions.Create(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.setSessionCookie(w, session.Token)
	respondJSON(w, http.StatusOK, authResponse{Token: session.Token, User: user.Profile()})
}

func (a *App) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token != "" {
		a.sessions.Delete(token)
		a.dropVerifier(token)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (a *App) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	user, err := a.store.GetUser(r.Context(), session.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil {
		respondError(w, http.StatusUnauthorized, "Unknown user")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{
		Token:       session.Token,
		User:        user.Profile(),
		MFAVerified: session.MFAVerified(time.Now()),
	})
}

func (a *App) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.Token
		}
	}
	userID, ok := a.sessions.ConsumeEmailToken(token)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}
	user, err := a.store.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		respondError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	user.EmailVerified = true
	if err := a.store.UpdateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, user.Profile())
}

func (a *App) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	user, err := a.store.GetUser(r.Context(), session.UserID)
	if err != nil || user == nil {
		respondError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if user.EmailVerified {
		respondError(w, http.StatusConflict, "Email is already verified")
		return
	}
	a.sendVerificationMail(user)
	respondJSON(w, http.StatusOK, map[string]string{"status": "verification mail sent"})
}

func (a *App) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	user, err := a.store.GetUser(r.Context(), session.UserID)
	if err != nil || user == nil {
		respondError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	user.DisplayName = req.DisplayName
	if err := a.store.UpdateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, user.Profile())
}
