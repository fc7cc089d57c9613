package knotes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Run starts the HTTP server.
//
// Health check:
//
//	GET  /health                         - Service health status
//
// Authentication:
//
//	POST /api/auth/signup                - Register a new account
//	POST /api/auth/signin                - Authenticate an existing account
//	POST /api/auth/signout               - End the session
//	GET  /api/auth/me                    - Current session's user and MFA state
//	POST /api/auth/verify-email          - Redeem an email verification token
//	POST /api/auth/resend-verification   - Re-issue the verification mail
//	GET  /api/auth/mfa                   - Two-factor flow state
//	GET  /api/auth/mfa/qr                - Enrollment QR code (PNG)
//	POST /api/auth/mfa/verify            - Submit a six-digit code
//	PUT  /api/account/profile            - Update the display name
//
// Notes (require a two-factor verified session):
//
//	GET    /api/notes                    - One-shot bounded listing
//	POST   /api/notes                    - Create a placeholder note
//	GET    /api/notes/watch              - Websocket live feed
//	GET    /api/notes/{id}               - Get note by id
//	PATCH  /api/notes/{id}               - Partial update
//	DELETE /api/notes/{id}               - Delete note
//	POST   /api/notes/{id}/attachments   - Upload an attachment
//
// Categories (require a two-factor verified session):
//
//	GET  /api/categories                 - List the user's categories
//	POST /api/categories                 - Create a category
//	PUT  /api/categories/{id}            - Rename a category
//
// Attachments:
//
//	GET /files/{user}/{note}/{name}      - Stream a stored attachment
//
// The method blocks until the context is cancelled or a fatal server error
// occurs. On shutdown it allows up to 5 seconds for in-flight requests.
func (a *App) Run(ctx context.Context, cmd *RunCommand) error {
	addr := fmt.Sprintf(":%s", a.config.ServerPort)
	a.log.Info().Str("addr", addr).Msg("starting KNotes server")

	server := &http.Server{
		Addr:    addr,
		Handler: a.router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (a *App) router() *mux.Router {
	router := mux.NewRouter()
	router.Use(a.logging)

	router.HandleFunc("/health", a.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/signup", a.handleSignUp).Methods("POST")
	api.HandleFunc("/auth/signin", a.handleSignIn).Methods("POST")
	api.HandleFunc("/auth/signout", a.handleSignOut).Methods("POST")
	api.HandleFunc("/auth/verify-email", a.handleVerifyEmail).Methods("GET", "POST")

	api.Handle("/auth/me", a.authed(a.handleCurrentUser)).Methods("GET")
	api.Handle("/auth/resend-verification", a.authed(a.handleResendVerification)).Methods("POST")
	api.Handle("/auth/mfa", a.authed(a.handleMFAStatus)).Methods("GET")
	api.Handle("/auth/mfa/qr", a.authed(a.handleMFAQRCode)).Methods("GET")
	api.Handle("/auth/mfa/verify", a.authed(a.handleMFAVerify)).Methods("POST")
	api.Handle("/account/profile", a.authed(a.handleUpdateProfile)).Methods("PUT")

	api.Handle("/notes", a.verified(a.handleListNotes)).Methods("GET")
	api.Handle("/notes", a.verified(a.handleCreateNote)).Methods("POST")
	api.Handle("/notes/watch", a.verified(a.handleWatchNotes)).Methods("GET")
	api.Handle("/notes/{id}", a.verified(a.handleGetNote)).Methods("GET")
	api.Handle("/notes/{id}", a.verified(a.handleUpdateNote)).Methods("PATCH")
	api.Handle("/notes/{id}", a.verified(a.handleDeleteNote)).Methods("DELETE")
	api.Handle("/notes/{id}/attachments", a.verified(a.handleUploadAttachment)).Methods("POST")

	api.Handle("/categories", a.verified(a.handleListCategories)).Methods("GET")
	api.Handle("/categories", a.verified(a.handleCreateCategory)).Methods("POST")
	api.Handle("/categories/{id}", a.verified(a.handleRenameCategory)).Methods("PUT")

	router.Handle("/files/{user}/{note}/{name}", a.verified(a.handleServeFile)).Methods("GET")

	return router
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
