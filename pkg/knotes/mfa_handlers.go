package knotes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/knotes-app/knotes/pkg/auth/twofactor"
)

type mfaStatusResponse struct {
	State           twofactor.State `json:"state"`
	OTPAuthURL      string          `json:"otpauthUrl,omitempty"`
	InputErrored    bool            `json:"inputErrored"`
	SessionVerified bool            `json:"sessionVerified"`
}

func (a *App) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	v := a.verifier(session.Token, session.UserID)
	if err := v.Begin(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := mfaStatusResponse{
		State:           v.State(),
		InputErrored:    v.InputErrored(),
		SessionVerified: session.MFAVerified(time.Now()),
	}
	if v.State() == twofactor.StateSetup {
		resp.OTPAuthURL = v.ProvisioningURI()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *App) handleMFAQRCode(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	v := a.verifier(session.Token, session.UserID)
	if err := v.Begin(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if v.State() != twofactor.StateSetup {
		respondError(w, http.StatusConflict, "No enrollment in progress")
		return
	}
	png, err := v.QRCode(256)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (a *App) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	v := a.verifier(session.Token, session.UserID)
	if err := v.Begin(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok, err := v.Submit(r.Context(), req.Code)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ok {
		a.sessions.MarkMFAVerified(session.Token)
		a.dropVerifier(session.Token)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"verified":     ok,
		"inputErrored": !ok,
	})
}
