package httpapi

import (
	"net/http"

	"auditdesk.io/internal/auth"
	"auditdesk.io/internal/domain"
)

type otpRequest struct {
	Email string `json:"email"`
}

type otpSentResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expires_in"`
}

type verifyLoginRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifySignupRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (a *API) handleSendLoginOTP(w http.ResponseWriter, r *http.Request) {
	a.sendOTP(w, r, domain.OTPLogin)
}

func (a *API) handleSendSignupOTP(w http.ResponseWriter, r *http.Request) {
	a.sendOTP(w, r, domain.OTPSignup)
}

func (a *API) sendOTP(w http.ResponseWriter, r *http.Request, purpose domain.OTPPurpose) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	email := domain.NormalizeEmail(req.Email)
	if !a.allowOTP(w, r, string(purpose)+":"+email) {
		return
	}

	var err error
	if purpose == domain.OTPSignup {
		err = a.svc.Auth.RequestSignupCode(r.Context(), email)
	} else {
		err = a.svc.Auth.RequestLoginCode(r.Context(), email)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, otpSentResponse{
		Message:   "verification code sent",
		ExpiresIn: int(a.svc.Auth.OTPTTL().Seconds()),
	})
}

// allowOTP applies the per-email code budget. Sends and verifies use separate
// keys so a burst of guesses cannot block delivery of a fresh code.
func (a *API) allowOTP(w http.ResponseWriter, r *http.Request, key string) bool {
	if a.otpLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, r, http.StatusTooManyRequests, "too many code attempts, try again shortly")
	return false
}

func (a *API) handleVerifyLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if !a.allowOTP(w, r, "verify:"+string(domain.OTPLogin)+":"+domain.NormalizeEmail(req.Email)) {
		return
	}
	res, err := a.svc.Auth.VerifyLoginCode(r.Context(), req.Email, req.OTP)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleVerifySignupOTP(w http.ResponseWriter, r *http.Request) {
	var req verifySignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if !a.allowOTP(w, r, "verify:"+string(domain.OTPSignup)+":"+domain.NormalizeEmail(req.Email)) {
		return
	}
	res, err := a.svc.Auth.VerifySignupCode(r.Context(), auth.SignupInput{
		Email: req.Email,
		Code:  req.OTP,
		Name:  req.Name,
		Role:  req.Role,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.svc.Auth.Logout(r.Context(), token); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
