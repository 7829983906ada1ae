package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}][\p{L}' -]{0,63}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 12
	maxPasswordLength = 200
	dateOfBirthLayout = "2006-01-02"
)

type Handler struct {
	service *Service
	cookies *CookieManager
}

func NewHandler(service *Service, cookies *CookieManager) *Handler {
	return &Handler{service: service, cookies: cookies}
}

type registerRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DateOfBirth string `json:"dateOfBirth"`
	Level       string `json:"level"`
}

type loginRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	input, err := body.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	account, err := h.service.Register(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, CodeValidation, "email already registered")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"account": account})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	input, err := body.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	account, pair, err := h.service.Login(r.Context(), input)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.cookies.Attach(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   pair.AccessToken,
		"account": account,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired refresh token")
		return
	}

	account, access, expiresAt, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired refresh token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to refresh token")
		return
	}

	h.cookies.AttachAccess(w, access, expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   access,
		"account": account,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Session reports the caller's authentication state without ever rejecting;
// it sits behind the optional middleware.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"account":       identity,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	var locked LockedError
	var limited RateLimitedError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials")
	case errors.As(err, &locked):
		retryAfter := int(time.Until(locked.Until).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusLocked, CodeAccountLocked, "account temporarily locked")
	case errors.As(err, &limited):
		writeRateLimited(w, limited)
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to login")
	}
}

func (body registerRequest) validate() (RegisterInput, error) {
	firstName := strings.TrimSpace(body.FirstName)
	lastName := strings.TrimSpace(body.LastName)
	email := strings.TrimSpace(body.Email)
	level := strings.TrimSpace(body.Level)

	if !namePattern.MatchString(firstName) {
		return RegisterInput{}, ValidationError{Field: "firstName", Reason: "must be 1-64 letters"}
	}
	if !namePattern.MatchString(lastName) {
		return RegisterInput{}, ValidationError{Field: "lastName", Reason: "must be 1-64 letters"}
	}
	if len(email) > 254 || !emailPattern.MatchString(strings.ToLower(email)) {
		return RegisterInput{}, ValidationError{Field: "email", Reason: "format is invalid"}
	}
	if len(body.Password) < minPasswordLength || len(body.Password) > maxPasswordLength {
		return RegisterInput{}, ValidationError{Field: "password", Reason: "must be at least 12 characters"}
	}
	if level == "" || len(level) > 16 {
		return RegisterInput{}, ValidationError{Field: "level", Reason: "is required"}
	}

	dateOfBirth, err := time.Parse(dateOfBirthLayout, strings.TrimSpace(body.DateOfBirth))
	if err != nil || dateOfBirth.After(time.Now().UTC()) {
		return RegisterInput{}, ValidationError{Field: "dateOfBirth", Reason: "must be a past YYYY-MM-DD date"}
	}

	return RegisterInput{
		FirstName:   firstName,
		LastName:    lastName,
		Email:       email,
		Password:    body.Password,
		DateOfBirth: dateOfBirth,
		Level:       level,
	}, nil
}

func (body loginRequest) validate() (LoginInput, error) {
	email := strings.TrimSpace(body.Email)
	firstName := strings.TrimSpace(body.FirstName)
	lastName := strings.TrimSpace(body.LastName)

	byEmail := email != ""
	byName := firstName != "" && lastName != ""
	if !byEmail && !byName {
		return LoginInput{}, ValidationError{Field: "email", Reason: "email or first and last name required"}
	}
	if byEmail && (len(email) > 254 || !emailPattern.MatchString(strings.ToLower(email))) {
		return LoginInput{}, ValidationError{Field: "email", Reason: "format is invalid"}
	}
	if len(body.Password) < minPasswordLength || len(body.Password) > maxPasswordLength {
		return LoginInput{}, ValidationError{Field: "password", Reason: "format is invalid"}
	}

	return LoginInput{
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Password:  body.Password,
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
