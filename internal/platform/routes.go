package platform

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

/*
Registration API for LMS platforms.

Routes (mount under /platforms, behind BasicAuth):

  POST   /            register a platform
  GET    /            list active platforms
  GET    /{id}        fetch one platform
  DELETE /{id}        deactivate (soft delete)

Registered platforms become resolvable by the launch flow immediately.
*/

type CreatePlatformReq struct {
	Issuer       string `json:"issuer"`
	ClientID     string `json:"client_id"`
	Name         string `json:"name"`
	AuthLoginURL string `json:"auth_login_url"`
	AuthTokenURL string `json:"auth_token_url"`
	KeySetURL    string `json:"key_set_url"`
	DeploymentID string `json:"deployment_id"`
}

// Routes returns the admin CRUD handler for platform registrations.
func Routes(reg *SQLRegistry) http.Handler {
	r := chi.NewRouter()
	r.Post("/", createPlatform(reg))
	r.Get("/", listPlatforms(reg))
	r.Get("/{id}", getPlatform(reg))
	r.Delete("/{id}", deletePlatform(reg))
	return r
}

// BasicAuth guards the registration API with a single admin credential.
// The stored password is a bcrypt hash.
func BasicAuth(user, passHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passHash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="platform registry"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func createPlatform(reg *SQLRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePlatformReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if msg := validateCreatePlatformReq(req); msg != "" {
			writeErr(w, http.StatusBadRequest, msg)
			return
		}
		p, err := reg.Create(r.Context(), Platform{
			Issuer:       strings.TrimSpace(req.Issuer),
			ClientID:     strings.TrimSpace(req.ClientID),
			Name:         strings.TrimSpace(req.Name),
			AuthLoginURL: strings.TrimSpace(req.AuthLoginURL),
			AuthTokenURL: strings.TrimSpace(req.AuthTokenURL),
			KeySetURL:    strings.TrimSpace(req.KeySetURL),
			DeploymentID: strings.TrimSpace(req.DeploymentID),
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func listPlatforms(reg *SQLRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := reg.ListActive(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func getPlatform(reg *SQLRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := reg.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeErr(w, http.StatusNotFound, "platform not found")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func deletePlatform(reg *SQLRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
			if errors.Is(err, ErrNotFound) {
				writeErr(w, http.StatusNotFound, "platform not found")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "platform deactivated"})
	}
}

func validateCreatePlatformReq(req CreatePlatformReq) string {
	if strings.TrimSpace(req.Issuer) == "" {
		return "issuer is required"
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return "client_id is required"
	}
	for _, u := range []struct{ name, val string }{
		{"auth_login_url", req.AuthLoginURL},
		{"auth_token_url", req.AuthTokenURL},
		{"key_set_url", req.KeySetURL},
	} {
		if strings.TrimSpace(u.val) == "" {
			return u.name + " is required"
		}
		if !isHTTPURL(u.val) {
			return u.name + " must be http(s) URL"
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
