package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"equiptrack.org/internal/access"
	"equiptrack.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth validates the bearer token, upserts the profile on first login and
// attaches the resolved principal to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		profile, err := a.dir.UpsertProfile(r.Context(), claims.Subject, claims.Email)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		grants, err := a.dir.ListAccessGrants(r.Context(), profile.ID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		p := access.Principal{
			ProfileID: profile.ID,
			CompanyID: profile.CompanyID,
			Role:      profile.Role,
			Grants:    grants,
		}
		ctx := auth.ContextWithUser(r.Context(), profile.ID)
		ctx = access.ContextWithPrincipal(ctx, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
