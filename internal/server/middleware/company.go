package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

func RequireCompany() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid, ok := CompanyIDFromContext(r.Context())
			if !ok || cid == uuid.Nil {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"valid company required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
