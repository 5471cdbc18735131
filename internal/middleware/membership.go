package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dukerupert/famcal/internal/auth"
)

// FamilyJoiner records family membership.
type FamilyJoiner interface {
	JoinFamily(ctx context.Context, familyID, userID, role string) error
}

// RecordMembership makes the family claim of a verified token the source
// of family membership. It must run after RequireAuth. Each (family, user)
// pair is written once per process.
func RecordMembership(j FamilyJoiner, logger *slog.Logger) func(http.Handler) http.Handler {
	var recorded sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			if !ok || ac.FamilyID == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := ac.FamilyID + "\x00" + ac.UserID
			if _, done := recorded.Load(key); !done {
				if err := j.JoinFamily(r.Context(), ac.FamilyID, ac.UserID, memberRole(ac.Role)); err != nil {
					logger.Error("record family membership failed", "family_id", ac.FamilyID, "user_id", ac.UserID, "error", err)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{"error": "internal error", "code": "INTERNAL_ERROR"})
					return
				}
				recorded.Store(key, struct{}{})
			}
			next.ServeHTTP(w, r)
		})
	}
}

func memberRole(tokenRole string) string {
	if tokenRole == "admin" {
		return "admin"
	}
	return "member"
}
