package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/warp/cambio-ledger/ledger"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// RequireActor reads the caller's identity from the X-Actor-ID and
// X-Actor-Role headers. Authentication happens upstream; this only carries
// the capability into the ledger.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromHeaders(r.Header)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid actor", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFromHeaders(h http.Header) (ledger.Actor, error) {
	id := strings.TrimSpace(h.Get(HeaderActorID))
	if id == "" {
		return ledger.Actor{}, fmt.Errorf("%s header is required", HeaderActorID)
	}
	role := ledger.Role(strings.ToLower(strings.TrimSpace(h.Get(HeaderActorRole))))
	switch role {
	case "":
		role = ledger.RoleUser
	case ledger.RoleUser, ledger.RoleAdmin:
	default:
		return ledger.Actor{}, fmt.Errorf("unknown role %q", role)
	}
	return ledger.Actor{ID: id, Role: role}, nil
}

// actorFrom returns the actor stored by RequireActor.
func actorFrom(ctx context.Context) ledger.Actor {
	a, _ := ctx.Value(actorKey{}).(ledger.Actor)
	return a
}
