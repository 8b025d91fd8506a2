package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/domain"
)

const (
	actorClassHeader = "X-Actor-Class"
	actorIDHeader    = "X-Actor-Id"
)

// Middleware resolves the acting identity from request headers and stores it
// on the context. Requests without actor headers proceed as the system actor;
// malformed headers are rejected up front so commits never record a bogus
// initiator.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawClass := strings.TrimSpace(r.Header.Get(actorClassHeader))
		if rawClass == "" {
			next.ServeHTTP(w, r)
			return
		}
		class, err := domain.ParseActorClass(strings.ToUpper(rawClass))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s: %v", actorClassHeader, err), http.StatusBadRequest)
			return
		}
		actor := domain.Actor{Class: class}
		if rawID := strings.TrimSpace(r.Header.Get(actorIDHeader)); rawID != "" {
			id, err := uuid.Parse(rawID)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %s: %v", actorIDHeader, err), http.StatusBadRequest)
				return
			}
			actor.ID = &id
		}
		if actor.Class != domain.ActorClassSystem && actor.ID == nil {
			http.Error(w, fmt.Sprintf("%s is required for %s actors", actorIDHeader, actor.Class), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}
