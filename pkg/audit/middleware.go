package audit

import (
	"net/http"
)

// Headers carrying the acting user's identity
const (
	HeaderActorID    = "X-User-ID"
	HeaderActorName  = "X-User-Name"
	HeaderActorEmail = "X-User-Email"
)

// ActorMiddleware places the actor described by the X-User-* headers on the
// request context. Requests without X-User-ID are attributed to SystemActor.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		actor := Actor{
			UserID: id,
			Name:   r.Header.Get(HeaderActorName),
			Email:  r.Header.Get(HeaderActorEmail),
		}
		if actor.Name == "" {
			actor.Name = id
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
