package guard

import (
	"net/http"

	"github.com/PaulFidika/authgate/core"
)

// HandlerFunc is a handler that receives verified claims ahead of the request.
type HandlerFunc[T any] func(claims *core.Claims, r *http.Request) (T, error)

// Decorated is what Require produces: a handler that takes only the request.
type Decorated[T any] func(r *http.Request) (T, error)

// Require returns a decorator that authorizes each request for permission
// before calling the wrapped handler. On failure the handler is not called
// and the *core.AuthError is returned as is; on success the handler's
// result is returned unchanged.
//
//	list := guard.Require[[]Image](g, "get:images")(func(c *core.Claims, r *http.Request) ([]Image, error) {
//		return store.List(r.Context())
//	})
func Require[T any](g *Guard, permission string) func(HandlerFunc[T]) Decorated[T] {
	return func(h HandlerFunc[T]) Decorated[T] {
		return func(r *http.Request) (T, error) {
			claims, err := g.Authorize(r, permission)
			if err != nil {
				var zero T
				return zero, err
			}
			return h(claims, r.WithContext(core.WithClaims(r.Context(), claims)))
		}
	}
}
