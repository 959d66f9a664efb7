package i18n

import "net/http"

// Middleware picks a localizer from the request's Accept-Language header,
// falling back to the default language, and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept-Language")
		tag := Match(accept)
		w.Header().Set("Content-Language", tag.String())
		ctx := WithLocalizer(r.Context(), NewLocalizer(tag.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
