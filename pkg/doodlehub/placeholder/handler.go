package placeholder

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxAge is how long clients may cache a placeholder image.
const DefaultMaxAge = 24 * time.Hour

// cacheSize bounds the rendered images kept in memory. Every known class
// with three variants fits comfortably.
const cacheSize = 512

// Handler serves GET /api/placeholder/{className}/{variant}. It must be
// mounted on a chi router with both URL parameters.
func Handler(maxAge time.Duration) http.HandlerFunc {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cacheControl := fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second))

	// The size is a positive constant, so New cannot fail.
	rendered, _ := lru.New[string, []byte](cacheSize)

	return func(w http.ResponseWriter, r *http.Request) {
		class := chi.URLParam(r, "className")
		variant := ParseVariant(chi.URLParam(r, "variant"))

		key := strconv.Itoa(variant) + "/" + class
		body, ok := rendered.Get(key)
		if !ok {
			body = Render(class, variant)
			rendered.Add(key, body)
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", cacheControl)
		w.Write(body)
	}
}
