package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/webhealth/canary/server/internal/config"
)

// enforced reports whether cfg requires a key. An apikey mode whose key env
// var resolves empty is treated as unconfigured.
func enforced(cfg config.AuthConfig) (key string, ok bool) {
	key = cfg.Key()
	return key, cfg.Mode == "apikey" && key != ""
}

func matches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor that checks the
// API key in the incoming metadata named by cfg.EffectiveHeader().
// A missing or wrong key returns codes.Unauthenticated.
func APIKeyInterceptor(cfg config.AuthConfig) grpc.UnaryServerInterceptor {
	header := strings.ToLower(cfg.EffectiveHeader())
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		key, on := enforced(cfg)
		if !on {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(header)
		if len(vals) == 0 || !matches(vals[0], key) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

// Middleware applies the same API key check to HTTP requests. Paths in
// open (exact match) are served without a key.
func Middleware(cfg config.AuthConfig, next http.Handler, open ...string) http.Handler {
	header := cfg.EffectiveHeader()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, on := enforced(cfg)
		if !on {
			next.ServeHTTP(w, r)
			return
		}
		for _, p := range open {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !matches(r.Header.Get(header), key) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid api key"}` + "\n")) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
