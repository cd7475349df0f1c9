// Package auth provides API key authentication for the metric receiver.
//
// APIKeyInterceptor(cfg) returns a gRPC UnaryServerInterceptor and
// Middleware(cfg, next) an HTTP wrapper; both read the key from the header
// named by cfg.EffectiveHeader() and compare it in constant time.
//
// When cfg.Mode != "apikey" or the key env var is empty, all calls pass
// through. A missing or incorrect key is rejected with codes.Unauthenticated
// (gRPC) or 401 (HTTP).
package auth
