// Package config loads the metric receiver configuration from the `server:`
// section of a YAML file.
//
// Config fields:
//   - GRPCPort              port for the PutMetricData receiver (default 50051)
//   - HTTPPort              port for the REST API and /metrics (default 8081)
//   - Auth.Mode             "apikey" or "none"
//   - Auth.KeyEnv           environment variable holding the expected API key
//   - Auth.Header           gRPC metadata/HTTP header name (default "x-api-key")
//   - Retention.TTL         idle time after which a series is evicted (default 24h)
//   - Retention.MaxSamples  samples kept per series (default 288)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
