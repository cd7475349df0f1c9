// Package receiver implements wire.MetricServiceServer, the gRPC endpoint
// that accepts metric points from canary agents.
//
// Receiver.PutMetricData rejects a batch with codes.InvalidArgument when it
// is empty or any point lacks a namespace or metric name or carries a
// non-finite value; otherwise every point is appended to the series store.
// Authentication is enforced upstream by the gRPC server interceptor
// (see package auth).
package receiver
