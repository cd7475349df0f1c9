// Package wire defines the gRPC contract between the canary agent's remote
// metric store and the metric server.
//
// There is a single unary method, canary.v1.MetricService/PutMetricData,
// whose request carries a batch of types.Point. Messages are encoded with
// the JSON codec registered by this package under the content-subtype
// "json", so both sides exchange application/grpc+json frames without
// generated protobuf code.
package wire
