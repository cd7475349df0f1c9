// Package sink publishes probe measurements to time-series stores.
//
// Sink.Publish turns each Measurement into an Availability point (unit
// Count) and a Latency point (unit Milliseconds), both dimensioned by
// Site=<url>, and hands the batch to every configured Store. A store that
// fails is logged and counted in canary_metric_publish_failures_total{store};
// Publish itself never fails, so a broken store cannot abort a cycle.
//
// Stores:
//
//   - PromStore sets a GaugeVec served on the agent's /metrics endpoint.
//   - RemoteStore buffers batches in a bounded channel and ships them to the
//     metric server with the canary.v1.MetricService/PutMetricData gRPC call.
//     When the buffer is full the oldest batch is evicted. The drain loop
//     reconnects with truncated exponential backoff (1s to 60s, ±25% jitter)
//     and discards batches rejected with InvalidArgument, Unauthenticated or
//     PermissionDenied. In apikey mode the key is sent as gRPC metadata.
//
// Points are fully determined by their measurement, so publishing the same
// measurements twice writes the same series values.
package sink
