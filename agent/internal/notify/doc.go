// Package notify routes alarm events to their consumers.
//
// Router keeps one Topic per metric kind. Route looks up the event's topic
// and delivers a copy to every subscriber concurrently, waiting for all of
// them. Failures are isolated per subscriber, counted in
// canary_notify_errors_total{channel}, and returned joined as
// *DeliveryError values. Recoveries are routed like any other transition.
//
// Subscribers in this package:
//
//   - Queue: a Redis list per queue name. Consume moves each message to a
//     processing list with BRPOPLPUSH and removes it once the handler
//     succeeds; Redrive returns unacknowledged messages to the queue.
//   - Webhook: Slack, Teams, or a generic JSON POST.
//
// The dashboard hub (package ws) and the alarm log writer (package alarmlog)
// subscribe through the same interface.
package notify
