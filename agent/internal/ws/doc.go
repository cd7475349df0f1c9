// Package ws serves the alarm dashboard feed over WebSocket.
//
// Hub is a notify.Subscriber: Deliver pushes every routed alarm event to all
// connected clients as {"event":"alarm","alarm":{...}}. On connect, and
// every interval while Run is active, clients receive
// {"event":"states","states":[...]} with the current state of every rule.
//
// Each client has a buffered send channel drained by its own write pump,
// which also pings every 54s; a client whose buffer fills is dropped.
package ws
