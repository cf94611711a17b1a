// Package heartbeat tracks node availability via periodic polling.
//
// A node is considered Active once it answers one probe, and Offline
// again only after MaxFailures consecutive probe failures, a
// consecutive-failure debounce so a single dropped connection does not
// flap a node's scheduling eligibility.
package heartbeat
