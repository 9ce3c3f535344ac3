package internal

import "expvar"

var (
	requestsTotal     = expvar.NewMap("prmonitor_requests_total")
	rejectedTotal     = expvar.NewMap("prmonitor_rejected_total")
	broadcastDrops    = expvar.NewInt("prmonitor_broadcast_dropped_subscribers")
	reviewsDispatched = expvar.NewInt("prmonitor_reviews_dispatched")
	reviewOutcomes    = expvar.NewMap("prmonitor_review_outcomes")
)

func IncRequest(eventType string) {
	requestsTotal.Add(eventType, 1)
}

// IncRejected counts requests turned away at the boundary; reason is one of
// "signature", "payload", "method" or "storage".
func IncRejected(reason string) {
	rejectedTotal.Add(reason, 1)
}

func IncBroadcastDrop() {
	broadcastDrops.Add(1)
}

func IncReviewDispatched() {
	reviewsDispatched.Add(1)
}

func IncReviewOutcome(outcome string) {
	reviewOutcomes.Add(outcome, 1)
}
