// Package metrics holds the Prometheus collectors for the guard, the
// directory and the session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GuardDecisionsTotal counts replay guard decisions by result
	// ("accepted", "replay", "sequence", "clock_skew", "contention", "error").
	GuardDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_guard_decisions_total",
		Help: "Total number of replay guard decisions",
	}, []string{"result"})

	// TokenRedemptionsTotal counts delivery token redemptions by result.
	TokenRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_token_redemptions_total",
		Help: "Total number of delivery token redemptions",
	}, []string{"result"})

	// StoreContentionTotal counts transactions abandoned after bounded retries.
	StoreContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_store_contention_total",
		Help: "Total number of store transactions that exhausted their retries",
	}, []string{"backend"})

	// GuardPurgedTotal counts expired nonces and tokens removed by purge.
	GuardPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duet_guard_purged_total",
		Help: "Total number of expired guard records purged",
	})

	// PreKeyClaimsTotal counts bundle fetches by outcome ("claimed", "exhausted").
	PreKeyClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_prekey_claims_total",
		Help: "Total number of pre-key bundle fetches",
	}, []string{"outcome"})

	// DecryptFailuresTotal counts messages that could not be decrypted.
	DecryptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duet_decrypt_failures_total",
		Help: "Total number of messages that failed to decrypt",
	})

	// MailboxMessagesTotal counts mailbox operations by op ("stored", "fetched", "acked").
	MailboxMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_mailbox_messages_total",
		Help: "Total number of mailbox message operations",
	}, []string{"op"})
)
