package security

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DM admission policies.
const (
	PolicyOpen      = "open"
	PolicyPairing   = "pairing"
	PolicyAllowlist = "allowlist"
	PolicyDisabled  = "disabled"
)

// Rejection reasons, surfaced in Decision.Reason.
const (
	ReasonDisabled        = "disabled"
	ReasonNotAllowed      = "not_allowed"
	ReasonPairingRequired = "pairing_required"
	ReasonRateLimited     = "rate_limited"
)

// Decision is the gate's verdict on one inbound message.
type Decision struct {
	Allowed     bool
	Reason      string
	PairingCode string
	Message     string // user-visible reply, empty = stay silent
	RetryAfter  time.Duration
}

// PolicyResolver returns the effective DM policy for a channel.
type PolicyResolver func(channelID string) string

// Gate is the admission state machine: rate limit first (unless the channel
// is disabled), then the channel's DM policy.
type Gate struct {
	policyFor PolicyResolver
	limiter   *RateLimiter
	pairing   *PairingStore
	allowlist *AllowlistStore
}

// NewGate wires the gate from its collaborators.
func NewGate(policyFor PolicyResolver, limiter *RateLimiter, pairing *PairingStore, allowlist *AllowlistStore) *Gate {
	return &Gate{policyFor: policyFor, limiter: limiter, pairing: pairing, allowlist: allowlist}
}

// Check admits or rejects a sender. Store read failures fail closed: the
// message is rejected without a user-visible reply.
func (g *Gate) Check(channelID, senderID, senderName string) Decision {
	policy := g.policyFor(channelID)

	if policy != PolicyDisabled {
		key := channelID + ":" + senderID
		if res := g.limiter.Check(key); !res.Allowed {
			return Decision{Reason: ReasonRateLimited, RetryAfter: res.RetryAfter}
		}
		g.limiter.Hit(key)
	}

	switch policy {
	case PolicyOpen:
		return Decision{Allowed: true}

	case PolicyDisabled:
		return Decision{Reason: ReasonDisabled}

	case PolicyAllowlist:
		ok, err := g.allowlist.Has(channelID, senderID)
		if err != nil {
			log.Error().Str("channel", channelID).Err(err).Msg("allowlist lookup failed")
			return Decision{Reason: ReasonNotAllowed}
		}
		if ok {
			return Decision{Allowed: true}
		}
		return Decision{Reason: ReasonNotAllowed}

	default: // PolicyPairing
		ok, err := g.allowlist.Has(channelID, senderID)
		if err != nil {
			log.Error().Str("channel", channelID).Err(err).Msg("allowlist lookup failed")
			return Decision{Reason: ReasonNotAllowed}
		}
		if ok {
			return Decision{Allowed: true}
		}
		code, err := g.pairing.Issue(channelID, senderID)
		if err != nil {
			log.Error().Str("channel", channelID).Err(err).Msg("pairing code issue failed")
			return Decision{Reason: ReasonNotAllowed}
		}
		return Decision{
			Reason:      ReasonPairingRequired,
			PairingCode: code,
			Message:     pairingMessage(senderName, code),
		}
	}
}

// Approve consumes a pairing code and allowlists the paired identity in the
// same operation. Returns the identity or ok=false for an unknown code.
func (g *Gate) Approve(code, approvedBy string) (channelID, senderID string, ok bool, err error) {
	channelID, senderID, ok, err = g.pairing.Approve(code)
	if err != nil || !ok {
		return channelID, senderID, ok, err
	}
	if err := g.allowlist.Add(channelID, senderID, approvedBy); err != nil {
		return channelID, senderID, false, fmt.Errorf("allowlist approved pair: %w", err)
	}
	return channelID, senderID, true, nil
}

func pairingMessage(senderName, code string) string {
	name := senderName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! To start chatting, ask the owner to approve your pairing code: %s", name, code)
}
