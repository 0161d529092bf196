// Package wallet defines the hub's domain primitives: wallet actions,
// transaction statuses, and the wire-contract payloads exchanged with the
// Operator and the RGS. It has no storage or transport dependencies so the
// entity and API layers can both build on it.
package wallet

import (
	"fmt"
	"strings"
)

// Action is the direction of a wallet transaction.
type Action string

const (
	ActionDebit  Action = "debit"
	ActionCredit Action = "credit"
)

// ParseAction parses a wallet action from its string form.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionDebit:
		return ActionDebit, nil
	case ActionCredit:
		return ActionCredit, nil
	}
	return "", fmt.Errorf("unknown wallet action: %q", s)
}

// OperatorVerb maps a hub action to the operator API verb.
// debit -> withdraw, credit -> deposit.
func (a Action) OperatorVerb() string {
	if a == ActionDebit {
		return "withdraw"
	}
	return "deposit"
}

// ActionFromOperatorVerb reverse-maps an operator verb to the hub action.
func ActionFromOperatorVerb(verb string) (Action, error) {
	switch verb {
	case "withdraw":
		return ActionDebit, nil
	case "deposit":
		return ActionCredit, nil
	}
	return "", fmt.Errorf("unknown operator verb: %q", verb)
}

// Transaction statuses. The ledger owns these; the outbox has its own
// delivery lifecycle.
const (
	StatusInitiated = "initiated"
	StatusSent      = "sent"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// BlockedReason is returned for rejected players.
const BlockedReason = "User Account Is Blocked"

// IsBlocked reports whether a player is blocked from wallet actions.
// TODO: replace the fixture suffix rule with a lookup against the
// operator's player-status API once it ships.
func IsBlocked(playerID string) bool {
	return strings.HasSuffix(playerID, "_bad")
}

// ExternalPlayerID maps a hub player id to the operator's player id.
// The default mapping is identity plus a configured suffix.
func ExternalPlayerID(playerID, suffix string) string {
	return playerID + suffix
}
