package model

import "time"

// ConfirmationState tracks the lifecycle of a pending confirmation.
type ConfirmationState string

const (
	ConfirmAwaiting  ConfirmationState = "awaiting"
	ConfirmConfirmed ConfirmationState = "confirmed"
	ConfirmExpired   ConfirmationState = "expired"
	ConfirmCancelled ConfirmationState = "cancelled"
)

// CommandKind is the closed set of confirmation-gated command types.
type CommandKind string

const (
	CommandRebuild     CommandKind = "rebuild"
	CommandSellConfirm CommandKind = "sell_confirm"
)

// PendingConfirmation stages an irreversible or ambiguous command until the
// issuer confirms it. Expiry is checked lazily at confirm time.
type PendingConfirmation struct {
	ID        string
	Issuer    string
	Kind      CommandKind
	Reference string // value /confirm must repeat, e.g. a token address
	Prompt    string
	State     ConfirmationState
	IssuedAt  time.Time
	ExpiresAt time.Time
}
