package models

import "time"

// NotificationKind classifies a user-visible notification.
type NotificationKind string

const (
	NotifyNewOffer    NotificationKind = "new_offer"
	NotifySuccess     NotificationKind = "success"
	NotifyUnavailable NotificationKind = "unavailable"
	NotifyError       NotificationKind = "error"
)

// Notification is a message surfaced to the provider.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	OfferID   string           `json:"offer_id,omitempty"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable,omitempty"`
	At        time.Time        `json:"at"`
}
