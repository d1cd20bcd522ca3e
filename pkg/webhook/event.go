package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marrygold/usher/pkg/identity"
)

// EventType is the provider's declared notification type.
type EventType string

const (
	EventUserCreated EventType = "user.created"
	EventUserUpdated EventType = "user.updated"
	EventUserDeleted EventType = "user.deleted"
)

// Event is a verified, parsed change notification.
type Event struct {
	Type         EventType
	Notification identity.Notification
}

// envelope mirrors the provider's wire shape. The two metadata bags are
// decoded straight into typed structs here at the boundary so nothing
// downstream ever touches an untyped map.
type envelope struct {
	Type EventType `json:"type"`
	Data struct {
		ID                    string                     `json:"id"`
		EmailAddresses        []emailAddress             `json:"email_addresses"`
		PrimaryEmailAddressID string                     `json:"primary_email_address_id"`
		FirstName             string                     `json:"first_name"`
		LastName              string                     `json:"last_name"`
		ImageURL              string                     `json:"image_url"`
		PublicMetadata        identity.TrustedMetadata   `json:"public_metadata"`
		UnsafeMetadata        identity.UntrustedMetadata `json:"unsafe_metadata"`
	} `json:"data"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// ParseEvent decodes a verified delivery body into an Event.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse delivery body: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("delivery carries no event type")
	}

	return &Event{
		Type: env.Type,
		Notification: identity.Notification{
			ExternalID:  env.Data.ID,
			Email:       primaryEmail(env.Data.EmailAddresses, env.Data.PrimaryEmailAddressID),
			DisplayName: displayName(env.Data.FirstName, env.Data.LastName),
			AvatarRef:   env.Data.ImageURL,
			Trusted:     env.Data.PublicMetadata,
			Untrusted:   env.Data.UnsafeMetadata,
		},
	}, nil
}

// primaryEmail picks the address marked primary, falling back to the first
// listed one.
func primaryEmail(addrs []emailAddress, primaryID string) string {
	for _, a := range addrs {
		if primaryID != "" && a.ID == primaryID {
			return a.EmailAddress
		}
	}
	if len(addrs) > 0 {
		return addrs[0].EmailAddress
	}
	return ""
}

func displayName(first, last string) string {
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	default:
		return last
	}
}
