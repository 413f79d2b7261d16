// Package push delivers Web Push notifications to a user's registered
// endpoints. Delivery is gated by the user's preferences, fans out
// concurrently and prunes endpoints the push service reports as gone.
package push

import (
	"context"
	"errors"
	"time"
)

// Category is the kind of event a notification is about.
type Category string

const (
	CategoryMessage       Category = "message"
	CategoryListingMatch  Category = "listing_match"
	CategoryWishlistMatch Category = "wishlist_match"
	CategoryOffer         Category = "offer"
)

// ErrNotFound is returned by registries when no subscription matches.
var ErrNotFound = errors.New("push: subscription not found")

// Keys holds the client's encryption material from PushSubscription.getKey.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one registered endpoint. A user has at most one record
// per endpoint.
type Subscription struct {
	UserID    int64     `json:"userId"`
	Endpoint  string    `json:"endpoint"`
	Keys      Keys      `json:"keys"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preferences are a user's notification switches.
type Preferences struct {
	PushEnabled     bool `json:"pushEnabled"`
	Messages        bool `json:"messages"`
	ListingMatches  bool `json:"listingMatches"`
	WishlistMatches bool `json:"wishlistMatches"`
	Offers          bool `json:"offers"`
}

// DefaultPreferences applies to users who never saved any.
func DefaultPreferences() Preferences {
	return Preferences{
		PushEnabled:     true,
		Messages:        true,
		ListingMatches:  true,
		WishlistMatches: true,
		Offers:          true,
	}
}

// Allows reports whether c may be delivered.
func (p Preferences) Allows(c Category) bool {
	if !p.PushEnabled {
		return false
	}
	switch c {
	case CategoryMessage:
		return p.Messages
	case CategoryListingMatch:
		return p.ListingMatches
	case CategoryWishlistMatch:
		return p.WishlistMatches
	case CategoryOffer:
		return p.Offers
	default:
		return false
	}
}

// Action is a button shown with the notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// PayloadData is read by the service worker when the notification is clicked.
type PayloadData struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	EntityID string `json:"entityId,omitempty"`
	// ListingID accompanies offers so accept/decline can link back.
	ListingID string `json:"listingId,omitempty"`
}

// Payload is the JSON body delivered to the service worker. Tag lets the
// browser coalesce notifications about the same thread.
type Payload struct {
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	Icon    string      `json:"icon,omitempty"`
	Badge   string      `json:"badge,omitempty"`
	Tag     string      `json:"tag,omitempty"`
	Data    PayloadData `json:"data"`
	Actions []Action    `json:"actions,omitempty"`
}

// Registry is the subscription store the dispatcher reads and prunes.
type Registry interface {
	ListSubscriptions(ctx context.Context, userID int64) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, userID int64, endpoint string) error
}

// PreferenceStore returns a user's preferences, or DefaultPreferences when
// none are stored.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID int64) (Preferences, error)
}
