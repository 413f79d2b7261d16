package push

import (
	"fmt"
	"strconv"
)

const (
	defaultIcon  = "/icons/icon-192x192.png"
	defaultBadge = "/icons/badge-72x72.png"
)

// Enqueuer accepts jobs without blocking. *Queue implements it.
type Enqueuer interface {
	Enqueue(job Job) bool
}

// Notifier turns marketplace events into queued notifications.
type Notifier struct {
	queue Enqueuer
}

func NewNotifier(queue Enqueuer) *Notifier {
	return &Notifier{queue: queue}
}

// NewMessage tells recipientID about a direct message.
func (n *Notifier) NewMessage(recipientID, conversationID int64, senderName, preview string) bool {
	id := strconv.FormatInt(conversationID, 10)
	return n.queue.Enqueue(Job{
		UserID:   recipientID,
		Category: CategoryMessage,
		Payload: Payload{
			Title: fmt.Sprintf("New message from %s", senderName),
			Body:  truncate(preview, 120),
			Icon:  defaultIcon,
			Badge: defaultBadge,
			Tag:   "message-" + id,
			Data: PayloadData{
				URL:      "/messages/" + id,
				Type:     string(CategoryMessage),
				EntityID: id,
			},
			Actions: []Action{
				{Action: "reply", Title: "Reply"},
				{Action: "view", Title: "View"},
			},
		},
	})
}

// ListingMatch tells userID that a listing matches one of their saved
// searches. Saved searches are not stored yet, so nothing calls this.
func (n *Notifier) ListingMatch(userID, listingID int64, listingTitle string, price float64) bool {
	id := strconv.FormatInt(listingID, 10)
	return n.queue.Enqueue(Job{
		UserID:   userID,
		Category: CategoryListingMatch,
		Payload: Payload{
			Title: "New listing matches your search",
			Body:  fmt.Sprintf("%s - $%.2f", listingTitle, price),
			Icon:  defaultIcon,
			Badge: defaultBadge,
			Tag:   "listing-" + id,
			Data: PayloadData{
				URL:      "/listings/" + id,
				Type:     string(CategoryListingMatch),
				EntityID: id,
			},
			Actions: []Action{{Action: "view", Title: "View listing"}},
		},
	})
}

// WishlistMatch tells userID that a listing was posted in a wishlisted category.
func (n *Notifier) WishlistMatch(userID, listingID int64, listingTitle, category string) bool {
	id := strconv.FormatInt(listingID, 10)
	return n.queue.Enqueue(Job{
		UserID:   userID,
		Category: CategoryWishlistMatch,
		Payload: Payload{
			Title: fmt.Sprintf("New in %s", category),
			Body:  listingTitle,
			Icon:  defaultIcon,
			Badge: defaultBadge,
			Tag:   "wishlist-" + id,
			Data: PayloadData{
				URL:      "/listings/" + id,
				Type:     string(CategoryWishlistMatch),
				EntityID: id,
			},
			Actions: []Action{{Action: "view", Title: "View listing"}},
		},
	})
}

// NewOffer tells sellerID about an offer on one of their listings.
func (n *Notifier) NewOffer(sellerID, offerID, listingID int64, buyerName, listingTitle string, amount float64) bool {
	id := strconv.FormatInt(offerID, 10)
	return n.queue.Enqueue(Job{
		UserID:   sellerID,
		Category: CategoryOffer,
		Payload: Payload{
			Title: fmt.Sprintf("New offer: $%.2f", amount),
			Body:  fmt.Sprintf("%s offered on %s", buyerName, listingTitle),
			Icon:  defaultIcon,
			Badge: defaultBadge,
			Tag:   "offer-" + id,
			Data: PayloadData{
				URL:       "/offers/" + id,
				Type:      string(CategoryOffer),
				EntityID:  id,
				ListingID: strconv.FormatInt(listingID, 10),
			},
			Actions: []Action{
				{Action: "accept", Title: "Accept"},
				{Action: "decline", Title: "Decline"},
			},
		},
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
