package main

import "time"

// User represents a user in the system
type User struct {
	ID          int64
	Email       string
	Password    string
	DisplayName string
	CreatedAt   time.Time
}

// Name is what other users see in notifications.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Listing is an item offered for sale.
type Listing struct {
	ID        int64     `json:"id"`
	SellerID  int64     `json:"sellerId"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

// Offer is a buyer's bid on a listing.
type Offer struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listingId"`
	BuyerID   int64     `json:"buyerId"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one direct message within a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	RecipientID    int64     `json:"recipientId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}
