package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxUploadBytes = 10 << 20

func (a *App) HandleCreateMessage(w http.ResponseWriter, r *http.Request) {
	senderID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		RecipientID    int64  `json:"recipientId"`
		ConversationID int64  `json:"conversationId"`
		Body           string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RecipientID == 0 || in.ConversationID == 0 || strings.TrimSpace(in.Body) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "recipientId, conversationId and body are required")
		return
	}
	ctx := r.Context()
	sender, err := a.DB.GetUserByID(ctx, senderID)
	if err != nil || sender == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unknown user")
		return
	}
	recipient, err := a.DB.GetUserByID(ctx, in.RecipientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load recipient")
		return
	}
	if recipient == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Recipient not found")
		return
	}

	msg := &Message{ConversationID: in.ConversationID, SenderID: senderID, RecipientID: recipient.ID, Body: in.Body}
	if err := a.DB.CreateMessage(ctx, msg); err != nil {
		a.logger.Error("create message", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to send message")
		return
	}
	a.notifier.NewMessage(recipient.ID, msg.ConversationID, sender.Name(), msg.Body)
	writeJSON(w, http.StatusCreated, msg)
}

func (a *App) HandleCreateOffer(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		ListingID int64   `json:"listingId"`
		Amount    float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ListingID == 0 || in.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "listingId and a positive amount are required")
		return
	}
	ctx := r.Context()
	listing, err := a.DB.GetListing(ctx, in.ListingID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load listing")
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Listing not found")
		return
	}
	if listing.SellerID == buyerID {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Cannot make an offer on your own listing")
		return
	}
	buyer, err := a.DB.GetUserByID(ctx, buyerID)
	if err != nil || buyer == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unknown user")
		return
	}

	offer := &Offer{ListingID: listing.ID, BuyerID: buyerID, Amount: in.Amount}
	if err := a.DB.CreateOffer(ctx, offer); err != nil {
		a.logger.Error("create offer", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create offer")
		return
	}
	a.notifier.NewOffer(listing.SellerID, offer.ID, listing.ID, buyer.Name(), listing.Title, offer.Amount)
	writeJSON(w, http.StatusCreated, offer)
}

func (a *App) HandleCreateListing(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Title    string  `json:"title"`
		Category string  `json:"category"`
		Price    float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Category) == "" || in.Price < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "title, category and a non-negative price are required")
		return
	}
	ctx := r.Context()
	listing := &Listing{
		SellerID: sellerID,
		Title:    strings.TrimSpace(in.Title),
		Category: strings.ToLower(strings.TrimSpace(in.Category)),
		Price:    in.Price,
	}
	if err := a.DB.CreateListing(ctx, listing); err != nil {
		a.logger.Error("create listing", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create listing")
		return
	}

	queued := 0
	watchers, err := a.DB.UsersWishingFor(ctx, listing.Category)
	if err != nil {
		a.logger.Error("resolve wishlist watchers", slog.String("category", listing.Category), slog.Any("error", err))
	}
	for _, uid := range watchers {
		if uid == sellerID {
			continue
		}
		if a.notifier.WishlistMatch(uid, listing.ID, listing.Title, listing.Category) {
			queued++
		}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"listing":       listing,
		"notifications": queued,
	})
}

func (a *App) HandleGetWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cats, err := a.DB.GetWishlist(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load wishlist")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

func (a *App) HandleUpdateWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Categories []string `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := a.DB.SetWishlist(r.Context(), userID, in.Categories); err != nil {
		a.logger.Error("save wishlist", slog.Int64("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save wishlist")
		return
	}
	a.HandleGetWishlist(w, r)
}

// HandleUpload accepts and discards the body; storage lives elsewhere.
func (a *App) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	n, err := io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload exceeds 10 MB")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"received": n})
}
