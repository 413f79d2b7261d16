package push

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type captureQueue struct{ jobs []Job }

func (c *captureQueue) Enqueue(job Job) bool {
	c.jobs = append(c.jobs, job)
	return true
}

func TestNotifier_Templates(t *testing.T) {
	q := &captureQueue{}
	n := NewNotifier(q)

	require.True(t, n.NewMessage(2, 77, "Sam", "is the desk still available?"))
	require.True(t, n.NewOffer(3, 9, 40, "Ana", "Desk lamp", 12.5))
	require.True(t, n.WishlistMatch(4, 40, "Desk lamp", "furniture"))
	require.True(t, n.ListingMatch(5, 41, "Bike", 80))
	require.Len(t, q.jobs, 4)

	msg := q.jobs[0]
	require.Equal(t, int64(2), msg.UserID)
	require.Equal(t, CategoryMessage, msg.Category)
	require.Equal(t, "message-77", msg.Payload.Tag)
	require.Equal(t, "New message from Sam", msg.Payload.Title)
	require.Equal(t, "/messages/77", msg.Payload.Data.URL)

	offer := q.jobs[1]
	require.Equal(t, CategoryOffer, offer.Category)
	require.Equal(t, "offer-9", offer.Payload.Tag)
	require.Equal(t, "New offer: $12.50", offer.Payload.Title)
	require.Equal(t, "40", offer.Payload.Data.ListingID)
	require.Equal(t, []Action{{Action: "accept", Title: "Accept"}, {Action: "decline", Title: "Decline"}}, offer.Payload.Actions)

	wish := q.jobs[2]
	require.Equal(t, CategoryWishlistMatch, wish.Category)
	require.Equal(t, "wishlist-40", wish.Payload.Tag)

	match := q.jobs[3]
	require.Equal(t, CategoryListingMatch, match.Category)
	require.Equal(t, "listing-41", match.Payload.Tag)
}

func TestNotifier_TruncatesPreview(t *testing.T) {
	q := &captureQueue{}
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	NewNotifier(q).NewMessage(1, 1, "Sam", string(long))
	require.Len(t, []rune(q.jobs[0].Payload.Body), 120)
}
