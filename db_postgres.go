package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/example/campusgate/internal/push"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func (p *PostgresDB) CreateUser(ctx context.Context, email, password, displayName string) (*User, error) {
	u := &User{Email: email, Password: password, DisplayName: displayName}
	err := p.db.QueryRowContext(ctx, `INSERT INTO users(email,password,display_name,created_at) VALUES($1,$2,$3,now()) RETURNING id, created_at`,
		email, password, displayName).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, errUserExists
		}
		return nil, err
	}
	return u, nil
}

func (p *PostgresDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.DisplayName, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `SELECT id,email,password,display_name,created_at FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `SELECT id,email,password,display_name,created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) UpsertSubscription(ctx context.Context, sub push.Subscription) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO push_subscriptions(user_id,endpoint,p256dh,auth,created_at,updated_at) VALUES($1,$2,$3,$4,now(),now())
		ON CONFLICT (user_id,endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, updated_at = now()`,
		sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth)
	return err
}

func (p *PostgresDB) ListSubscriptions(ctx context.Context, userID int64) ([]push.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id,endpoint,p256dh,auth,created_at,updated_at FROM push_subscriptions WHERE user_id = $1 ORDER BY endpoint`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []push.Subscription
	for rows.Next() {
		var sub push.Subscription
		if err := rows.Scan(&sub.UserID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (p *PostgresDB) DeleteSubscription(ctx context.Context, userID int64, endpoint string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return push.ErrNotFound
	}
	return nil
}

func (p *PostgresDB) GetPreferences(ctx context.Context, userID int64) (push.Preferences, error) {
	var prefs push.Preferences
	err := p.db.QueryRowContext(ctx, `SELECT push_enabled,messages,listing_matches,wishlist_matches,offers FROM notification_preferences WHERE user_id = $1`, userID).
		Scan(&prefs.PushEnabled, &prefs.Messages, &prefs.ListingMatches, &prefs.WishlistMatches, &prefs.Offers)
	if err == sql.ErrNoRows {
		return push.DefaultPreferences(), nil
	}
	return prefs, err
}

func (p *PostgresDB) SetPreferences(ctx context.Context, userID int64, prefs push.Preferences) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO notification_preferences(user_id,push_enabled,messages,listing_matches,wishlist_matches,offers,updated_at) VALUES($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (user_id) DO UPDATE SET push_enabled = EXCLUDED.push_enabled, messages = EXCLUDED.messages, listing_matches = EXCLUDED.listing_matches,
		wishlist_matches = EXCLUDED.wishlist_matches, offers = EXCLUDED.offers, updated_at = now()`,
		userID, prefs.PushEnabled, prefs.Messages, prefs.ListingMatches, prefs.WishlistMatches, prefs.Offers)
	return err
}

func (p *PostgresDB) SetWishlist(ctx context.Context, userID int64, categories []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM wishlist_categories WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if cats := normalizeCategories(categories); len(cats) > 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wishlist_categories(user_id,category) SELECT $1, unnest($2::text[])`, userID, pq.Array(cats)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresDB) GetWishlist(ctx context.Context, userID int64) ([]string, error) {
	return queryStrings(ctx, p.db, `SELECT category FROM wishlist_categories WHERE user_id = $1 ORDER BY category`, userID)
}

func (p *PostgresDB) UsersWishingFor(ctx context.Context, category string) ([]int64, error) {
	return queryIDs(ctx, p.db, `SELECT user_id FROM wishlist_categories WHERE category = $1 ORDER BY user_id`, strings.ToLower(strings.TrimSpace(category)))
}

func (p *PostgresDB) CreateListing(ctx context.Context, l *Listing) error {
	return p.db.QueryRowContext(ctx, `INSERT INTO listings(seller_id,title,category,price,created_at) VALUES($1,$2,$3,$4,now()) RETURNING id, created_at`,
		l.SellerID, l.Title, l.Category, l.Price).Scan(&l.ID, &l.CreatedAt)
}

func (p *PostgresDB) GetListing(ctx context.Context, id int64) (*Listing, error) {
	var l Listing
	err := p.db.QueryRowContext(ctx, `SELECT id,seller_id,title,category,price,created_at FROM listings WHERE id = $1`, id).
		Scan(&l.ID, &l.SellerID, &l.Title, &l.Category, &l.Price, &l.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (p *PostgresDB) CreateOffer(ctx context.Context, o *Offer) error {
	return p.db.QueryRowContext(ctx, `INSERT INTO offers(listing_id,buyer_id,amount,created_at) VALUES($1,$2,$3,now()) RETURNING id, created_at`,
		o.ListingID, o.BuyerID, o.Amount).Scan(&o.ID, &o.CreatedAt)
}

func (p *PostgresDB) CreateMessage(ctx context.Context, m *Message) error {
	return p.db.QueryRowContext(ctx, `INSERT INTO messages(conversation_id,sender_id,recipient_id,body,created_at) VALUES($1,$2,$3,$4,now()) RETURNING id, created_at`,
		m.ConversationID, m.SenderID, m.RecipientID, m.Body).Scan(&m.ID, &m.CreatedAt)
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
