package main

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/campusgate/internal/push"
)

var errUserExists = errors.New("user exists")

// DB interface for database operations
type DB interface {
	Init() error
	// User operations
	CreateUser(ctx context.Context, email, password, displayName string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	// Push subscription registry
	UpsertSubscription(ctx context.Context, sub push.Subscription) error
	ListSubscriptions(ctx context.Context, userID int64) ([]push.Subscription, error)
	DeleteSubscription(ctx context.Context, userID int64, endpoint string) error
	// Notification preferences
	GetPreferences(ctx context.Context, userID int64) (push.Preferences, error)
	SetPreferences(ctx context.Context, userID int64, prefs push.Preferences) error
	// Wishlist categories
	SetWishlist(ctx context.Context, userID int64, categories []string) error
	GetWishlist(ctx context.Context, userID int64) ([]string, error)
	UsersWishingFor(ctx context.Context, category string) ([]int64, error)
	// Marketplace events
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id int64) (*Listing, error)
	CreateOffer(ctx context.Context, o *Offer) error
	CreateMessage(ctx context.Context, m *Message) error
}

func normalizeCategories(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type subKey struct {
	userID   int64
	endpoint string
}

// Memory DB
type MemDB struct {
	mu       sync.RWMutex
	users    map[string]*User
	subs     map[subKey]push.Subscription
	prefs    map[int64]push.Preferences
	wishlist map[int64][]string
	listings map[int64]*Listing
	seq      int64
	nowF     func() time.Time
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:    map[string]*User{},
		subs:     map[subKey]push.Subscription{},
		prefs:    map[int64]push.Preferences{},
		wishlist: map[int64][]string{},
		listings: map[int64]*Listing{},
		seq:      1,
		nowF:     time.Now,
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) nextID() int64 {
	id := m.seq
	m.seq++
	return id
}

func (m *MemDB) CreateUser(ctx context.Context, email, password, displayName string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, errUserExists
	}
	u := &User{ID: m.nextID(), Email: email, Password: password, DisplayName: displayName, CreatedAt: m.nowF()}
	m.users[email] = u
	return u, nil
}

func (m *MemDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *MemDB) UpsertSubscription(ctx context.Context, sub push.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{sub.UserID, sub.Endpoint}
	now := m.nowF()
	if existing, ok := m.subs[k]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	m.subs[k] = sub
	return nil
}

func (m *MemDB) ListSubscriptions(ctx context.Context, userID int64) ([]push.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []push.Subscription
	for k, s := range m.subs {
		if k.userID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (m *MemDB) DeleteSubscription(ctx context.Context, userID int64, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{userID, endpoint}
	if _, ok := m.subs[k]; !ok {
		return push.ErrNotFound
	}
	delete(m.subs, k)
	return nil
}

func (m *MemDB) GetPreferences(ctx context.Context, userID int64) (push.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	return push.DefaultPreferences(), nil
}

func (m *MemDB) SetPreferences(ctx context.Context, userID int64, prefs push.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[userID] = prefs
	return nil
}

func (m *MemDB) SetWishlist(ctx context.Context, userID int64, categories []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wishlist[userID] = normalizeCategories(categories)
	return nil
}

func (m *MemDB) GetWishlist(ctx context.Context, userID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.wishlist[userID]...), nil
}

func (m *MemDB) UsersWishingFor(ctx context.Context, category string) ([]int64, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int64
	for userID, cats := range m.wishlist {
		for _, c := range cats {
			if c == category {
				out = append(out, userID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemDB) CreateListing(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.nextID()
	l.CreatedAt = m.nowF()
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemDB) GetListing(ctx context.Context, id int64) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.listings[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) CreateOffer(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextID()
	o.CreatedAt = m.nowF()
	return nil
}

func (m *MemDB) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.nextID()
	msg.CreatedAt = m.nowF()
	return nil
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT UNIQUE NOT NULL, password TEXT NOT NULL, display_name TEXT NOT NULL DEFAULT '', created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, endpoint TEXT NOT NULL, p256dh TEXT NOT NULL, auth TEXT NOT NULL, created_at TEXT, updated_at TEXT, PRIMARY KEY (user_id, endpoint));`,
		`CREATE TABLE IF NOT EXISTS notification_preferences (user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE, push_enabled INTEGER NOT NULL DEFAULT 1, messages INTEGER NOT NULL DEFAULT 1, listing_matches INTEGER NOT NULL DEFAULT 1, wishlist_matches INTEGER NOT NULL DEFAULT 1, offers INTEGER NOT NULL DEFAULT 1, updated_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS wishlist_categories (user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE, category TEXT NOT NULL, PRIMARY KEY (user_id, category));`,
		`CREATE INDEX IF NOT EXISTS idx_wishlist_category ON wishlist_categories(category);`,
		`CREATE TABLE IF NOT EXISTS listings (id INTEGER PRIMARY KEY AUTOINCREMENT, seller_id INTEGER NOT NULL REFERENCES users(id), title TEXT NOT NULL, category TEXT NOT NULL, price REAL NOT NULL, created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS offers (id INTEGER PRIMARY KEY AUTOINCREMENT, listing_id INTEGER NOT NULL REFERENCES listings(id), buyer_id INTEGER NOT NULL REFERENCES users(id), amount REAL NOT NULL, created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS messages (id INTEGER PRIMARY KEY AUTOINCREMENT, conversation_id INTEGER NOT NULL, sender_id INTEGER NOT NULL REFERENCES users(id), recipient_id INTEGER NOT NULL REFERENCES users(id), body TEXT NOT NULL, created_at TEXT);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func sqliteNow() string { return time.Now().UTC().Format(time.RFC3339) }

func parseSQLiteTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

func (s *SQLiteDB) CreateUser(ctx context.Context, email, password, displayName string) (*User, error) {
	now := sqliteNow()
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(email,password,display_name,created_at) VALUES(?,?,?,?)`, email, password, displayName, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, errUserExists
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Email: email, Password: password, DisplayName: displayName, CreatedAt: parseSQLiteTime(now)}, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.DisplayName, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = parseSQLiteTime(created)
	return &u, nil
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id,email,password,display_name,created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id,email,password,display_name,created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) UpsertSubscription(ctx context.Context, sub push.Subscription) error {
	now := sqliteNow()
	_, err := s.db.ExecContext(ctx, `INSERT INTO push_subscriptions(user_id,endpoint,p256dh,auth,created_at,updated_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT(user_id,endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth, updated_at = excluded.updated_at`,
		sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, now, now)
	return err
}

func (s *SQLiteDB) ListSubscriptions(ctx context.Context, userID int64) ([]push.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id,endpoint,p256dh,auth,created_at,updated_at FROM push_subscriptions WHERE user_id = ? ORDER BY endpoint`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []push.Subscription
	for rows.Next() {
		var sub push.Subscription
		var created, updated string
		if err := rows.Scan(&sub.UserID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &created, &updated); err != nil {
			return nil, err
		}
		sub.CreatedAt = parseSQLiteTime(created)
		sub.UpdatedAt = parseSQLiteTime(updated)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteDB) DeleteSubscription(ctx context.Context, userID int64, endpoint string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`, userID, endpoint)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return push.ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) GetPreferences(ctx context.Context, userID int64) (push.Preferences, error) {
	var p push.Preferences
	err := s.db.QueryRowContext(ctx, `SELECT push_enabled,messages,listing_matches,wishlist_matches,offers FROM notification_preferences WHERE user_id = ?`, userID).
		Scan(&p.PushEnabled, &p.Messages, &p.ListingMatches, &p.WishlistMatches, &p.Offers)
	if err == sql.ErrNoRows {
		return push.DefaultPreferences(), nil
	}
	return p, err
}

func (s *SQLiteDB) SetPreferences(ctx context.Context, userID int64, p push.Preferences) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notification_preferences(user_id,push_enabled,messages,listing_matches,wishlist_matches,offers,updated_at) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET push_enabled = excluded.push_enabled, messages = excluded.messages, listing_matches = excluded.listing_matches,
		wishlist_matches = excluded.wishlist_matches, offers = excluded.offers, updated_at = excluded.updated_at`,
		userID, p.PushEnabled, p.Messages, p.ListingMatches, p.WishlistMatches, p.Offers, sqliteNow())
	return err
}

func (s *SQLiteDB) SetWishlist(ctx context.Context, userID int64, categories []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM wishlist_categories WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, c := range normalizeCategories(categories) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wishlist_categories(user_id,category) VALUES(?,?)`, userID, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetWishlist(ctx context.Context, userID int64) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT category FROM wishlist_categories WHERE user_id = ? ORDER BY category`, userID)
}

func (s *SQLiteDB) UsersWishingFor(ctx context.Context, category string) ([]int64, error) {
	return queryIDs(ctx, s.db, `SELECT user_id FROM wishlist_categories WHERE category = ? ORDER BY user_id`, strings.ToLower(strings.TrimSpace(category)))
}

func (s *SQLiteDB) CreateListing(ctx context.Context, l *Listing) error {
	now := sqliteNow()
	res, err := s.db.ExecContext(ctx, `INSERT INTO listings(seller_id,title,category,price,created_at) VALUES(?,?,?,?,?)`, l.SellerID, l.Title, l.Category, l.Price, now)
	if err != nil {
		return err
	}
	l.ID, _ = res.LastInsertId()
	l.CreatedAt = parseSQLiteTime(now)
	return nil
}

func (s *SQLiteDB) GetListing(ctx context.Context, id int64) (*Listing, error) {
	var l Listing
	var created string
	err := s.db.QueryRowContext(ctx, `SELECT id,seller_id,title,category,price,created_at FROM listings WHERE id = ?`, id).
		Scan(&l.ID, &l.SellerID, &l.Title, &l.Category, &l.Price, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	l.CreatedAt = parseSQLiteTime(created)
	return &l, nil
}

func (s *SQLiteDB) CreateOffer(ctx context.Context, o *Offer) error {
	now := sqliteNow()
	res, err := s.db.ExecContext(ctx, `INSERT INTO offers(listing_id,buyer_id,amount,created_at) VALUES(?,?,?,?)`, o.ListingID, o.BuyerID, o.Amount, now)
	if err != nil {
		return err
	}
	o.ID, _ = res.LastInsertId()
	o.CreatedAt = parseSQLiteTime(now)
	return nil
}

func (s *SQLiteDB) CreateMessage(ctx context.Context, m *Message) error {
	now := sqliteNow()
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages(conversation_id,sender_id,recipient_id,body,created_at) VALUES(?,?,?,?,?)`, m.ConversationID, m.SenderID, m.RecipientID, m.Body, now)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	m.CreatedAt = parseSQLiteTime(now)
	return nil
}

func queryStrings(ctx context.Context, db *sql.DB, q string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryIDs(ctx context.Context, db *sql.DB, q string, args ...interface{}) ([]int64, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
