// Package store is the durable sqlite layer: users, chip balances,
// deposits, payouts, withdrawals, persisted seats, hand results, and
// login sessions. Deposits and payouts are the settlement source of
// truth; an operator must be able to reconstruct exposure from them
// alone.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Deposit status values.
const (
	DepositPending   = "PENDING"
	DepositConfirmed = "CONFIRMED"
	DepositFailed    = "FAILED"
)

// Payout status values. PENDING and SENT are non-terminal.
const (
	PayoutPending   = "PENDING"
	PayoutSent      = "SENT"
	PayoutConfirmed = "CONFIRMED"
	PayoutFailed    = "FAILED"
)

// Payout kinds.
const (
	PayoutCashOut = "CASH_OUT"
	PayoutRake    = "RAKE"
	PayoutRefund  = "REFUND"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is a registered account, keyed by wallet address.
type User struct {
	ID        int64
	Wallet    string
	Name      string
	CreatedAt time.Time
}

// Deposit is a verified on-chain transfer into a vault or the treasury.
// TxID is globally unique and doubles as the idempotency key.
type Deposit struct {
	ID        int64
	UserID    int64
	TokenType string
	Amount    int64
	TxID      string
	Status    string
	CreatedAt time.Time
}

// Payout is an outbound on-chain transfer.
type Payout struct {
	ID        int64
	RoomID    string
	UserID    int64
	Kind      string
	Amount    int64
	TxID      sql.NullString
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Withdrawal is a player request to move internal balance back on-chain.
type Withdrawal struct {
	ID        int64
	UserID    int64
	TokenType string
	Amount    int64
	Wallet    string
	Status    string
	CreatedAt time.Time
}

// SeatRecord is one persisted seat of a persistent room.
type SeatRecord struct {
	PlayerID  string `json:"id"`
	Name      string `json:"name"`
	Chips     int64  `json:"chips"`
	SeatIndex int    `json:"seatIndex"`
}

// Session is a bearer credential minted at login.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

// Store wraps the sqlite connection.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" in
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			user_id INTEGER NOT NULL,
			token_type TEXT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, token_type)
		)`,
		`CREATE TABLE IF NOT EXISTS deposits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			token_type TEXT NOT NULL,
			amount INTEGER NOT NULL,
			tx_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS payouts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			amount INTEGER NOT NULL,
			tx_id TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_room_user ON payouts (room_id, user_id, status)`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			token_type TEXT NOT NULL,
			amount INTEGER NOT NULL,
			wallet TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS room_seats (
			room_id TEXT PRIMARY KEY,
			seats TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS hand_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			hand_id TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetOrCreateUserByWallet resolves a user record by wallet address,
// creating it on first sight.
func (s *Store) GetOrCreateUserByWallet(wallet, name string) (*User, error) {
	if _, err := s.db.Exec(
		`INSERT INTO users (wallet, name) VALUES (?, ?) ON CONFLICT(wallet) DO NOTHING`,
		wallet, name,
	); err != nil {
		return nil, err
	}
	return s.GetUserByWallet(wallet)
}

// GetUserByWallet returns the user with the given wallet address.
func (s *Store) GetUserByWallet(wallet string) (*User, error) {
	var u User
	err := s.db.QueryRow(
		`SELECT id, wallet, name, created_at FROM users WHERE wallet = ?`, wallet,
	).Scan(&u.ID, &u.Wallet, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns the user with the given id.
func (s *Store) GetUserByID(id int64) (*User, error) {
	var u User
	err := s.db.QueryRow(
		`SELECT id, wallet, name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Wallet, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Balance returns the current balance for (user, token); missing rows
// read as zero.
func (s *Store) Balance(userID int64, tokenType string) (int64, error) {
	var amount int64
	err := s.db.QueryRow(
		`SELECT amount FROM balances WHERE user_id = ? AND token_type = ?`,
		userID, tokenType,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// Credit adds to a balance, creating the row if needed.
func (s *Store) Credit(userID int64, tokenType string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must be non-negative")
	}
	_, err := s.db.Exec(`
		INSERT INTO balances (user_id, token_type, amount) VALUES (?, ?, ?)
		ON CONFLICT(user_id, token_type) DO UPDATE SET amount = amount + excluded.amount`,
		userID, tokenType, amount,
	)
	return err
}

// DebitIf subtracts amount only when the balance covers it, returning
// whether the debit happened. The check and the update are one
// conditional statement, so concurrent debits can never overdraw.
func (s *Store) DebitIf(userID int64, tokenType string, amount int64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("debit amount must be non-negative")
	}
	res, err := s.db.Exec(`
		UPDATE balances SET amount = amount - ?
		WHERE user_id = ? AND token_type = ? AND amount >= ?`,
		amount, userID, tokenType, amount,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetDepositByTx returns the deposit recorded for an on-chain tx id.
func (s *Store) GetDepositByTx(txID string) (*Deposit, error) {
	var d Deposit
	err := s.db.QueryRow(`
		SELECT id, user_id, token_type, amount, tx_id, status, created_at
		FROM deposits WHERE tx_id = ?`, txID,
	).Scan(&d.ID, &d.UserID, &d.TokenType, &d.Amount, &d.TxID, &d.Status, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDeposit inserts a deposit record; the unique tx_id constraint
// makes double submission fail loudly.
func (s *Store) CreateDeposit(userID int64, tokenType string, amount int64, txID, status string) (*Deposit, error) {
	res, err := s.db.Exec(`
		INSERT INTO deposits (user_id, token_type, amount, tx_id, status)
		VALUES (?, ?, ?, ?, ?)`,
		userID, tokenType, amount, txID, status,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Deposit{ID: id, UserID: userID, TokenType: tokenType, Amount: amount, TxID: txID, Status: status}, nil
}

// UpdateDepositStatus transitions a deposit record.
func (s *Store) UpdateDepositStatus(txID, status string) error {
	_, err := s.db.Exec(`UPDATE deposits SET status = ? WHERE tx_id = ?`, status, txID)
	return err
}

// FindNonTerminalPayout returns the open payout of the given kind for
// (room, user), if any.
func (s *Store) FindNonTerminalPayout(roomID string, userID int64, kind string) (*Payout, error) {
	var p Payout
	err := s.db.QueryRow(`
		SELECT id, room_id, user_id, kind, amount, tx_id, status, created_at, updated_at
		FROM payouts
		WHERE room_id = ? AND user_id = ? AND kind = ? AND status IN (?, ?)
		ORDER BY id LIMIT 1`,
		roomID, userID, kind, PayoutPending, PayoutSent,
	).Scan(&p.ID, &p.RoomID, &p.UserID, &p.Kind, &p.Amount, &p.TxID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayout records a payout as PENDING before anything is signed.
func (s *Store) CreatePayout(roomID string, userID int64, kind string, amount int64) (*Payout, error) {
	res, err := s.db.Exec(`
		INSERT INTO payouts (room_id, user_id, kind, amount, status)
		VALUES (?, ?, ?, ?, ?)`,
		roomID, userID, kind, amount, PayoutPending,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Payout{ID: id, RoomID: roomID, UserID: userID, Kind: kind, Amount: amount, Status: PayoutPending}, nil
}

// UpdatePayout transitions a payout record and attaches the tx id when
// known. An empty txID leaves the column untouched.
func (s *Store) UpdatePayout(id int64, status, txID string) error {
	var err error
	if txID != "" {
		_, err = s.db.Exec(
			`UPDATE payouts SET status = ?, tx_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			status, txID, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE payouts SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			status, id,
		)
	}
	return err
}

// UpdatePayoutAmount records the actually-payable amount when a payout
// was capped by the reserve policy.
func (s *Store) UpdatePayoutAmount(id int64, amount int64) error {
	_, err := s.db.Exec(
		`UPDATE payouts SET amount = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount, id,
	)
	return err
}

// ListNonTerminalPayouts returns all PENDING/SENT payouts, for the
// startup recovery scan.
func (s *Store) ListNonTerminalPayouts() ([]Payout, error) {
	rows, err := s.db.Query(`
		SELECT id, room_id, user_id, kind, amount, tx_id, status, created_at, updated_at
		FROM payouts WHERE status IN (?, ?) ORDER BY id`,
		PayoutPending, PayoutSent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Kind, &p.Amount, &p.TxID, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateWithdrawal records a withdrawal request.
func (s *Store) CreateWithdrawal(userID int64, tokenType string, amount int64, wallet string) (*Withdrawal, error) {
	res, err := s.db.Exec(`
		INSERT INTO withdrawals (user_id, token_type, amount, wallet, status)
		VALUES (?, ?, ?, ?, ?)`,
		userID, tokenType, amount, wallet, PayoutPending,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Withdrawal{ID: id, UserID: userID, TokenType: tokenType, Amount: amount, Wallet: wallet, Status: PayoutPending}, nil
}

// SaveRoomSeats persists a room's seat map as a JSON document.
func (s *Store) SaveRoomSeats(roomID string, seats []SeatRecord) error {
	blob, err := json.Marshal(seats)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO room_seats (room_id, seats, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET seats = excluded.seats, updated_at = CURRENT_TIMESTAMP`,
		roomID, string(blob),
	)
	return err
}

// LoadRoomSeats restores a room's persisted seat map; missing rows read
// as empty.
func (s *Store) LoadRoomSeats(roomID string) ([]SeatRecord, error) {
	var blob string
	err := s.db.QueryRow(`SELECT seats FROM room_seats WHERE room_id = ?`, roomID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var seats []SeatRecord
	if err := json.Unmarshal([]byte(blob), &seats); err != nil {
		return nil, err
	}
	return seats, nil
}

// RecordHandResult stores a hand result as an audit document.
func (s *Store) RecordHandResult(roomID, handID string, result any) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO hand_results (room_id, hand_id, result) VALUES (?, ?, ?)`,
		roomID, handID, string(blob),
	)
	return err
}

// CreateSession stores a bearer token.
func (s *Store) CreateSession(token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt,
	)
	return err
}

// GetSession returns the live session for a token; expired sessions
// read as not found.
func (s *Store) GetSession(token string, now time.Time) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(`
		SELECT token, user_id, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if now.After(sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &sess, nil
}
