// Package rest is the auxiliary HTTP surface: signed-message login,
// deposit notification for the off-chain ledger path, withdrawal
// requests, vault address lookup, and the admin sweep. Every endpoint
// sits behind a per-IP rate limiter.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/goldenflop/goldenflop/internal/auth"
	"github.com/goldenflop/goldenflop/internal/chain"
	"github.com/goldenflop/goldenflop/internal/economy"
	"github.com/goldenflop/goldenflop/internal/store"
	"github.com/goldenflop/goldenflop/internal/vault"
)

// Rate limiting tuning.
const (
	requestsPerSecond = 5
	burstSize         = 10
	limiterIdleSweep  = 10 * time.Minute
)

// Handler serves the REST surface.
type Handler struct {
	store      *store.Store
	ledger     *economy.Ledger
	nonces     auth.NonceStore
	chain      chain.Client
	vaults     *vault.Manager
	treasury   chain.Address
	sweepDest  chain.Address
	adminToken string
	logger     *log.Logger

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewHandler wires the REST surface.
func NewHandler(s *store.Store, ledger *economy.Ledger, nonces auth.NonceStore, chainClient chain.Client, vaults *vault.Manager, treasury, sweepDest chain.Address, adminToken string, logger *log.Logger) *Handler {
	return &Handler{
		store:      s,
		ledger:     ledger,
		nonces:     nonces,
		chain:      chainClient,
		vaults:     vaults,
		treasury:   treasury,
		sweepDest:  sweepDest,
		adminToken: adminToken,
		logger:     logger.WithPrefix("rest"),
		limiters:   make(map[string]*limiterEntry),
	}
}

// Routes returns the muxed handler with rate limiting applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/nonce", h.handleNonce)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /deposit/notify", h.handleDepositNotify)
	mux.HandleFunc("POST /withdraw", h.handleWithdraw)
	mux.HandleFunc("GET /rooms/{id}/vault", h.handleVaultAddress)
	mux.HandleFunc("POST /admin/sweep", h.handleAdminSweep)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h.rateLimit(mux)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		h.mu.Lock()
		entry, ok := h.limiters[ip]
		if !ok {
			entry = &limiterEntry{limiter: rate.NewLimiter(requestsPerSecond, burstSize)}
			h.limiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		if len(h.limiters) > 10_000 {
			h.evictIdleLocked()
		}
		h.mu.Unlock()

		if !entry.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) evictIdleLocked() {
	cutoff := time.Now().Add(-limiterIdleSweep)
	for ip, entry := range h.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(h.limiters, ip)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := h.nonces.Issue(r.Context())
	if err != nil {
		h.logger.Error("nonce issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue nonce")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nonce":     nonce,
		"message":   auth.LoginMessage(nonce),
		"expiresIn": int(auth.NonceTTL.Seconds()),
	})
}

type loginRequest struct {
	Wallet    string `json:"wallet"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	Name      string `json:"name,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Wallet == "" || req.Nonce == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "wallet, nonce and signature required")
		return
	}

	// Consume the nonce first so a bad signature still burns it.
	if err := h.nonces.Redeem(r.Context(), req.Nonce); err != nil {
		writeError(w, http.StatusUnauthorized, "nonce invalid or expired")
		return
	}
	if err := auth.VerifyLogin(chain.Address(req.Wallet), req.Nonce, req.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	user, err := h.store.GetOrCreateUserByWallet(req.Wallet, req.Name)
	if err != nil {
		h.logger.Error("user resolution failed", "wallet", req.Wallet, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	token, err := auth.NewToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}
	if err := h.store.CreateSession(token, user.ID, time.Now().Add(auth.SessionTTL)); err != nil {
		h.logger.Error("session creation failed", "user", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":  token,
		"userId": user.ID,
	})
}

type depositNotifyRequest struct {
	Wallet    string `json:"wallet"`
	TxID      string `json:"txId"`
	Amount    int64  `json:"amount"`
	TokenType string `json:"tokenType,omitempty"`
}

// handleDepositNotify verifies a treasury transfer and credits the
// internal balance, exactly once per txId.
func (h *Handler) handleDepositNotify(w http.ResponseWriter, r *http.Request) {
	var req depositNotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Wallet == "" || req.TxID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "wallet, txId and positive amount required")
		return
	}
	tokenType := req.TokenType
	if tokenType == "" {
		tokenType = "SOL"
	}

	user, err := h.store.GetOrCreateUserByWallet(req.Wallet, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	// Idempotency: a known txId is acknowledged without a second credit.
	if existing, err := h.store.GetDepositByTx(req.TxID); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    existing.Status,
			"duplicate": true,
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to check deposit")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	tx, err := h.chain.GetTransaction(ctx, req.TxID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "transaction not found")
		return
	}
	if err := chain.VerifyDeposit(tx, chain.Address(req.Wallet), h.treasury, req.Amount); err != nil {
		if _, recordErr := h.store.CreateDeposit(user.ID, tokenType, req.Amount, req.TxID, store.DepositFailed); recordErr != nil {
			h.logger.Error("failed to record failed deposit", "tx", req.TxID, "error", recordErr)
		}
		writeError(w, http.StatusBadRequest, "deposit verification failed")
		return
	}

	if _, err := h.store.CreateDeposit(user.ID, tokenType, req.Amount, req.TxID, store.DepositConfirmed); err != nil {
		// A concurrent submission won the unique tx_id race.
		writeJSON(w, http.StatusOK, map[string]any{"status": store.DepositConfirmed, "duplicate": true})
		return
	}
	if err := h.ledger.CashOut(user.ID, tokenType, req.Amount); err != nil {
		h.logger.Error("deposit credit failed", "tx", req.TxID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to credit balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": store.DepositConfirmed})
}

type withdrawRequest struct {
	Amount      int64  `json:"amount"`
	TokenType   string `json:"tokenType,omitempty"`
	Destination string `json:"destination"`
}

// handleWithdraw debits the balance atomically and records a PENDING
// withdrawal for the payout worker.
func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Amount <= 0 || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "positive amount and destination required")
		return
	}
	tokenType := req.TokenType
	if tokenType == "" {
		tokenType = "SOL"
	}

	if err := h.ledger.BuyIn(user.ID, tokenType, req.Amount); err != nil {
		if errors.Is(err, economy.ErrInsufficientBalance) {
			writeError(w, http.StatusBadRequest, "insufficient balance")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to debit balance")
		return
	}

	withdrawal, err := h.store.CreateWithdrawal(user.ID, tokenType, req.Amount, req.Destination)
	if err != nil {
		// The debit already happened; put it back.
		if refundErr := h.ledger.Refund(user.ID, tokenType, req.Amount); refundErr != nil {
			h.logger.Error("failed to refund after withdrawal record failure",
				"user", user.ID, "amount", req.Amount, "error", refundErr)
		}
		writeError(w, http.StatusInternalServerError, "failed to record withdrawal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"withdrawalId": withdrawal.ID,
		"status":       withdrawal.Status,
	})
}

func (h *Handler) handleVaultAddress(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	v, ok := h.vaults.Get(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "room has no vault")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": v.Address()})
}

// handleAdminSweep reports per-room vault balances and sweeps each
// balance less the reserve to the configured destination.
func (h *Handler) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	if h.adminToken == "" || r.Header.Get("Authorization") != "Bearer "+h.adminToken {
		writeError(w, http.StatusUnauthorized, "admin token required")
		return
	}

	type sweepResult struct {
		RoomID  string        `json:"roomId"`
		Address chain.Address `json:"address"`
		Balance int64         `json:"balance"`
		Swept   int64         `json:"swept"`
		TxID    string        `json:"txId,omitempty"`
		Error   string        `json:"error,omitempty"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var results []sweepResult
	for roomID, v := range h.vaults.All() {
		res := sweepResult{RoomID: roomID, Address: v.Address()}
		if balance, err := v.Balance(ctx); err == nil {
			res.Balance = balance
		}
		swept, txID, err := v.Sweep(ctx, h.sweepDest)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Swept = swept
			res.TxID = txID
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{"rooms": results})
}

// authenticate resolves the bearer token to a user.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		writeError(w, http.StatusUnauthorized, "bearer token required")
		return nil, false
	}

	sess, err := h.store.GetSession(header[len(prefix):], time.Now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return nil, false
	}
	user, err := h.store.GetUserByID(sess.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return nil, false
	}
	return user, true
}
