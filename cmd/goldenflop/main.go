package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/goldenflop/goldenflop/internal/auth"
	"github.com/goldenflop/goldenflop/internal/chain"
	"github.com/goldenflop/goldenflop/internal/config"
	"github.com/goldenflop/goldenflop/internal/economy"
	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/registry"
	"github.com/goldenflop/goldenflop/internal/rest"
	"github.com/goldenflop/goldenflop/internal/room"
	"github.com/goldenflop/goldenflop/internal/server"
	"github.com/goldenflop/goldenflop/internal/store"
	"github.com/goldenflop/goldenflop/internal/vault"
)

var CLI struct {
	Config     string `short:"c" long:"config" default:"goldenflop.hcl" help:"Path to HCL configuration file"`
	Addr       string `short:"a" long:"addr" help:"Websocket address to bind to (overrides config)"`
	LogLevel   string `short:"l" long:"log-level" help:"Log level (overrides config)"`
	DB         string `short:"d" long:"db" help:"Database path (overrides config)"`
	AdminToken string `long:"admin-token" env:"GOLDENFLOP_ADMIN_TOKEN" help:"Bearer token for admin endpoints"`
	MemNonces  bool   `long:"mem-nonces" help:"Use the in-memory nonce store instead of Redis"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		kctx.Exit(1)
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.DB != "" {
		cfg.Server.DBPath = CLI.DB
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		kctx.Exit(1)
	}

	logger := log.New(os.Stderr)
	logger.SetColorProfile(termenv.TrueColor)
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		kctx.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	st, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	chainClient := chain.NewRPCClient(cfg.Chain.RPCURL, cfg.Chain.Commitment, nil)
	ledger := economy.NewLedger(st, logger)

	policy := vault.Policy{RentExemptMin: cfg.Vault.RentExemptMin, FeeBuffer: cfg.Vault.FeeBuffer}
	vaults := vault.NewManager(chainClient, st, policy, logger, nil)
	if err := vaults.RecoverPending(); err != nil {
		return fmt.Errorf("payout recovery scan: %w", err)
	}

	// The server is the Sender for every room; the service is attached
	// once the registry exists.
	wsServer := server.NewServer(st, logger)

	var service *server.Service
	hooks := room.Hooks{
		PersistSeats: func(roomID string, seats []store.SeatRecord) {
			if err := st.SaveRoomSeats(roomID, seats); err != nil {
				logger.Error("failed to persist seats", "room", roomID, "error", err)
			}
		},
		OnCashOut: func(roomID string, player room.RoomPlayer, chips int64) {
			service.SettleCashOut(roomID, player, chips)
		},
		RecordHandResult: func(roomID, handID string, result *engine.Result) {
			ledger.RecordHandResult(roomID, handID, result)
		},
		CollectRake: func(roomID string, amount int64) {
			service.CollectRake(roomID, amount)
		},
		OnLobbyChanged: func() {
			wsServer.BroadcastLobby()
		},
	}

	reg := registry.New(wsServer, hooks, logger, nil)
	wsServer.SetRegistry(reg)

	service = server.NewService(reg, st, vaults, ledger, chainClient, wsServer,
		chain.Address(cfg.Vault.SweepDestination), logger)
	wsServer.SetService(service)

	// Shared development key, used by tables without their own.
	var sharedKey *chain.Keypair
	if cfg.Vault.SharedKeyFile != "" {
		sharedKey, err = chain.LoadKeypair(cfg.Vault.SharedKeyFile)
		if err != nil {
			return fmt.Errorf("loading shared vault key: %w", err)
		}
		logger.Warn("shared vault key configured; per-table keys are preferred outside development")
	}

	for _, t := range cfg.Tables {
		tableCfg := engine.Config{
			SmallBlind:  t.SmallBlind,
			BigBlind:    t.BigBlind,
			MinBuyIn:    t.BuyInMin,
			MaxBuyIn:    t.BuyInMax,
			MaxSeats:    t.MaxPlayers,
			TurnTimeout: time.Duration(t.TimeoutSeconds) * time.Second,
			TokenType:   t.TokenType,
			Premium:     t.Premium,
			RakePercent: t.RakePercent,
			RakeCap:     t.RakeCap,
		}

		seats, err := st.LoadRoomSeats(t.ID)
		if err != nil {
			logger.Error("failed to load persisted seats", "room", t.ID, "error", err)
		}
		reg.AddPersistent(t.ID, t.Name, tableCfg, seats)

		key := sharedKey
		if t.VaultKeyFile != "" {
			key, err = chain.LoadKeypair(t.VaultKeyFile)
			if err != nil {
				return fmt.Errorf("loading vault key for %s: %w", t.ID, err)
			}
		}
		if key != nil {
			vaults.Register(t.ID, key)
		} else {
			logger.Warn("table has no vault key; on-chain sits disabled", "table", t.ID)
		}
	}

	var nonces auth.NonceStore
	if CLI.MemNonces {
		nonces = auth.NewMemoryNonceStore(nil)
	} else {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		nonces = auth.NewRedisNonceStore(redisClient)
	}

	restHandler := rest.NewHandler(st, ledger, nonces, chainClient, vaults,
		chain.Address(cfg.Chain.TreasuryAddress), chain.Address(cfg.Vault.SweepDestination),
		CLI.AdminToken, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsAddr := cfg.Addr()
	if CLI.Addr != "" {
		wsAddr = CLI.Addr
	}
	logger.Info("starting Golden Flop server",
		"ws", wsAddr, "rest", cfg.RESTAddr(), "tables", len(cfg.Tables))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return wsServer.Start(ctx, wsAddr)
	})
	group.Go(func() error {
		return rest.ListenAndServe(ctx, cfg.RESTAddr(), restHandler)
	})

	return group.Wait()
}
