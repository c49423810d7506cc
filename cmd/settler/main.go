package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"referral-ledger/internal/conditional"
	"referral-ledger/internal/domain"
	"referral-ledger/internal/ethereum"
	"referral-ledger/internal/observability"
	"referral-ledger/internal/settlement"
	"referral-ledger/internal/storage"
	chstore "referral-ledger/internal/storage/clickhouse"
	"referral-ledger/internal/storage/memory"
	"referral-ledger/internal/storage/migrations"
	pgstore "referral-ledger/internal/storage/postgres"
	"referral-ledger/internal/vault"
)

func main() {
	// Parse flags
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ethereum RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", "", "Ethereum WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for the audit trail (empty to disable)")
	vaultAddress := flag.String("vault-address", "", "Vault contract address")
	conditionalAddress := flag.String("conditional-address", "", "Conditional token (ERC-1155) contract address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[settler] ", log.LstdFlags|log.Lshortfile)

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, *rpcEndpoint, *wsEndpoint, *postgresDSN, *clickhouseDSN,
		*vaultAddress, *conditionalAddress, *useMemory)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// run consumes vault events and settles referral entries until cancelled.
func run(ctx context.Context, logger *log.Logger, rpcEndpoint, wsEndpoint, postgresDSN, clickhouseDSN, vaultAddress, conditionalAddress string, useMemory bool) error {
	if rpcEndpoint == "" {
		return fmt.Errorf("--rpc-endpoint is required")
	}
	if wsEndpoint == "" {
		return fmt.Errorf("--ws-endpoint is required")
	}
	if vaultAddress == "" {
		return fmt.Errorf("--vault-address is required")
	}
	if conditionalAddress == "" {
		return fmt.Errorf("--conditional-address is required")
	}
	if !useMemory && postgresDSN == "" {
		return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Create chain clients
	rpc := ethereum.NewHTTPClient(rpcEndpoint)

	ws, err := ethereum.NewWSClient(ctx, wsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	// Create stores (use interfaces)
	var entryStore storage.ReferralEntryStore = memory.NewReferralEntryStore()
	var marketStore storage.MarketStore = memory.NewMarketStore()

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}

		entryStore = pgstore.NewReferralEntryStore(pool)
		marketStore = pgstore.NewMarketStore(pool)
	}

	// Audit trail is optional
	var historyStore storage.SettlementHistoryStore
	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer conn.Close()

		historyStore = chstore.NewSettlementHistoryStore(conn)
	}

	// Assemble the settlement core
	matcher := settlement.NewMatcher(entryStore, settlement.DefaultMatchRetry, nil, logger)
	resolver := settlement.NewResolver(marketStore, rpc, conditional.NewDecoder(conditionalAddress), logger)
	settler := settlement.NewSettler(entryStore, matcher, resolver, historyStore, logger)

	// Subscribe to all vault logs; unknown topics are skipped by the parser.
	logs, err := ws.SubscribeLogs(ctx, ethereum.LogsFilter{Address: vaultAddress})
	if err != nil {
		return fmt.Errorf("subscribe to vault logs: %w", err)
	}

	logger.Printf("Settling vault=%s conditional=%s", vaultAddress, conditionalAddress)

	// Each event settles in its own goroutine; the matcher's delayed
	// retry must not block later events.
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lg, ok := <-logs:
			if !ok {
				return fmt.Errorf("vault log subscription closed")
			}

			event, err := vault.ParseLog(lg)
			if err != nil {
				logger.Printf("parse vault log tx=%s: %v", lg.TxHash, err)
				observability.RecordSettlementError("event_parse")
				continue
			}
			if event == nil {
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				settle(ctx, logger, settler, event)
			}()
		}
	}
}

// settle dispatches one vault event to the settlement core.
func settle(ctx context.Context, logger *log.Logger, settler *settlement.Settler, event *vault.Event) {
	params := settlement.MatchParams{
		UserAddress:     event.UserAddress,
		TotalTokens:     event.TotalTokens,
		EventTimestamp:  time.Now().UnixMilli(),
		TransactionHash: event.TransactionHash,
	}
	if event.Market != nil {
		params.Structured = &settlement.StructuredParams{
			MarketIndex: event.Market.Index,
			IsA:         event.Market.IsA,
			Amount:      event.Market.Amount,
		}
	}

	var err error
	switch event.Type {
	case domain.EntryTypeDeposit:
		err = settler.MatchDepositAndCalculateValue(ctx, params)
	case domain.EntryTypeWithdraw:
		err = settler.MatchWithdrawAndDecreaseValue(ctx, params)
	}
	if err != nil && err != context.Canceled {
		logger.Printf("settle %s user=%s tx=%s: %v",
			event.Type, event.UserAddress, event.TransactionHash, err)
	}
}
