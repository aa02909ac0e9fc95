package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/medledger/record-vault-backend/accessctl"
	"github.com/medledger/record-vault-backend/api/handlers"
	"github.com/medledger/record-vault-backend/audit"
	"github.com/medledger/record-vault-backend/blobstore"
	"github.com/medledger/record-vault-backend/cmd/flags"
	"github.com/medledger/record-vault-backend/cryptoutils"
	"github.com/medledger/record-vault-backend/httpserver"
	"github.com/medledger/record-vault-backend/interfaces"
	"github.com/medledger/record-vault-backend/ledger"
	"github.com/medledger/record-vault-backend/pipeline"
	"github.com/medledger/record-vault-backend/sealing"
)

var serverFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "ledger-mode",
		Value: "memory",
		Usage: "ledger backend: 'memory' (dev) or 'onchain'",
	},
	flags.RpcAddrFlag,
	flags.ContractAddrFlag,
	&cli.StringFlag{
		Name:  "storage-uris",
		Value: "file:///var/lib/record-vault",
		Usage: "comma-separated blob storage location URIs (file, s3, ipfs, vault, onchain schemes)",
	},
	&cli.IntFlag{
		Name:  "pool-size",
		Value: 3,
		Usage: "number of key servers in the threshold pool",
	},
	&cli.IntFlag{
		Name:  "pool-threshold",
		Value: 2,
		Usage: "number of shares required to reconstruct a record key",
	},
	&cli.StringFlag{
		Name:  "pool-secret-seed",
		Usage: "hex-encoded 32-byte seed for key server secrets; random per run if unset",
	},
	&cli.StringFlag{
		Name:  "pool-domain",
		Usage: "DNS domain with SRV records naming the pool members; member IDs default to ks-0..ks-N without it",
	},
	&cli.StringFlag{
		Name:  "submitter-key",
		Usage: "hex-encoded ECDSA key funding onchain transaction submission (required in onchain mode)",
	},
	&cli.Int64Flag{
		Name:  "session-ttl-seconds",
		Value: 3600,
		Usage: "lifetime of issued signing sessions",
	},
	flags.LogServiceFlagFn("record-vault"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "vaultserver",
		Usage:  "Serve the encrypted health-record vault API",
		Flags:  serverFlags,
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

	recordLedger, registryResolver, err := setupLedger(cCtx, logger)
	if err != nil {
		logger.Error("Failed to set up ledger", "err", err)
		return err
	}

	store, err := setupStorage(cCtx, logger, registryResolver)
	if err != nil {
		logger.Error("Failed to set up blob storage", "err", err)
		return err
	}

	pool, err := setupPool(cCtx, recordLedger, logger)
	if err != nil {
		logger.Error("Failed to set up key server pool", "err", err)
		return err
	}

	var contract interfaces.ContractAddress
	if raw := cCtx.String(flags.ContractAddrFlag.Name); raw != "" {
		if contract, err = interfaces.NewContractAddressFromHex(raw); err != nil {
			return err
		}
	}

	gateway, err := sealing.NewGateway(contract, pool, logger)
	if err != nil {
		return err
	}

	access := accessctl.NewStateMachine(recordLedger, logger)
	sessions := ledger.NewSignerRegistry(time.Duration(cCtx.Int64("session-ttl-seconds")) * time.Second)

	svc, err := pipeline.NewService(pipeline.Config{
		Gateway:   gateway,
		Blobs:     blobstore.NewClient(store, logger),
		Ledger:    recordLedger,
		Access:    access,
		Threshold: cCtx.Int("pool-threshold"),
		Log:       logger,
	})
	if err != nil {
		return err
	}

	handler := handlers.NewHandler(svc, access, audit.NewProjector(recordLedger, logger), sessions, logger)

	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	svc.SetObserver(server.Metrics())

	server.RunInBackground()
	logger.Info("Record vault server running",
		slog.String("listenAddr", cfg.ListenAddr),
		slog.String("ledgerMode", cCtx.String("ledger-mode")),
		slog.Int("poolSize", len(pool)),
		slog.Int("threshold", cCtx.Int("pool-threshold")))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	server.Shutdown()
	return nil
}

// setupLedger binds either the in-memory dev ledger or the onchain record
// registry. The returned resolver serves the blob factory's onchain scheme;
// it is nil in memory mode.
func setupLedger(cCtx *cli.Context, logger *slog.Logger) (interfaces.Ledger, blobstore.RegistryResolver, error) {
	switch mode := cCtx.String("ledger-mode"); mode {
	case "memory":
		logger.Info("Using in-memory ledger (dev mode, state is not durable)")
		return ledger.NewMemoryLedger(logger), nil, nil

	case "onchain":
		contractHex := cCtx.String(flags.ContractAddrFlag.Name)
		if contractHex == "" {
			return nil, nil, errors.New("registry-contract is required in onchain mode")
		}

		rpcAddr := cCtx.String(flags.RpcAddrFlag.Name)
		logger.Info("Connecting to ledger RPC", slog.String("address", rpcAddr))
		ethClient, err := ethclient.Dial(rpcAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial RPC: %w", err)
		}

		client, err := ledger.NewOnchainClient(ethClient, ethcommon.HexToAddress(contractHex), logger)
		if err != nil {
			return nil, nil, err
		}

		submitterHex := cCtx.String("submitter-key")
		if submitterHex == "" {
			return nil, nil, errors.New("submitter-key is required in onchain mode")
		}
		submitterKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(submitterHex, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid submitter-key: %w", err)
		}
		chainID, err := ethClient.ChainID(cCtx.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read chain ID: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(submitterKey, chainID)
		if err != nil {
			return nil, nil, err
		}
		client.SetTransactOpts(auth)

		resolver := func(addr interfaces.ContractAddress) (blobstore.BlobRegistry, error) {
			return ledger.NewOnchainClient(ethClient, ethcommon.BytesToAddress(addr.Bytes()), logger)
		}
		return client, resolver, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger-mode %q", mode)
	}
}

func setupStorage(cCtx *cli.Context, logger *slog.Logger, resolver blobstore.RegistryResolver) (interfaces.BlobStore, error) {
	uris := strings.Split(cCtx.String("storage-uris"), ",")
	for i := range uris {
		uris[i] = strings.TrimSpace(uris[i])
	}

	factory := blobstore.NewFactory(logger, resolver)
	return factory.CreateMultiStore(uris)
}

// setupPool builds the in-process key server pool. Member identifiers come
// from the pool domain's SRV records when one is configured, so share
// wrapping stays stable across restarts of a named deployment.
func setupPool(cCtx *cli.Context, recordLedger interfaces.Ledger, logger *slog.Logger) ([]interfaces.KeyServer, error) {
	size := cCtx.Int("pool-size")
	threshold := cCtx.Int("pool-threshold")
	if threshold < 1 || threshold > size {
		return nil, fmt.Errorf("pool-threshold %d out of range for pool-size %d", threshold, size)
	}

	ids := make([]string, 0, size)
	if domain := cCtx.String("pool-domain"); domain != "" {
		endpoints, err := sealing.NewPoolResolver("").ResolvePool(domain)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pool domain %s: %w", domain, err)
		}
		for _, ep := range endpoints {
			ids = append(ids, fmt.Sprintf("%s:%d", ep.Host, ep.Port))
		}
		if len(ids) < size {
			return nil, fmt.Errorf("pool domain %s names %d members, need %d", domain, len(ids), size)
		}
		ids = ids[:size]
	} else {
		for i := 0; i < size; i++ {
			ids = append(ids, fmt.Sprintf("ks-%d", i))
		}
	}

	var seed []byte
	if raw := cCtx.String("pool-secret-seed"); raw != "" {
		var err error
		seed, err = hex.DecodeString(raw)
		if err != nil || len(seed) != cryptoutils.KeySize {
			return nil, errors.New("pool-secret-seed must be 64 hex chars (32 bytes)")
		}
	}

	authorizer := sealing.NewLedgerAuthorizer(recordLedger)
	pool := make([]interfaces.KeyServer, 0, size)
	for _, id := range ids {
		var (
			ks  interfaces.KeyServer
			err error
		)
		if seed != nil {
			var secret []byte
			secret, err = cryptoutils.DeriveKey(seed, []byte(id), []byte("key-server-secret"))
			if err == nil {
				ks, err = sealing.NewPolicyKeyServer(id, secret, authorizer, logger)
			}
		} else {
			ks, err = sealing.NewRandomKeyServer(id, authorizer, logger)
		}
		if err != nil {
			return nil, err
		}
		pool = append(pool, ks)
	}

	return pool, nil
}
