package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/config"
	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/queue"
	"github.com/fran0220/jimeng-gateway/internal/ratelimit"
	"github.com/fran0220/jimeng-gateway/internal/sessionpool"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
	"github.com/fran0220/jimeng-gateway/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatewayd",
		Short: "HTTP gateway that queues and submits jimeng video generation requests",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.Int("port", 5100, "HTTP port to listen on")
	f.String("jimeng-upstream", "https://jimeng.jianying.com", "base URL of the jimeng API")
	f.String("database-url", "sqlite://data/gateway.db?mode=rwc", "database connection string")
	f.Int("concurrency", 2, "number of concurrent submission workers")
	f.Int("poll-interval-secs", 10, "seconds between generation status polls")
	f.Int("max-poll-duration-secs", 14400, "maximum seconds to poll before a task is marked failed")
	f.Bool("auth-enabled", false, "require bearer-token authentication")
	f.String("admin-token", "", "static admin bearer token, usable regardless of auth-enabled")
	f.String("signing-oracle-url", "", "HTTP endpoint that signs Seedance submissions")
	f.String("oidc-issuer-url", "", "OIDC issuer URL for the admin login flow")
	f.String("oidc-client-id", "", "OIDC client ID for the admin login flow")
	f.String("oidc-client-secret", "", "OIDC client secret for the admin login flow")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("port", "port")
	bindFlag("jimeng_upstream", "jimeng-upstream")
	bindFlag("database_url", "database-url")
	bindFlag("concurrency", "concurrency")
	bindFlag("poll_interval_secs", "poll-interval-secs")
	bindFlag("max_poll_duration_secs", "max-poll-duration-secs")
	bindFlag("auth_enabled", "auth-enabled")
	bindFlag("admin_token", "admin-token")
	bindFlag("signing_oracle_url", "signing-oracle-url")
	bindFlag("oidc_issuer_url", "oidc-issuer-url")
	bindFlag("oidc_client_id", "oidc-client-id")
	bindFlag("oidc_client_secret", "oidc-client-secret")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	fmt.Println("jimeng-gateway starting")
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Printf("  Upstream: %s\n", cfg.JimengUpstream)
	fmt.Printf("  Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("  Auth enabled: %t\n", cfg.AuthEnabled)
	fmt.Println()

	store, err := db.Open(sqlitePath(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close() //nolint:errcheck

	pool := sessionpool.New(store)
	if err := pool.LoadAll(); err != nil {
		return fmt.Errorf("load session pool: %w", err)
	}

	limiter := ratelimit.New()
	gate := auth.NewGate(cfg, store, limiter)
	credentials := auth.NewCredentials(store, limiter)

	var oracle upstream.SigningOracle
	var httpOracle *upstream.HTTPOracle
	if cfg.SigningOracleURL != "" {
		httpOracle = upstream.NewHTTPOracle(cfg.SigningOracleURL)
		oracle = httpOracle
	}
	client := upstream.NewClient(oracle)

	q := queue.New(store, pool, client, cfg)

	server := web.New(cfg, store, pool, q, credentials, gate, client)
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("web server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		cancel()
	}()

	workersErr := make(chan error, 1)
	go func() {
		workersErr <- q.StartWorkers(ctx, cfg.Concurrency)
	}()

	if httpOracle != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					httpOracle.CleanupIdleSessions()
				}
			}
		}()
	}

	<-ctx.Done()
	if err := <-workersErr; err != nil {
		log.Printf("worker pool: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("web server shutdown: %v", err)
	}

	return nil
}

// sqlitePath strips a sqlite:// scheme and query string from a
// connection URL, since db.Open wants a bare filesystem path and
// attaches its own pragmas.
func sqlitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	return path
}
