package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/afkbridge/afkd/internal/audit"
	"github.com/afkbridge/afkd/internal/bridge"
	"github.com/afkbridge/afkd/internal/config"
	"github.com/afkbridge/afkd/internal/httpapi"
	"github.com/afkbridge/afkd/internal/inject"
	"github.com/afkbridge/afkd/internal/manager"
	"github.com/afkbridge/afkd/internal/notify"
	"github.com/afkbridge/afkd/internal/observability"
	"github.com/afkbridge/afkd/internal/rules"
	"github.com/afkbridge/afkd/internal/session"
	"github.com/afkbridge/afkd/internal/tmux"
)

func main() {
	app := &cli.App{
		Name:  "afkd",
		Usage: "bridge blocking agent-session questions to a remote chat while you are away",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the daemon",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context)
				},
			},
			{
				Name:  "on",
				Usage: "activate the bridge on a running daemon",
				Action: func(ctx *cli.Context) error {
					return postControl(ctx.Context, "/v1/activate")
				},
			},
			{
				Name:  "off",
				Usage: "deactivate the bridge on a running daemon",
				Action: func(ctx *cli.Context) error {
					return postControl(ctx.Context, "/v1/deactivate")
				},
			},
			{
				Name:  "status",
				Usage: "print daemon status",
				Action: func(ctx *cli.Context) error {
					return getControl(ctx.Context, "/v1/status")
				},
			},
			{
				Name:  "queue",
				Usage: "print the pending request queue",
				Action: func(ctx *cli.Context) error {
					return getControl(ctx.Context, "/v1/queue")
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	client, err := bridge.NewClient(bridge.Config{
		Mode:       cfg.BridgeMode,
		BaseURL:    bridgeBaseURL(cfg),
		ChatID:     cfg.BridgeChatID,
		Operator:   cfg.BridgeOperator,
		GatewayURL: cfg.GatewayURL,
	})
	if err != nil {
		return fmt.Errorf("bridge client init failed: %w", err)
	}

	ruleStore, err := rules.NewStore(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("rule store init failed: %w", err)
	}
	defer ruleStore.Close()

	auditStore, err := audit.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("audit store init failed: %w", err)
	}
	defer auditStore.Close()

	registry := session.NewRegistry(cfg.SessionStaleTTL)
	injector := inject.NewChain(registry, tmux.NewClient())

	var notifyFn func(title, body string)
	if cfg.DesktopNotify {
		notifyFn = notify.Send
	}

	mgr := manager.New(manager.Config{ResponseDir: cfg.ResponseDir}, manager.Deps{
		Client:   client,
		Registry: registry,
		Rules:    ruleStore,
		Audit:    auditStore,
		Injector: injector,
		Metrics:  metrics,
		Notify:   notifyFn,
	})

	api := httpapi.New(cfg, mgr, registry, auditStore)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	registry.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("afkd listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case <-ctx.Done():
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	mgr.Deactivate(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
	return nil
}

// bridgeBaseURL joins the channel API root with the bot token, Telegram
// style: <base>/bot<token>.
func bridgeBaseURL(cfg config.Config) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BridgeBaseURL), "/")
	if base == "" || strings.TrimSpace(cfg.BridgeToken) == "" {
		return base
	}
	return base + "/bot" + strings.TrimSpace(cfg.BridgeToken)
}

func controlURL(path string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	addr := cfg.BindAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + path, nil
}

func postControl(ctx context.Context, path string) error {
	url, err := controlURL(path)
	if err != nil {
		return err
	}
	return doControl(ctx, http.MethodPost, url)
}

func getControl(ctx context.Context, path string) error {
	url, err := controlURL(path)
	if err != nil {
		return err
	}
	return doControl(ctx, http.MethodGet, url)
}

func doControl(ctx context.Context, method, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("daemon answered %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
