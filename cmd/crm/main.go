package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agenciacrm/internal/app"
	"agenciacrm/internal/config"
	"agenciacrm/internal/creds"
	"agenciacrm/internal/session"
	"agenciacrm/internal/store"
	"agenciacrm/internal/web"
)

func main() {
	root := &cobra.Command{
		Use:           "crm",
		Short:         "CRM web de la agencia: prospectos, notas y tareas",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), createUserCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.InitSchema(ctx, db); err != nil {
		return fmt.Errorf("schema setup failed: %w", err)
	}

	dataStore := store.NewStore(db)
	credentials := creds.NewService(dataStore, cfg.SessionSecret, cfg.SessionTTL)

	renderer, err := web.NewRenderer()
	if err != nil {
		return fmt.Errorf("template setup failed: %w", err)
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis session registry")
		registry, err := session.NewRegistry(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer registry.Close()
		service = app.NewWithSessionRegistry(cfg, dataStore, credentials, registry)
	} else {
		service = app.New(cfg, dataStore, credentials)
	}

	httpServer := app.NewHTTPServer(service, renderer)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("CRM listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func createUserCmd() *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account without the registration form",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := context.Background()

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if err := store.InitSchema(ctx, db); err != nil {
				return fmt.Errorf("schema setup failed: %w", err)
			}

			credentials := creds.NewService(store.NewStore(db), cfg.SessionSecret, cfg.SessionTTL)
			user, err := credentials.Register(ctx, username, email, password)
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username for the new account")
	cmd.Flags().StringVar(&email, "email", "", "optional email address")
	cmd.Flags().StringVar(&password, "password", "", "password for the new account")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
