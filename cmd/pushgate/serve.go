package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/courierlabs/pushgate/pkg/api"
	"github.com/courierlabs/pushgate/pkg/apns"
	"github.com/courierlabs/pushgate/pkg/config"
	"github.com/courierlabs/pushgate/pkg/fcm"
	"github.com/courierlabs/pushgate/pkg/log"
	"github.com/courierlabs/pushgate/pkg/security"
	"github.com/courierlabs/pushgate/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification gateway",
	Long: `Run the gateway: bootstrap the database and admin credentials,
then serve the submit API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		store, err := storage.NewBoltStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %v", err)
		}
		defer store.Close()

		if err := bootstrap(cfg, store); err != nil {
			return err
		}

		iosPool := apns.NewPool(cfg.APNSMaxListeners)
		androidPool := fcm.NewPool()

		// Credential writes evict the tenant's cached provider so the next
		// send picks up the new key material.
		store.OnIOSConfigChanged(iosPool.Invalidate)
		store.OnAndroidConfigChanged(androidPool.Invalidate)

		server := api.NewServer(cfg, store, iosPool, androidPool)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		fmt.Printf("Pushgate listening on :%d\n", cfg.Port)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			log.Errorf("failed to drain server", err)
		}
		iosPool.Shutdown()
		androidPool.Shutdown()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

// bootstrap provisions the admin surface settings and the first admin login.
// Generated secrets are printed once; they are not recoverable later.
func bootstrap(cfg *config.Config, store storage.Store) error {
	settings, err := store.EnsureAdminSettings(cfg.AdminBasePath, cfg.AdminSessionSecret)
	if err != nil {
		return fmt.Errorf("failed to bootstrap settings: %v", err)
	}
	if settings.GeneratedPath {
		fmt.Printf("✓ Generated admin base path: %s\n", settings.BasePath)
	}
	if settings.GeneratedSecret {
		fmt.Println("✓ Generated admin session secret (stored in database)")
	}
	if settings.WeakPath {
		fmt.Printf("WARNING: admin base path %q is guessable; set ADMIN_BASE_PATH to something longer\n", settings.BasePath)
	}

	password, generated := bootstrapPassword(cfg.AdminBootstrapPassword)
	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %v", err)
	}
	created, err := store.EnsureAdminUser(cfg.AdminBootstrapUser, hash)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin user: %v", err)
	}
	if created {
		fmt.Printf("✓ Created admin user %q\n", cfg.AdminBootstrapUser)
		if generated {
			fmt.Printf("✓ Generated admin password: %s (shown once, change it)\n", password)
		}
	}
	return nil
}

// bootstrapPassword returns the configured admin password, generating a
// 24-hex one when none is set.
func bootstrapPassword(configured string) (password string, generated bool) {
	if configured != "" {
		return configured, false
	}
	return security.RandomHex(24), true
}
