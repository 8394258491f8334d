// Command client runs the sync core against a server: sign in (or
// register), load the local database and sync on an interval.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mkosyakov/notesync/internal/api"
	"github.com/mkosyakov/notesync/internal/item"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/logging"
	"github.com/mkosyakov/notesync/internal/payload"
	"github.com/mkosyakov/notesync/internal/protocol"
	"github.com/mkosyakov/notesync/internal/storage"
	"github.com/mkosyakov/notesync/internal/syncer"
)

func getPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.OpenSQLite(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	session := api.NewSession()
	engine := syncer.NewEngine(syncer.Config{
		Store:    store,
		Client:   api.NewHTTPClient(cfg.ServerAddr, session, log),
		Session:  session,
		Protocol: protocol.NewManager(nil, log),
		Keys:     keys.NewManager(log),
		Models:   item.NewManager(log),
		Log:      log,
	})
	engine.RegisterObserver("cli", func(ctx context.Context, ev syncer.Event, data any) {
		switch ev {
		case syncer.EventFullSyncCompleted:
			log.Info(ctx, "sync completed", "items", data)
		case syncer.EventMajorDataChange:
			log.Info(ctx, "major data change", "items", data)
		case syncer.EventEnterOutOfSync:
			log.Warn(ctx, "out of sync with server")
		case syncer.EventInvalidSession:
			log.Warn(ctx, "session invalid; sign in again")
		case syncer.EventSyncError:
			log.Error(ctx, "sync failed", "error", data)
		}
	})

	if !cfg.Offline {
		if cfg.Email == "" {
			return fmt.Errorf("an email is required unless -offline is set")
		}
		password, err := getPassword("Enter password: ")
		if err != nil {
			return err
		}
		if cfg.Register {
			if _, err := engine.Register(ctx, cfg.Email, string(password)); err != nil {
				return fmt.Errorf("register: %w", err)
			}
		} else if err := engine.SignIn(ctx, cfg.Email, string(password)); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		for i := range password {
			password[i] = 0
		}
	}

	if err := engine.LoadDatabase(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for {
		if err := engine.Sync(ctx, syncer.Options{CheckIntegrity: true}); err != nil {
			log.Error(ctx, "sync round failed", "error", err)
		}
		if engine.State().IsOutOfSync() {
			if err := engine.ResolveOutOfSync(ctx); err != nil {
				log.Error(ctx, "out-of-sync recovery failed", "error", err)
			}
		}
		log.Info(ctx, "local items", "count", len(engine.Models().ItemsByType(payload.ContentTypeNote)))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
