package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"palaver/internal/api"
	"palaver/internal/auth"
	"palaver/internal/chat"
	"palaver/internal/commands"
	"palaver/internal/config"
	"palaver/internal/filestore"
	"palaver/internal/http"
	"palaver/internal/notify"
	"palaver/internal/storage"
	"palaver/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (seeds the user and prints a dev token)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	authService, err := auth.New(cfg.JWTSecret, store)
	if err != nil {
		return err
	}

	blobs, err := filestore.NewLocalBlobStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	hub := ws.NewHub(store)

	var notifier chat.Notifier
	pusher := notify.NewPusher(store, hub, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.PushContact)
	if pusher.Enabled() {
		notifier = pusher
	}

	chatService := chat.NewService(ctx, store, hub, notifier, cfg.RoomCacheTTL)

	wsServer := ws.NewServer(authService, hub, chatService)
	apiHandlers := api.New(authService, chatService, store, blobs, cfg.BaseURL)
	apiServer := http.NewAPIServer(apiHandlers, wsServer, cfg.ListenAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
