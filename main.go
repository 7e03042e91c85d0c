package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatclient/internal/api"
	"chatclient/internal/auth"
	"chatclient/internal/chat"
	"chatclient/internal/commands"
	"chatclient/internal/config"
	"chatclient/internal/connection"
	"chatclient/internal/connectivity"
	"chatclient/internal/http"
	"chatclient/internal/media"
	"chatclient/internal/message"
	"chatclient/internal/models"
	"chatclient/internal/observable"
	"chatclient/internal/push"
	"chatclient/internal/remote"
	"chatclient/internal/storage"
	"chatclient/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("chatclient", flag.ContinueOnError)
	listChats := flags.Bool("chats", false, "List the chats of a running daemon")
	sendTo := flags.String("send", "", "Chat ID to send -text to through a running daemon")
	text := flags.String("text", "", "Message text for -send")
	retry := flags.String("retry", "", "Message ID of a failed message to send again")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cliMode := *listChats || *sendTo != "" || *retry != ""
	cfg, err := config.Load(cliMode)
	if err != nil {
		return err
	}

	switch {
	case *listChats:
		return commands.ListChats(stdout, cfg)
	case *sendTo != "":
		return commands.SendMessage(stdout, cfg, *sendTo, *text)
	case *retry != "":
		return commands.RetryMessage(stdout, cfg, *retry)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	sessions, err := auth.NewProvider(bbStorage)
	if err != nil {
		return err
	}
	if sessions.Current() == nil && cfg.AccessToken != "" {
		if err := sessions.Update(auth.Session{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken}); err != nil {
			return fmt.Errorf("failed to seed session: %w", err)
		}
	}

	remoteClient := remote.New(cfg.BaseURL, cfg.Locale, cfg.RequestTimeout, cfg.PageSize, sessions)

	chatRepo := chat.NewRepository(ctx, chat.Config{
		Remote:   remoteClient,
		Store:    bbStorage,
		Sessions: sessions,
	})
	msgRepo := message.NewRepository(message.Config{
		Remote:   remoteClient,
		Store:    bbStorage,
		Sessions: sessions,
	})

	mediaCache, err := media.NewCache(cfg.MediaPath, &oshttp.Client{Timeout: cfg.RequestTimeout}, bbStorage)
	if err != nil {
		return err
	}
	pushHandler := push.NewNewMessageHandler(remoteClient, msgRepo, mediaCache)

	dialer := ws.NewDialer(cfg.WSURL, cfg.Locale, cfg.RequestTimeout)
	probe := connectivity.NewProbe(cfg.ProbeAddr, cfg.ProbeInterval)
	foreground := observable.NewValue(true)

	client := connection.New(connection.Config{
		Dial: func(ctx context.Context, accessToken string) (connection.Transport, error) {
			t, err := dialer.Dial(ctx, accessToken)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
		Errors:     connection.ErrorHandler{},
		Handler:    msgRepo,
		Online:     probe,
		Foreground: foreground,
		Sessions:   sessions,
	})
	msgRepo.SetSender(client)

	adminHandler := api.NewAdminHandler(api.Config{
		Connection:   client,
		Chats:        chatRepo,
		Messages:     msgRepo,
		Push:         pushHandler,
		Connectivity: probe,
		Foreground:   foreground,
		Sessions:     sessions,
	})
	adminServer := http.NewAdminServer(adminHandler, cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Run(gCtx)
	})

	g.Go(func() error {
		return probe.Run(gCtx)
	})

	g.Go(func() error {
		syncOnConnect(gCtx, client, chatRepo)
		return nil
	})

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

type stateWatcher interface {
	WatchState(ctx context.Context) <-chan models.ConnectionState
}

type chatFetcher interface {
	FetchChats(ctx context.Context) error
}

// syncOnConnect refreshes the chat list every time the connection comes up.
func syncOnConnect(ctx context.Context, conn stateWatcher, chats chatFetcher) {
	var prev models.ConnectionState
	for state := range conn.WatchState(ctx) {
		if state == models.StateConnected && prev != models.StateConnected {
			if err := chats.FetchChats(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("failed to refresh chats after connect", "error", err)
			}
		}
		prev = state
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
