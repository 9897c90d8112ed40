package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fragnation-bot/internal/config"
	"fragnation-bot/internal/server"
	"fragnation-bot/internal/sheets"
	"fragnation-bot/internal/storage"
	"fragnation-bot/internal/tgbot"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// an unreadable or corrupt store is fatal: better to not start than to
	// clobber real registrations
	store, err := storage.Open(cfg.DataFile)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var sheetsClient *sheets.Client
	if cfg.SpreadsheetID != "" && cfg.GoogleServiceAccountJSON != "" {
		sheetsClient, err = sheets.New(cfg.GoogleServiceAccountJSON, cfg.SpreadsheetID)
		if err != nil {
			log.Fatalf("sheets: %v", err)
		}
	} else {
		log.Printf("sheets export disabled (no spreadsheet configured)")
	}

	botApp, err := tgbot.New(cfg, store, sheetsClient)
	if err != nil {
		log.Fatalf("telegram: %v", err)
	}

	httpSrv := server.New(cfg, botApp)

	// Start HTTP server
	go func() {
		log.Printf("HTTP listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Start Telegram
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := botApp.Run(ctx); err != nil {
			log.Printf("bot stopped: %v", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	cancel()
	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)

	log.Println("bye")
}
