package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"media-coordinator/pkg/log"
	"media-coordinator/pkg/signal"

	"github.com/spf13/pflag"
)

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling relay is healthy."))
}

func main() {
	addr := pflag.StringP("listen", "l", ":8080", "Address the relay listens on")
	level := pflag.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	pflag.Parse()

	log.SetupLogger(*level)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := signal.NewHub()
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/ws", signal.ServeWs(hub))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()

		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting signaling relay on %s", *addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
