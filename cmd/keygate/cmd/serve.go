package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/keygate/internal/devserver"
	"github.com/jmcleod/keygate/internal/util"
)

const generatedKeyLength = 24

var (
	addr     string
	serveKey string
	uid      string
	tokenTTL time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the development auth server and channel relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveKey == "" {
			k, err := util.RandomChars(generatedKeyLength)
			if err != nil {
				return fmt.Errorf("generating api key: %w", err)
			}
			serveKey = k
			fmt.Printf("Generated API key: %s\n", serveKey)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		srv, err := devserver.New(devserver.Config{
			APIKey:   serveKey,
			UID:      uid,
			TokenTTL: tokenTTL,
			Logger:   slog.Default(),
			Registry: reg,
		})
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Listening on %s (relay at %s)...\n", addr, devserver.ChannelPath)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&addr, "addr", ":8787", "Address to listen on")
	serveCmd.Flags().StringVar(&serveKey, "api-key", "", "API key clients must send (generated when empty)")
	serveCmd.Flags().StringVar(&uid, "uid", devserver.DefaultUID, "User id placed in issued tokens")
	serveCmd.Flags().DurationVar(&tokenTTL, "token-ttl", devserver.DefaultTokenTTL, "Lifetime of issued session tokens")
}
