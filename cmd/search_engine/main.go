package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gcbaptista/go-search-engine/api"
	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/engine"
)

// Exit codes make the distinction a CLI is expected to make: 0 is success,
// 1 is a configuration problem the caller can fix without a code change,
// 2 is a runtime failure encountered after startup.
const (
	exitConfigError  = 1
	exitRuntimeError = 2
)

var (
	port       string
	dataDir    string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFromError(err))
	}
}

// cliError carries the exit code a failure should produce.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func exitFromError(err error) int {
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return exitRuntimeError
}

var rootCmd = &cobra.Command{
	Use:   "search-engine",
	Short: "A durable, typo-tolerant document search engine",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&port, "port", "8080", "Port to run the server on")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "./search_data", "Directory to store search data")
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML engine config file (overrides --data-dir)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := loadEngineConfig()
	if err != nil {
		return &cliError{code: exitConfigError, err: err}
	}

	log.Info().Str("dataDir", cfg.DataDir).Msg("starting search engine")
	app, err := engine.NewApp(cfg, log)
	if err != nil {
		return &cliError{code: exitConfigError, err: fmt.Errorf("initialize engine: %w", err)}
	}
	defer app.Close()

	router := gin.Default()
	api.SetupRoutes(router, app)

	srv := &http.Server{
		Addr:           ":" + port,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return &cliError{code: exitRuntimeError, err: fmt.Errorf("server failed: %w", err)}
	case <-quit:
		log.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return &cliError{code: exitRuntimeError, err: fmt.Errorf("graceful shutdown failed: %w", err)}
	}
	log.Info().Msg("server exited")
	return nil
}

func loadEngineConfig() (config.EngineConfig, error) {
	if configPath != "" {
		return config.LoadEngineConfig(configPath)
	}
	return config.DefaultEngineConfig(dataDir), nil
}
