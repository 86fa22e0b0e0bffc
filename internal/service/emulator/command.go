package emulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/forgedist/forgedist/internal/logger"
)

const (
	// DefaultAddress is where the emulator listens when no address is given.
	DefaultAddress = "127.0.0.1:9000"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options configure the emulator service.
type Options struct {
	// Address is the listen address.
	Address string
}

// Run serves an empty in-memory object store until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}

	if opts.Address == "" {
		opts.Address = DefaultAddress
	}

	server := &http.Server{
		Addr:              opts.Address,
		Handler:           NewHandler(NewBackend()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.ListenAndServe()
	}()

	logger.InfoKV(ctx, "Object store emulator listening", "address", opts.Address)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("emulator server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down emulator: %w", err)
	}

	logger.Info(ctx, "Object store emulator stopped")

	return nil
}
