// Command orchard-worker serves the language worker contract for one
// language over gRPC. The server launches it as
//
//	orchard-worker [--language go] <database> <port>
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/store"
	"github.com/jward/orchard/internal/worker"
)

var (
	flagDB       string
	flagPort     int
	flagLanguage string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "orchard-worker [database port]",
	Short:         "Serve code comprehension queries for one language",
	Args:          cobra.RangeArgs(0, 2),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flagDB, "db", "", "database connection string")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "port to listen on")
	rootCmd.Flags().StringVar(&flagLanguage, "language", "go", "language served by this worker")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "debug|info|warn|error")
}

// resolveArgs merges the positional form with the flags; flags win.
func resolveArgs(args []string) (string, int, error) {
	db, port := flagDB, flagPort
	if len(args) == 1 {
		return "", 0, errors.New("expected both database and port")
	}
	if len(args) == 2 {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		if db == "" {
			db = args[0]
		}
		if port == 0 {
			port = p
		}
	}
	if db == "" {
		return "", 0, errors.New("database is required")
	}
	if port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("port %d out of range", port)
	}
	return db, port, nil
}

func run(cmd *cobra.Command, args []string) error {
	db, port, err := resolveArgs(args)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: flagLogLevel, Prefix: "worker/" + flagLanguage})
	if err != nil {
		return err
	}

	st, err := store.NewStore(db)
	if err != nil {
		return err
	}
	defer st.Close()

	lis, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := rpc.NewServer(worker.New(st, flagLanguage, worker.WithLogger(logger)))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("serving", "addr", lis.Addr().String(), "db", db, "pid", os.Getpid())
	return serve(srv, lis, logger)
}

func serve(srv *grpc.Server, lis net.Listener, logger *log.Logger) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("stopped")
	return nil
}
