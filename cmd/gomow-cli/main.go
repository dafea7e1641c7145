package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/gomow/internal/config"
)

var (
	addrFlag    string
	jsonFlag    bool
	timeoutFlag time.Duration
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:           "gomow-cli",
	Short:         "Inspect and steer a running gomow controller",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&addrFlag, "addr", "a", "", "gRPC address (default: $GOMOW_GRPC_ADDR, config core.grpc_addr, localhost:9010)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "Deadline for the whole command")

	rootCmd.AddCommand(servicesCmd, methodsCmd, callCmd, statusCmd, stopCmd, resumeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withConn dials the controller and runs f with a deadline-bound context.
func withConn(f func(ctx context.Context, conn *grpc.ClientConn) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()

	addr := resolveAddr()
	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	return f(ctx, conn)
}

func resolveAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	if value := os.Getenv("GOMOW_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9010"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gomow", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return dialable(cfg.Core.GRPCAddr)
}
