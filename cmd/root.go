// Package cmd implements the till device CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/harper/till/internal/clientdb"
	"github.com/harper/till/internal/posconfig"
	"github.com/spf13/cobra"
)

var (
	versionStr string
	dataDir    string
)

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "till",
	Short: "Offline-first point-of-sale terminal",
	Long: `till - An offline-first point-of-sale terminal.

Sales, stock movements and payments are recorded locally first and
synchronized with the till server whenever a connection is available.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "device data directory (default: TILL_DATA_DIR or ~/.local/share/till)")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(saleCmd)
	rootCmd.AddCommand(stockCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(receiptsCmd)
	rootCmd.AddCommand(productsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(monitorCmd)
}

func getDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	return posconfig.DataDir()
}

// openDB opens the device database, failing with a hint if uninitialized.
func openDB() (*clientdb.ClientDB, error) {
	dir, err := getDataDir()
	if err != nil {
		return nil, err
	}
	return clientdb.Open(dir)
}

// requireAuth loads stored credentials or fails.
func requireAuth() (*posconfig.AuthCredentials, error) {
	creds, err := posconfig.LoadAuth()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil || creds.Token == "" {
		return nil, fmt.Errorf("not authenticated: run 'till auth login' first")
	}
	return creds, nil
}
