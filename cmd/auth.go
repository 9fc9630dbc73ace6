package cmd

import (
	"fmt"

	"github.com/harper/till/internal/posconfig"
	"github.com/harper/till/internal/syncclient"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage device credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token issued by the server operator",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")
		storeID, _ := cmd.Flags().GetString("store")
		deviceID, _ := cmd.Flags().GetString("device")

		if token == "" || storeID == "" || deviceID == "" {
			return fmt.Errorf("--token, --store and --device are required")
		}
		if server == "" {
			server = posconfig.GetServerURL()
		}

		// Probe the server before persisting anything.
		client := syncclient.New(server, token, storeID)
		if _, err := client.HealthCheck(); err != nil {
			return fmt.Errorf("server unreachable at %s: %w", server, err)
		}

		creds := &posconfig.AuthCredentials{
			Token:    token,
			StoreID:  storeID,
			DeviceID: deviceID,
			Server:   server,
		}
		if err := posconfig.SaveAuth(creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		fmt.Printf("authenticated: store %s, device %s\n", storeID, deviceID)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := posconfig.ClearAuth(); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
		fmt.Println("logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := posconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil || creds.Token == "" {
			fmt.Println("not authenticated")
			return nil
		}
		fmt.Printf("server:  %s\nstore:   %s\ndevice:  %s\n", creds.Server, creds.StoreID, creds.DeviceID)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("server", "", "server base URL")
	authLoginCmd.Flags().String("token", "", "access token (tl_live_...)")
	authLoginCmd.Flags().String("store", "", "store id the token is bound to")
	authLoginCmd.Flags().String("device", "", "device id the token is bound to")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}
