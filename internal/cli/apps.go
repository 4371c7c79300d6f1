package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tonbridge.dev/go/tonbridge/internal/store"
)

func init() {
	rootCmd.AddCommand(appsCmd)
	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsRemoveCmd)
	appsCmd.AddCommand(appsAutoConnectCmd)
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage connected dapps",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected dapps",
	RunE:  runAppsList,
}

func runAppsList(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	apps, err := eng.conns.Apps()
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	if len(apps) == 0 {
		fmt.Println("No connected dapps.")
		return nil
	}

	for _, app := range apps {
		conns, err := eng.conns.ListConnections(app.OriginKey)
		if err != nil {
			return fmt.Errorf("list connections: %w", err)
		}
		auto := "on"
		if app.AutoConnectDisabled {
			auto = "off"
		}
		fmt.Printf("%s\n", app.OriginKey)
		fmt.Printf("  Name:         %s\n", app.Name)
		fmt.Printf("  Connected:    %s\n", app.InstalledAt.Format("2006-01-02 15:04"))
		fmt.Printf("  Sessions:     %d\n", len(conns))
		fmt.Printf("  Auto-connect: %s\n", auto)
	}
	return nil
}

var appsRemoveCmd = &cobra.Command{
	Use:   "remove <origin>",
	Short: "Disconnect a dapp and forget its sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppsRemove,
}

func runAppsRemove(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	origin := args[0]
	if err := eng.product.Disconnect(cmd.Context(), origin); err != nil {
		return fmt.Errorf("disconnect %s: %w", origin, err)
	}
	fmt.Printf("Removed %s.\n", store.OriginKey(origin))
	return nil
}

var appsAutoConnectCmd = &cobra.Command{
	Use:   "autoconnect <origin> <on|off>",
	Short: "Enable or disable silent reconnection for a dapp",
	Args:  cobra.ExactArgs(2),
	RunE:  runAppsAutoConnect,
}

func runAppsAutoConnect(cmd *cobra.Command, args []string) error {
	var disabled bool
	switch args[1] {
	case "on":
		disabled = false
	case "off":
		disabled = true
	default:
		return fmt.Errorf("expected 'on' or 'off', got %q", args[1])
	}

	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	originKey := store.OriginKey(args[0])
	if err := eng.conns.SetAutoConnectDisabled(originKey, disabled); err != nil {
		return fmt.Errorf("update %s: %w", originKey, err)
	}
	fmt.Printf("Auto-connect %s for %s.\n", args[1], originKey)
	return nil
}
