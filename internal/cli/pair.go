package cli

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"tonbridge.dev/go/tonbridge/internal/prompt"
	"tonbridge.dev/go/tonbridge/internal/tonconnect"
)

var (
	pairYes bool
	pairQR  bool
)

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.Flags().BoolVarP(&pairYes, "yes", "y", false, "connect without confirmation")
	pairCmd.Flags().BoolVar(&pairQR, "qr", false, "render the pairing link as a terminal QR code")
}

var pairCmd = &cobra.Command{
	Use:   "pair <link>",
	Short: "Connect to a dapp via its pairing link",
	Long: `Connect to a dapp via its pairing link.

Accepts a tc:// universal link, an https link, or the bare query string
from a QR code. Resolves the dapp's manifest, asks for confirmation,
and completes the handshake over the bridge.

Example:
  tonbridge pair 'tc://?v=2&id=41d1...&r={"manifestUrl":...}'`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()

	pairing := eng.product.HandleConnectDeeplink(ctx, args[0])
	if pairing == nil {
		return fmt.Errorf("invalid pairing link or unreachable manifest")
	}

	if pairQR {
		qr, err := qrcode.New(args[0], qrcode.Medium)
		if err != nil {
			return fmt.Errorf("render QR code: %w", err)
		}
		fmt.Println(qr.ToSmallString(false))
	}

	fmt.Printf("Connection request from %s\n", pairing.Manifest.Name)
	fmt.Printf("  Origin:   %s\n", pairing.AppOriginKey)
	if pairing.Manifest.TermsOfUseURL != "" {
		fmt.Printf("  Terms:    %s\n", pairing.Manifest.TermsOfUseURL)
	}
	wantsProof := false
	for _, item := range pairing.Request.Items {
		if item.Name == tonconnect.ItemTonProof {
			wantsProof = true
		}
	}
	if wantsProof {
		fmt.Println("  The dapp requests a signed ownership proof.")
	}
	fmt.Println()

	if !pairYes {
		ok, err := prompt.Confirm("Connect?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := eng.product.CompletePairing(ctx, pairing); err != nil {
		return fmt.Errorf("complete pairing: %w", err)
	}

	fmt.Printf("Connected to %s.\n", pairing.Manifest.Name)
	fmt.Println("Run 'tonbridge daemon' to receive requests.")
	return nil
}
