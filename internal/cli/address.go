package cli

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var addressQR bool

func init() {
	rootCmd.AddCommand(addressCmd)
	addressCmd.Flags().BoolVar(&addressQR, "qr", false, "render the address as a terminal QR code")
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the wallet address",
	RunE:  runAddress,
}

func runAddress(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(true)
	if err != nil {
		return err
	}
	defer eng.Close()

	addr := eng.product.Wallet().Address()
	fmt.Println(addr)

	if addressQR {
		qr, err := qrcode.New(addr, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("render QR code: %w", err)
		}
		fmt.Println(qr.ToSmallString(false))
	}
	return nil
}
