package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tonbridge.dev/go/tonbridge/internal/config"
	"tonbridge.dev/go/tonbridge/internal/prompt"
	"tonbridge.dev/go/tonbridge/internal/wallet"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new wallet",
	Long: `Create a new wallet.

Generates a 24-word recovery phrase and stores it in the OS keychain,
falling back to a passphrase-encrypted file in the config directory.
Write the phrase down; it is the only way to recover the wallet.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	if _, err := wallet.LoadMnemonic(paths.ConfigDir, nil); err == nil {
		return fmt.Errorf("a wallet already exists in %s", paths.ConfigDir)
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return fmt.Errorf("generate mnemonic: %w", err)
	}

	fmt.Println("Your recovery phrase:")
	fmt.Println()
	fmt.Printf("  %s\n", mnemonic)
	fmt.Println()
	fmt.Println("Write it down and store it securely. Anyone with this phrase")
	fmt.Println("controls the wallet.")
	fmt.Println()

	// The passphrase is only used when no OS keychain is available.
	passphrase, err := prompt.ReadPasswordConfirm("Passphrase (for encrypted file fallback): ", "Confirm passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}

	if err := wallet.SaveMnemonic(paths.ConfigDir, mnemonic, passphrase); err != nil {
		return fmt.Errorf("store mnemonic: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.SaveTo(paths.ConfigFile); err != nil {
		return err
	}

	id, err := wallet.FromMnemonic(mnemonic, cfg.Wallet.Network)
	if err != nil {
		return fmt.Errorf("derive wallet: %w", err)
	}

	fmt.Println()
	fmt.Println("Wallet created.")
	fmt.Printf("  Address: %s\n", id.Address())
	fmt.Printf("  Config:  %s\n", paths.ConfigFile)
	return nil
}
