package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tonbridge.dev/go/tonbridge/internal/tonconnect"
)

var approveBoc string

func init() {
	rootCmd.AddCommand(requestsCmd)
	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsApproveCmd)
	requestsCmd.AddCommand(requestsRejectCmd)

	requestsApproveCmd.Flags().StringVar(&approveBoc, "boc", "", "signed transaction cell (base64) from an external signer")
	requestsApproveCmd.MarkFlagRequired("boc")
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Manage pending dapp requests",
	Long: `Manage pending dapp requests.

Requests arrive while the daemon is running and wait here until
approved or rejected. Each peer holds at most one pending request.`,
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending requests",
	RunE:  runRequestsList,
}

func runRequestsList(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	pending, err := eng.pending.List()
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println("No pending requests.")
		return nil
	}

	for _, req := range pending {
		fmt.Printf("%s\n", req.FromPeerID)
		fmt.Printf("  Method:   %s\n", req.Method)
		fmt.Printf("  Received: %s\n", req.ReceivedAt.Format("2006-01-02 15:04:05"))

		if req.Method == string(tonconnect.MethodSendTransaction) && len(req.Params) > 0 {
			params, err := tonconnect.ParseSendTransactionParams(req.Params[0])
			if err == nil {
				fmt.Printf("  Expires:  %s\n", time.Unix(params.ValidUntil, 0).Format("2006-01-02 15:04:05"))
				for _, msg := range params.Messages {
					fmt.Printf("  Transfer: %s nanotons to %s\n", msg.Amount, msg.Address)
				}
			}
		}
	}
	return nil
}

var requestsApproveCmd = &cobra.Command{
	Use:   "approve <peer>",
	Short: "Approve a pending request",
	Long: `Approve a pending request.

Sends the signed transaction cell back to the dapp. Signing happens
outside tonbridge; pass the resulting boc with --boc.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequestsApprove,
}

func runRequestsApprove(cmd *cobra.Command, args []string) error {
	return respondToRequest(cmd, args[0], func(requestID string) *tonconnect.Response {
		return tonconnect.SuccessResponse(requestID, approveBoc)
	})
}

var requestsRejectCmd = &cobra.Command{
	Use:   "reject <peer>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestsReject,
}

func runRequestsReject(cmd *cobra.Command, args []string) error {
	return respondToRequest(cmd, args[0], func(requestID string) *tonconnect.Response {
		return tonconnect.ErrorResponse(requestID, tonconnect.CodeUserRejects, "User rejected the request")
	})
}

func respondToRequest(cmd *cobra.Command, peerID string, build func(requestID string) *tonconnect.Response) error {
	eng, err := openEngine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	req, err := eng.pending.ByPeer(peerID)
	if err != nil {
		return fmt.Errorf("look up request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("no pending request for peer %s", peerID)
	}

	resp := build(req.RequestID)
	if err := eng.router.CompleteRequest(cmd.Context(), peerID, resp); err != nil {
		return fmt.Errorf("send response: %w", err)
	}

	if resp.Error != nil {
		fmt.Printf("Rejected request %s from %s.\n", req.RequestID, peerID)
	} else {
		fmt.Printf("Approved request %s from %s.\n", req.RequestID, peerID)
	}
	return nil
}
