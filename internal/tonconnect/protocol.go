// Package tonconnect defines the wire types of the wallet-connect
// bridge protocol: connect handshakes, app requests, wallet responses
// and the fixed error code set.
package tonconnect

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the only handshake version this engine speaks.
const ProtocolVersion = 2

// Method identifies an app-to-wallet RPC method.
type Method string

const (
	MethodSendTransaction Method = "sendTransaction"
	MethodSignData        Method = "signData"
	MethodDisconnect      Method = "disconnect"
)

// Error codes returned to a requesting app. The set is closed; peers
// branch on the code, not the message.
const (
	CodeUnknownError       = 0
	CodeBadRequest         = 1
	CodeManifestNotFound   = 2
	CodeManifestInvalid    = 3
	CodeUnknownApp         = 100
	CodeUserRejects        = 300
	CodeMethodNotSupported = 400
)

// AppRequest is a decrypted inbound request from a connected app.
// For sendTransaction, Params[0] is itself JSON-encoded transaction
// parameters.
type AppRequest struct {
	ID     string   `json:"id"`
	Method Method   `json:"method"`
	Params []string `json:"params"`
}

// RPCError is the error half of a wallet response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a wallet-to-app reply, echoing the request id. Exactly
// one of Result or Error is set.
type Response struct {
	ID     string    `json:"id"`
	Result string    `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// ErrorResponse builds an error reply for a request id.
func ErrorResponse(id string, code int, message string) *Response {
	return &Response{ID: id, Error: &RPCError{Code: code, Message: message}}
}

// SuccessResponse builds a success reply carrying an opaque result,
// typically a signed transaction cell.
func SuccessResponse(id, result string) *Response {
	return &Response{ID: id, Result: result}
}

// TransactionMessage is one transfer inside a sendTransaction request.
type TransactionMessage struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
	StateInit string `json:"stateInit,omitempty"`
}

// SendTransactionParams is the decoded first parameter of a
// sendTransaction request.
type SendTransactionParams struct {
	ValidUntil int64                `json:"valid_until"`
	Network    string               `json:"network,omitempty"`
	From       string               `json:"from,omitempty"`
	Messages   []TransactionMessage `json:"messages"`
}

// ParseSendTransactionParams decodes and shape-checks params[0] of a
// sendTransaction request: every message must carry both an address
// and an amount. An absent valid_until decodes as zero, which the
// expiry check upstream treats like any other past deadline.
func ParseSendTransactionParams(raw string) (*SendTransactionParams, error) {
	var params SendTransactionParams
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parse transaction params: %w", err)
	}
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("transaction params: empty messages")
	}
	for i, msg := range params.Messages {
		if msg.Address == "" {
			return nil, fmt.Errorf("transaction params: message %d missing address", i)
		}
		if msg.Amount == "" {
			return nil, fmt.Errorf("transaction params: message %d missing amount", i)
		}
	}
	return &params, nil
}

// ConnectItemName identifies a requested connect reply item.
type ConnectItemName string

const (
	ItemTonAddr  ConnectItemName = "ton_addr"
	ItemTonProof ConnectItemName = "ton_proof"
)

// ConnectItem is one item an app asks for during the handshake.
type ConnectItem struct {
	Name    ConnectItemName `json:"name"`
	Payload string          `json:"payload,omitempty"`
}

// ConnectRequest is the app's half of the handshake, carried inside a
// pairing link.
type ConnectRequest struct {
	ManifestURL string        `json:"manifestUrl"`
	Items       []ConnectItem `json:"items"`
}

// TonAddrItem is the wallet-identity reply item of a connect event.
type TonAddrItem struct {
	Name            ConnectItemName `json:"name"`
	Address         string          `json:"address"`
	Network         string          `json:"network"`
	PublicKey       string          `json:"publicKey"`
	WalletStateInit string          `json:"walletStateInit"`
}

// TonProofItem is the domain-ownership proof reply item.
type TonProofItem struct {
	Name  ConnectItemName `json:"name"`
	Proof TonProof        `json:"proof"`
}

// TonProof carries an ed25519 signature binding the wallet address to
// the requesting app's domain and a caller-chosen payload.
type TonProof struct {
	Timestamp int64          `json:"timestamp"`
	Domain    TonProofDomain `json:"domain"`
	Payload   string         `json:"payload"`
	Signature string         `json:"signature"`
}

// TonProofDomain is the length-prefixed domain the proof covers.
type TonProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// ConnectEvent is the wallet's successful handshake reply.
type ConnectEvent struct {
	Event   string              `json:"event"`
	ID      string              `json:"id"`
	Payload ConnectEventPayload `json:"payload"`
}

// ConnectEventPayload carries the reply items and device info.
type ConnectEventPayload struct {
	Items  []json.RawMessage `json:"items"`
	Device DeviceInfo        `json:"device"`
}

// DeviceInfo describes the wallet to the connecting app.
type DeviceInfo struct {
	Platform           string   `json:"platform"`
	AppName            string   `json:"appName"`
	AppVersion         string   `json:"appVersion"`
	MaxProtocolVersion int      `json:"maxProtocolVersion"`
	Features           []string `json:"features"`
}

// DisconnectEvent is the wallet-initiated teardown notification sent to
// each remote connection of an app before removal.
type DisconnectEvent struct {
	Event   string   `json:"event"`
	ID      string   `json:"id"`
	Payload struct{} `json:"payload"`
}

// NewDisconnectEvent builds a disconnect notification with an event id.
func NewDisconnectEvent(id string) *DisconnectEvent {
	return &DisconnectEvent{Event: "disconnect", ID: id}
}

// ConnectEventError is the typed failure of a handshake or
// auto-connect attempt, delivered to the app in place of a
// ConnectEvent.
type ConnectEventError struct {
	Code    int
	Message string
}

func (e *ConnectEventError) Error() string {
	return fmt.Sprintf("connect error %d: %s", e.Code, e.Message)
}

// MarshalJSON encodes the error in the wire shape apps expect:
// {"event":"connect_error","payload":{"code":...,"message":...}}.
func (e *ConnectEventError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event   string `json:"event"`
		Payload struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"payload"`
	}{
		Event: "connect_error",
		Payload: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: e.Code, Message: e.Message},
	})
}
