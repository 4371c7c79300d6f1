package tonconnect

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PairingLink is a parsed connect deep link: the payload a wallet
// receives from a scanned QR code or universal link.
type PairingLink struct {
	Version         int
	ClientSessionID string
	Request         *ConnectRequest
}

// ParsePairingLink parses a tc:// deep link, a universal https link, or
// a bare query string of the form v=2&id=<hex>&r=<url-encoded JSON>.
// Input is untrusted; any malformation is an error, never a panic.
func ParsePairingLink(raw string) (*PairingLink, error) {
	query := raw
	if strings.Contains(raw, "?") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse pairing link: %w", err)
		}
		query = u.RawQuery
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("parse pairing query: %w", err)
	}

	version, err := strconv.Atoi(values.Get("v"))
	if err != nil {
		return nil, fmt.Errorf("pairing link: missing or invalid protocol version")
	}
	if version != ProtocolVersion {
		return nil, fmt.Errorf("pairing link: unsupported protocol version %d", version)
	}

	clientID := values.Get("id")
	if len(clientID) != 64 {
		return nil, fmt.Errorf("pairing link: missing or invalid client session id")
	}
	if _, err := strconv.ParseUint(clientID[:16], 16, 64); err != nil {
		return nil, fmt.Errorf("pairing link: client session id is not hex")
	}

	rawRequest := values.Get("r")
	if rawRequest == "" {
		return nil, fmt.Errorf("pairing link: missing connect request")
	}

	var request ConnectRequest
	if err := json.Unmarshal([]byte(rawRequest), &request); err != nil {
		return nil, fmt.Errorf("pairing link: parse connect request: %w", err)
	}
	if request.ManifestURL == "" {
		return nil, fmt.Errorf("pairing link: connect request has no manifest url")
	}

	return &PairingLink{
		Version:         version,
		ClientSessionID: clientID,
		Request:         &request,
	}, nil
}
