package basedfeed

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultGateway is the public gateway the publishing frontend embeds in token URIs.
	DefaultGateway = "https://ipfs.io/ipfs/"
	ipfsScheme     = "ipfs://"
)

// ContentIDFromURI extracts the content identifier from a token URI. Bare
// identifiers are returned unchanged.
func ContentIDFromURI(uri string) string {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, DefaultGateway):
		return strings.TrimPrefix(uri, DefaultGateway)
	case strings.HasPrefix(uri, ipfsScheme):
		return strings.TrimPrefix(strings.TrimPrefix(uri, ipfsScheme), "ipfs/")
	}

	u, err := url.Parse(uri)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if idx := strings.Index(u.Path, "/ipfs/"); idx >= 0 {
			return u.Path[idx+len("/ipfs/"):]
		}
	}
	return uri
}

// ComposeGatewayURL joins a gateway base and a content identifier.
func ComposeGatewayURL(gateway, contentID string) string {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + strings.TrimPrefix(contentID, "/")
}

// ParseAddress accepts a 0x-prefixed hex address. The empty string maps to the
// zero address.
func ParseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
