package subscription

import (
	"fmt"
	"strings"

	"github.com/Gothik99/botweb/internal/settings"
)

// Link builds the public connection URL for a credential:
// scheme://host[:port]/pathPrefix/credentialID, dropping the port when it
// matches the scheme default (80 for http, 443 for https).
func Link(node settings.Node, credentialID string) string {
	scheme := node.PublicProtocol
	if scheme == "" {
		scheme = "https"
	}

	port := ""
	if node.PublicPort != 0 && node.PublicPort != defaultPort(scheme) {
		port = fmt.Sprintf(":%d", node.PublicPort)
	}

	path := "/" + credentialID
	if prefix := strings.Trim(node.SubPathPrefix, "/"); prefix != "" {
		path = "/" + prefix + path
	}
	return fmt.Sprintf("%s://%s%s%s", scheme, node.PublicHost, port, path)
}

func defaultPort(scheme string) int {
	if scheme == "http" {
		return 80
	}
	return 443
}
