package settings

import (
	"fmt"
	"strings"
)

// Node describes one 3x-ui panel instance a subscription can live on.
// The set of nodes is stored as a JSON settings value and edited
// out-of-band, so it is re-read from the database on every lookup.
type Node struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	Port            int    `json:"port"`
	SecretPath      string `json:"secret_path"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	InboundID       int    `json:"inbound_id"`
	PublicProtocol  string `json:"public_protocol"`
	PublicHost      string `json:"public_host"`
	PublicPort      int    `json:"public_port"`
	SubPathPrefix   string `json:"sub_path_prefix"`
	MaxClients      int    `json:"max_clients"` // 0 = uncapped
	Priority        int    `json:"priority"`    // lower = preferred
	ExcludeFromAuto bool   `json:"exclude_from_auto"`
	DefaultLimitIP  int    `json:"default_limit_ip"`
}

// APIBase builds the panel API base URL from the node's endpoint fields.
func (n Node) APIBase() string {
	url := n.URL
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	base := fmt.Sprintf("%s:%d", url, n.Port)
	if p := strings.Trim(n.SecretPath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
