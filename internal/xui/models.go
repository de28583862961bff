package xui

import (
	"encoding/json"
	"fmt"
	"time"
)

// apiResponse is the envelope every panel endpoint answers with.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound is the managed listener as the panel returns it. Settings and
// StreamSettings arrive as JSON-encoded strings, not nested objects.
type Inbound struct {
	ID             int    `json:"id"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

// Client is one credential row inside an inbound's settings blob.
// ExpiryTime is epoch milliseconds on the wire.
type Client struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	Flow       string `json:"flow,omitempty"`
	TgID       string `json:"tgId,omitempty"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	LimitIP    int    `json:"limitIp"`
	SubID      string `json:"subId,omitempty"`
	Up         int64  `json:"up,omitempty"`
	Down       int64  `json:"down,omitempty"`
}

type inboundSettings struct {
	Clients []Client `json:"clients"`
}

// Clients decodes the credential list embedded in the settings blob.
func (in *Inbound) Clients() ([]Client, error) {
	if in.Settings == "" {
		return nil, nil
	}
	var s inboundSettings
	if err := json.Unmarshal([]byte(in.Settings), &s); err != nil {
		return nil, fmt.Errorf("failed to decode inbound settings: %w", err)
	}
	return s.Clients, nil
}

// FindClient locates a credential by opaque id or by alias.
func (in *Inbound) FindClient(identifier string) (*Client, error) {
	clients, err := in.Clients()
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].ID == identifier || clients[i].Email == identifier {
			return &clients[i], nil
		}
	}
	return nil, nil
}

// Flow extracts the flow value new credentials on this inbound should use.
// Reality-secured inbounds default to xtls-rprx-vision.
func (in *Inbound) FlowValue() string {
	if in.StreamSettings == "" {
		return ""
	}
	var ss struct {
		Security     string `json:"security"`
		XTLSSettings struct {
			Flow string `json:"flow"`
		} `json:"xtlsSettings"`
	}
	if err := json.Unmarshal([]byte(in.StreamSettings), &ss); err != nil {
		return ""
	}
	if ss.XTLSSettings.Flow != "" {
		return ss.XTLSSettings.Flow
	}
	if ss.Security == "reality" {
		return "xtls-rprx-vision"
	}
	return ""
}

// ServerStatus is the subset of the panel health endpoint the bot reports.
type ServerStatus struct {
	CPU float64 `json:"cpu"`
	Mem struct {
		Current int64 `json:"current"`
		Total   int64 `json:"total"`
	} `json:"mem"`
	Disk struct {
		Current int64 `json:"current"`
		Total   int64 `json:"total"`
	} `json:"disk"`
	Uptime int64 `json:"uptime"`
}

// Credential is what the gateway hands back after a create or update.
type Credential struct {
	UUID   string
	Email  string
	Expiry time.Time
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t time.Time) int64 {
	return t.UnixMilli()
}
