package xui

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// panelClient is an authenticated session against one panel instance.
// The session cookie lives in the client's cookie jar; when it expires the
// gateway drops the whole client and logs in again.
type panelClient struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

func newPanelClient(baseURL, username, password string) *panelClient {
	jar, _ := cookiejar.New(nil)
	return &panelClient{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
			Transport: &http.Transport{
				// Panels commonly run on self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (c *panelClient) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("password", c.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if !ar.Success {
		return fmt.Errorf("login rejected: %s", ar.Msg)
	}
	return nil
}

func (c *panelClient) doRequest(ctx context.Context, method, endpoint string, body interface{}) (*apiResponse, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var ar apiResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &ar, nil
}

// status probes the panel health endpoint; used as the liveness check for
// cached sessions.
func (c *panelClient) status(ctx context.Context) (*ServerStatus, error) {
	ar, err := c.doRequest(ctx, http.MethodPost, "/server/status", nil)
	if err != nil {
		return nil, err
	}
	if !ar.Success {
		return nil, fmt.Errorf("status request rejected: %s", ar.Msg)
	}
	var st ServerStatus
	if err := json.Unmarshal(ar.Obj, &st); err != nil {
		return nil, fmt.Errorf("failed to decode server status: %w", err)
	}
	return &st, nil
}

func (c *panelClient) getInbound(ctx context.Context, inboundID int) (*Inbound, error) {
	ar, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/panel/api/inbounds/get/%d", inboundID), nil)
	if err != nil {
		return nil, err
	}
	if !ar.Success {
		return nil, fmt.Errorf("inbound %d fetch rejected: %s", inboundID, ar.Msg)
	}
	var in Inbound
	if err := json.Unmarshal(ar.Obj, &in); err != nil {
		return nil, fmt.Errorf("failed to decode inbound: %w", err)
	}
	return &in, nil
}

type addClientRequest struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

func encodeClientSettings(clients []Client) (string, error) {
	blob, err := json.Marshal(inboundSettings{Clients: clients})
	if err != nil {
		return "", fmt.Errorf("failed to encode client settings: %w", err)
	}
	return string(blob), nil
}

func (c *panelClient) addClients(ctx context.Context, inboundID int, clients []Client) error {
	settings, err := encodeClientSettings(clients)
	if err != nil {
		return err
	}
	ar, err := c.doRequest(ctx, http.MethodPost, "/panel/api/inbounds/addClient", addClientRequest{ID: inboundID, Settings: settings})
	if err != nil {
		return err
	}
	if !ar.Success {
		return fmt.Errorf("add client rejected: %s", ar.Msg)
	}
	return nil
}

func (c *panelClient) updateClient(ctx context.Context, inboundID int, clientUUID string, client Client) error {
	settings, err := encodeClientSettings([]Client{client})
	if err != nil {
		return err
	}
	ar, err := c.doRequest(ctx, http.MethodPost, "/panel/api/inbounds/updateClient/"+clientUUID, addClientRequest{ID: inboundID, Settings: settings})
	if err != nil {
		return err
	}
	if !ar.Success {
		return fmt.Errorf("update client rejected: %s", ar.Msg)
	}
	return nil
}

func (c *panelClient) deleteClient(ctx context.Context, inboundID int, clientUUID string) error {
	ar, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, clientUUID), nil)
	if err != nil {
		return err
	}
	if !ar.Success {
		return fmt.Errorf("delete client rejected: %s", ar.Msg)
	}
	return nil
}
