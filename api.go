package myq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

const botCookieName = "__cf_bm"

// APIResponse is the outcome of an authenticated downstream call. A 202 has
// no body to parse and just acknowledges an asynchronous action.
type APIResponse struct {
	Status int
	Body   []byte
}

// Accepted reports whether the downstream acknowledged an async action.
func (r *APIResponse) Accepted() bool {
	return r.Status == http.StatusAccepted
}

// JSON unmarshals the response body.
func (r *APIResponse) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Call executes an authenticated request against the device-listing host.
// path may be absolute or relative to the API base.
func (c *Client) Call(ctx context.Context, method, path string, body any) (*APIResponse, error) {
	return c.do(ctx, method, path, body, false)
}

// CallGDO executes an authenticated request against the door-action host,
// which additionally requires the bot-mitigation cookie.
func (c *Client) CallGDO(ctx context.Context, method, path string, body any) (*APIResponse, error) {
	return c.do(ctx, method, path, body, true)
}

func (c *Client) do(ctx context.Context, method, path string, body any, gdoHost bool) (*APIResponse, error) {
	if err := c.EnsureValid(ctx); err != nil {
		return nil, err
	}

	token, cfCookie := c.tokenSnapshot()
	data, status, err := c.roundTrip(ctx, method, path, body, gdoHost, token, cfCookie)
	if err != nil {
		return nil, err
	}

	// A 401 means the token itself was rejected, not merely expired, so a
	// refresh is pointless: re-login once and retry once.
	if status == http.StatusUnauthorized {
		c.logger.Log("got 401, attempting re-login")
		if err := c.relogin(ctx, token); err != nil {
			return nil, err
		}
		token, cfCookie = c.tokenSnapshot()
		data, status, err = c.roundTrip(ctx, method, path, body, gdoHost, token, cfCookie)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &APIError{Status: status, Body: bodyPreview(data)}
		}
	}

	if status >= 400 {
		return nil, &APIError{Status: status, Body: bodyPreview(data)}
	}

	if status == http.StatusAccepted {
		return &APIResponse{Status: status}, nil
	}
	return &APIResponse{Status: status, Body: data}, nil
}

// roundTrip performs one authenticated request/response cycle: bearer token
// and (on the door-action host) bot cookie attached, body decompressed, and
// any rotated bot cookie harvested.
func (c *Client) roundTrip(ctx context.Context, method, path string, body any, gdoHost bool, token, cfCookie string) ([]byte, int, error) {
	base := c.eps.APIBase
	if gdoHost {
		base = c.eps.GDOAPIBase
	}
	target := path
	if !strings.HasPrefix(path, "http") {
		target = base + path
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, err
	}

	req.Header = http.Header{
		"Accept-Encoding":  {"gzip"},
		"App-Version":      {appVersion},
		"BrandId":          {"1"},
		"MyQApplicationId": {appID},
		"User-Agent":       {c.profile.APIUserAgent},
		"Authorization":    {"Bearer " + token},
		http.HeaderOrderKey: {
			"Accept-Encoding",
			"App-Version",
			"BrandId",
			"MyQApplicationId",
			"User-Agent",
			"Authorization",
			"Content-Type",
			"Content-Length",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if gdoHost && cfCookie != "" {
		req.Header.Set("Cookie", cfCookie)
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	c.harvestBotCookie(resp)

	data, err := readResponseBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// harvestBotCookie picks a rotated bot-mitigation cookie out of any response
// and persists it immediately, independent of the token refresh path.
func (c *Client) harvestBotCookie(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name != botCookieName {
			continue
		}
		c.mu.Lock()
		if c.tokens != nil {
			c.tokens.CFCookie = botCookieName + "=" + cookie.Value
			c.persist()
		}
		c.mu.Unlock()
		return
	}
}

// Account is an entry from the accounts-listing endpoint.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Device is an entry from the devices-listing endpoint.
type Device struct {
	SerialNumber string      `json:"serial_number"`
	DeviceFamily string      `json:"device_family"`
	Name         string      `json:"name"`
	State        DeviceState `json:"state"`
}

// DeviceState is the pull-only state blob attached to a device.
type DeviceState struct {
	DoorState  string `json:"door_state"`
	Online     bool   `json:"online"`
	LastUpdate string `json:"last_update"`
	LastStatus string `json:"last_status"`
}

// DoorState is the flattened view of a garage door.
type DoorState struct {
	Name         string
	SerialNumber string
	State        string // open, closed, opening, closing
	Online       bool
	LastUpdate   string
	LastStatus   string
	IsOpen       bool
	IsClosed     bool
}

// Accounts lists the accounts visible to the current identity.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	resp, err := c.Call(ctx, http.MethodGet, "/api/v6.2/Accounts", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []Account `json:"items"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// accountID returns the identity's account id, resolving and persisting it on
// first use.
func (c *Client) accountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.tokens != nil && c.tokens.AccountID != "" {
		id := c.tokens.AccountID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	accounts, err := c.Accounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", errors.New("no accounts found")
	}
	id := accounts[0].ID

	c.mu.Lock()
	if c.tokens != nil {
		c.tokens.AccountID = id
		c.persist()
	}
	c.mu.Unlock()

	c.logger.Log("resolved account: %s", id)
	return id, nil
}

// Devices lists all devices on the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	accountID, err := c.accountID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.Call(ctx, http.MethodGet, fmt.Sprintf("/api/v6.2/Accounts/%s/Devices", accountID), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []Device `json:"items"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GarageDoor returns the first garage door on the account, recording its
// serial number for door actions.
func (c *Client) GarageDoor(ctx context.Context) (*Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}

	for _, device := range devices {
		if device.DeviceFamily != "garagedoor" {
			continue
		}
		if device.SerialNumber != "" {
			c.mu.Lock()
			if c.tokens != nil && c.tokens.DeviceSerial != device.SerialNumber {
				c.tokens.DeviceSerial = device.SerialNumber
				c.persist()
			}
			c.mu.Unlock()
		}
		return &device, nil
	}
	return nil, errors.New("no garage door found")
}

// GetDoorState pulls the current door state on demand.
func (c *Client) GetDoorState(ctx context.Context) (*DoorState, error) {
	door, err := c.GarageDoor(ctx)
	if err != nil {
		return nil, err
	}

	state := door.State.DoorState
	if state == "" {
		state = "unknown"
	}

	return &DoorState{
		Name:         door.Name,
		SerialNumber: door.SerialNumber,
		State:        state,
		Online:       door.State.Online,
		LastUpdate:   door.State.LastUpdate,
		LastStatus:   door.State.LastStatus,
		IsOpen:       state == "open" || state == "opening",
		IsClosed:     state == "closed",
	}, nil
}

// OpenDoor commands the garage door open.
func (c *Client) OpenDoor(ctx context.Context) (*APIResponse, error) {
	return c.setDoorState(ctx, "open")
}

// CloseDoor commands the garage door closed.
func (c *Client) CloseDoor(ctx context.Context) (*APIResponse, error) {
	return c.setDoorState(ctx, "close")
}

func (c *Client) setDoorState(ctx context.Context, action string) (*APIResponse, error) {
	door, err := c.GarageDoor(ctx)
	if err != nil {
		return nil, err
	}

	accountID, err := c.accountID(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/api/v6.0/Accounts/%s/door_openers/%s/%s", accountID, door.SerialNumber, action)
	return c.CallGDO(ctx, http.MethodPut, path, nil)
}
