// Package alpaca implements the optional ASCOM Alpaca Dome device
// adapter (§6): a REST client that commands an external Alpaca dome
// device — slewtoazimuth, park, open/close shutter, athome, abortslew —
// the way any Alpaca-aware application would; cmd/alpacad uses it to
// mirror the Motor Service's position onto that dome. The core's own control loops
// never consult this package; it exists purely for external
// interoperability.
//
// Reference: https://ascom-standards.org/Developer/Alpaca.htm
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/unklstewy/domecore/internal/retry"
	"github.com/unklstewy/domecore/pkg/config"
)

// httpRetryConfig governs retries of the dome's own HTTP calls: a real
// Alpaca device on an observatory LAN occasionally drops a request under
// load, and a dome command is cheap to retry (idempotent at the Alpaca
// protocol level via ClientTransactionID).
var httpRetryConfig = retry.Config{
	MaxRetries:   2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// DomeClient is an ASCOM Alpaca REST client for the Dome device type.
type DomeClient struct {
	config     config.TelescopeConfig
	clientID   int
	httpClient *http.Client
	connected  bool
}

// NewDomeClient creates a new Alpaca dome client from configuration.
func NewDomeClient(cfg config.TelescopeConfig) *DomeClient {
	return &DomeClient{
		config:   cfg,
		clientID: generateClientID(),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// generateClientID creates a unique client ID for this Alpaca session.
func generateClientID() int {
	return int(time.Now().Unix())
}

// Connect establishes a connection to the dome device.
// Implements: PUT /api/v1/dome/{device_number}/connected
func (c *DomeClient) Connect() error {
	params := url.Values{}
	params.Add("Connected", "true")
	resp, err := c.put("connected", params)
	if err != nil {
		return fmt.Errorf("connect to dome: %w", err)
	}
	c.connected = true
	return resp.Error()
}

// Disconnect closes the connection to the dome device.
// Implements: PUT /api/v1/dome/{device_number}/connected
func (c *DomeClient) Disconnect() error {
	if !c.connected {
		return nil
	}
	params := url.Values{}
	params.Add("Connected", "false")
	resp, err := c.put("connected", params)
	if err != nil {
		return fmt.Errorf("disconnect from dome: %w", err)
	}
	c.connected = false
	return resp.Error()
}

// SlewToAzimuth commands the dome to rotate to azimuthDeg (§3.7.1).
// Implements: PUT /api/v1/dome/{device_number}/slewtoazimuth
func (c *DomeClient) SlewToAzimuth(azimuthDeg float64) error {
	if !c.connected {
		return fmt.Errorf("dome not connected")
	}
	params := url.Values{}
	params.Add("Azimuth", fmt.Sprintf("%.6f", azimuthDeg))
	resp, err := c.put("slewtoazimuth", params)
	if err != nil {
		return fmt.Errorf("slew dome: %w", err)
	}
	return resp.Error()
}

// Azimuth returns the dome's current azimuth.
// Implements: GET /api/v1/dome/{device_number}/azimuth
func (c *DomeClient) Azimuth() (float64, error) {
	return c.getFloat("azimuth")
}

// Slewing reports whether the dome is currently in motion.
// Implements: GET /api/v1/dome/{device_number}/slewing
func (c *DomeClient) Slewing() (bool, error) {
	return c.getBool("slewing")
}

// AtHome reports whether the dome is at its home/reference position.
// Implements: GET /api/v1/dome/{device_number}/athome
func (c *DomeClient) AtHome() (bool, error) {
	return c.getBool("athome")
}

// AtPark reports whether the dome is parked.
// Implements: GET /api/v1/dome/{device_number}/atpark
func (c *DomeClient) AtPark() (bool, error) {
	return c.getBool("atpark")
}

// FindHome commands the dome to seek its reference switch.
// Implements: PUT /api/v1/dome/{device_number}/findhome
func (c *DomeClient) FindHome() error {
	if !c.connected {
		return fmt.Errorf("dome not connected")
	}
	_, err := c.put("findhome", url.Values{})
	return err
}

// Park commands the dome to slew to its designated park azimuth.
// Implements: PUT /api/v1/dome/{device_number}/park
func (c *DomeClient) Park() error {
	if !c.connected {
		return fmt.Errorf("dome not connected")
	}
	resp, err := c.put("park", url.Values{})
	if err != nil {
		return fmt.Errorf("park dome: %w", err)
	}
	return resp.Error()
}

// OpenShutter commands the shutter open.
// Implements: PUT /api/v1/dome/{device_number}/openshutter
func (c *DomeClient) OpenShutter() error {
	if !c.connected {
		return fmt.Errorf("dome not connected")
	}
	resp, err := c.put("openshutter", url.Values{})
	if err != nil {
		return fmt.Errorf("open shutter: %w", err)
	}
	return resp.Error()
}

// CloseShutter commands the shutter closed.
// Implements: PUT /api/v1/dome/{device_number}/closeshutter
func (c *DomeClient) CloseShutter() error {
	if !c.connected {
		return fmt.Errorf("dome not connected")
	}
	resp, err := c.put("closeshutter", url.Values{})
	if err != nil {
		return fmt.Errorf("close shutter: %w", err)
	}
	return resp.Error()
}

// AbortSlew immediately stops all dome motion (rotation and shutter).
// Implements: PUT /api/v1/dome/{device_number}/abortslew
func (c *DomeClient) AbortSlew() error {
	if !c.connected {
		return fmt.Errorf("dome not connected")
	}
	resp, err := c.put("abortslew", url.Values{})
	if err != nil {
		return fmt.Errorf("abort slew: %w", err)
	}
	return resp.Error()
}

func (c *DomeClient) getFloat(endpoint string) (float64, error) {
	if !c.connected {
		return 0, fmt.Errorf("dome not connected")
	}
	resp, err := c.get(endpoint)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", endpoint, err)
	}
	if err := resp.Error(); err != nil {
		return 0, err
	}
	v, ok := resp.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected response type for %s", endpoint)
	}
	return v, nil
}

func (c *DomeClient) getBool(endpoint string) (bool, error) {
	if !c.connected {
		return false, fmt.Errorf("dome not connected")
	}
	resp, err := c.get(endpoint)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", endpoint, err)
	}
	if err := resp.Error(); err != nil {
		return false, err
	}
	v, ok := resp.Value.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected response type for %s", endpoint)
	}
	return v, nil
}

func (c *DomeClient) getTransactionID() int {
	return int(time.Now().UnixNano() / 1_000_000)
}

func (c *DomeClient) get(endpoint string) (*alpacaResponse, error) {
	apiURL := fmt.Sprintf("%s/api/v1/dome/%d/%s", c.config.BaseURL, c.config.DeviceNumber, endpoint)
	params := url.Values{}
	params.Add("ClientID", strconv.Itoa(c.clientID))
	params.Add("ClientTransactionID", strconv.Itoa(c.getTransactionID()))
	fullURL := fmt.Sprintf("%s?%s", apiURL, params.Encode())

	return retry.WithBackoff(context.Background(), httpRetryConfig, func() (*alpacaResponse, error) {
		resp, err := c.httpClient.Get(fullURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		var alpacaResp alpacaResponse
		if err := json.Unmarshal(body, &alpacaResp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return &alpacaResp, nil
	})
}

func (c *DomeClient) put(endpoint string, params url.Values) (*alpacaResponse, error) {
	apiURL := fmt.Sprintf("%s/api/v1/dome/%d/%s", c.config.BaseURL, c.config.DeviceNumber, endpoint)
	params.Add("ClientID", strconv.Itoa(c.clientID))
	params.Add("ClientTransactionID", strconv.Itoa(c.getTransactionID()))

	return retry.WithBackoff(context.Background(), httpRetryConfig, func() (*alpacaResponse, error) {
		resp, err := c.httpClient.PostForm(apiURL, params)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		var alpacaResp alpacaResponse
		if err := json.Unmarshal(body, &alpacaResp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return &alpacaResp, nil
	})
}

// alpacaResponse represents the standard Alpaca API response envelope.
type alpacaResponse struct {
	Value                interface{} `json:"Value"`
	ClientTransactionID  int         `json:"ClientTransactionID"`
	ServerTransactionID  int         `json:"ServerTransactionID"`
	ErrorNumber          int         `json:"ErrorNumber"`
	ErrorMessage         string      `json:"ErrorMessage"`
}

// Error returns an error if the Alpaca response indicates failure.
func (r *alpacaResponse) Error() error {
	if r.ErrorNumber != 0 {
		return fmt.Errorf("alpaca error %d: %s", r.ErrorNumber, r.ErrorMessage)
	}
	return nil
}
