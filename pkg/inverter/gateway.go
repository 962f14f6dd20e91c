package inverter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/voltvakt/voltvakt/pkg/common"
	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/types"
)

const gatewayLoginPath = "/api/v1/login"

// Gateway implements System against the local HTTP API exposed by the
// inverter's gateway unit. It authenticates once and re-logs-in when the
// token expires.
type Gateway struct {
	client   *http.Client
	baseURL  string
	username string
	password string

	mu       sync.Mutex
	tokenStr string
}

// ConfiguredGateway sets up flags for the gateway and returns the instance.
func ConfiguredGateway() *Gateway {
	g := &Gateway{
		client: common.HTTPClient(30 * time.Second),
	}
	baseURL := lflag.String("inverter-url", "", "base URL of the inverter gateway")
	username := lflag.String("inverter-username", "", "username for the inverter gateway")
	password := lflag.String("inverter-password", "", "password for the inverter gateway")

	lflag.Do(func() {
		g.baseURL = *baseURL
		g.username = *username
		g.password = *password
	})

	return g
}

// NewGateway builds a gateway client without flag registration.
func NewGateway(baseURL, username, password string, client *http.Client) *Gateway {
	if client == nil {
		client = common.HTTPClient(30 * time.Second)
	}
	return &Gateway{
		client:   client,
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// Validate ensures the configuration is valid.
func (g *Gateway) Validate() error {
	if g.baseURL == "" {
		return fmt.Errorf("inverter-url is required")
	}
	if _, err := url.Parse(g.baseURL); err != nil {
		return fmt.Errorf("failed to parse inverter url (%s): %w", g.baseURL, err)
	}
	return nil
}

// gatewayResponse is the envelope every endpoint returns.
type gatewayResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (g *Gateway) ensureLogin(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokenStr != "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"username": g.username,
		"password": g.password,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+gatewayLoginPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return transportError("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fatalError("login", fmt.Errorf("invalid credentials"))
	}
	if resp.StatusCode != http.StatusOK {
		return statusError("login", resp.StatusCode)
	}

	var gr gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return transportError("login", err)
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(gr.Result, &result); err != nil || result.Token == "" {
		return fatalError("login", fmt.Errorf("no token in login response"))
	}
	g.tokenStr = result.Token
	return nil
}

// doRequest sends a request and decodes the envelope into dest. We try up to
// 2 times because we might have an expired token.
func (g *Gateway) doRequest(ctx context.Context, op, method, path string, payload, dest interface{}) error {
	for i := 0; i < 2; i++ {
		if err := g.ensureLogin(ctx); err != nil {
			return err
		}

		var body *bytes.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			body = bytes.NewReader(b)
		} else {
			body = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		g.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+g.tokenStr)
		g.mu.Unlock()

		resp, err := g.client.Do(req)
		if err != nil {
			return transportError(op, err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			log.Ctx(ctx).DebugContext(ctx, "gateway token expired", slog.String("op", op))
			g.mu.Lock()
			g.tokenStr = ""
			g.mu.Unlock()
			continue
		}
		if resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return fatalError(op, fmt.Errorf("forbidden"))
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return statusError(op, resp.StatusCode)
		}

		var gr gatewayResponse
		err = json.NewDecoder(resp.Body).Decode(&gr)
		resp.Body.Close()
		if err != nil {
			return transportError(op, err)
		}
		if !gr.Success && gr.Code != 200 {
			return fatalError(op, fmt.Errorf("gateway error: %s", gr.Message))
		}
		if dest != nil {
			if err := json.Unmarshal(gr.Result, dest); err != nil {
				return fatalError(op, fmt.Errorf("failed to decode result: %w", err))
			}
		}
		return nil
	}
	return fatalError(op, fmt.Errorf("authentication loop"))
}

// GetEnergyFlow implements System.
func (g *Gateway) GetEnergyFlow(ctx context.Context, systemID string) (types.EnergyFlow, error) {
	var result struct {
		PVKW      float64   `json:"pvPower"`
		LoadKW    float64   `json:"loadPower"`
		GridKW    float64   `json:"gridPower"`
		BatteryKW float64   `json:"batteryPower"`
		Timestamp time.Time `json:"timestamp"`
	}
	path := "/api/v1/systems/" + url.PathEscape(systemID) + "/flow"
	if err := g.doRequest(ctx, "getEnergyFlow", http.MethodGet, path, nil, &result); err != nil {
		return types.EnergyFlow{}, err
	}
	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.EnergyFlow{
		PVKW:      result.PVKW,
		LoadKW:    result.LoadKW,
		GridKW:    result.GridKW,
		BatteryKW: result.BatteryKW,
		Timestamp: ts,
	}, nil
}

// GetBatterySOC implements System.
func (g *Gateway) GetBatterySOC(ctx context.Context, systemID string) (types.BatterySOC, error) {
	var result struct {
		SOC       float64   `json:"soc"`
		Timestamp time.Time `json:"timestamp"`
	}
	path := "/api/v1/systems/" + url.PathEscape(systemID) + "/soc"
	if err := g.doRequest(ctx, "getBatterySoc", http.MethodGet, path, nil, &result); err != nil {
		return types.BatterySOC{}, err
	}
	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.BatterySOC{SOC: result.SOC, Timestamp: ts}, nil
}

// SetMode implements System.
func (g *Gateway) SetMode(ctx context.Context, systemID string, action types.Action, powerKW float64) error {
	if !action.Valid() {
		return fatalError("setMode", fmt.Errorf("unknown action: %q", string(action)))
	}
	payload := map[string]interface{}{
		"mode":    action,
		"powerKW": types.RoundPower(powerKW),
	}
	path := "/api/v1/systems/" + url.PathEscape(systemID) + "/mode"
	if err := g.doRequest(ctx, "setMode", http.MethodPost, path, payload, nil); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "applied inverter mode",
		slog.String("systemID", systemID),
		slog.String("mode", string(action)),
		slog.Float64("powerKW", powerKW),
	)
	return nil
}
