// Package gardena forwards mower commands to the Gardena smart system cloud.
package gardena

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/joshp123/gomow/internal/actuator"
	"github.com/joshp123/gomow/internal/rate"
)

const contentType = "application/vnd.api+json"

// Client talks to the Gardena smart system command API.
type Client struct {
	baseURL   string
	serviceID string
	apiKey    string

	httpClient *http.Client
}

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("gardena api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// RateLimits is the quota of the Husqvarna cloud: one call per second and
// 10000 per month, spread here as a daily budget.
func RateLimits() rate.Declaration {
	return rate.Provider("gardena").
		MaxRequestsPer(rate.Second, 1).
		MaxRequestsPer(rate.Day, 300).
		BackoffOnTooManyRequests(time.Minute).
		ReadHeaders(rate.HusqvarnaHeaders())
}

// NewClient builds a client authenticating with OAuth2 client credentials.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	secret, err := readSecretFile(cfg.ClientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("read gardena client secret: %w", err)
	}

	credentials := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	source := credentials.TokenSource(tokenCtx)

	guard := rate.NewGuard(RateLimits().KeepDailyReserve(cfg.DailyReserve), nil)
	return newClient(cfg, source, guard), nil
}

func newClient(cfg Config, source oauth2.TokenSource, guard *rate.Guard) *Client {
	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &oauth2.Transport{Source: source, Base: http.DefaultTransport},
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		serviceID:  cfg.ServiceID,
		apiKey:     cfg.ClientID,
		httpClient: rate.WrapHTTP(guard, base),
	}
}

type commandRequest struct {
	Data commandData `json:"data"`
}

type commandData struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes commandAttributes `json:"attributes"`
}

type commandAttributes struct {
	Command string `json:"command"`
	Seconds int    `json:"seconds,omitempty"`
}

func commandBody(cmd actuator.Command) commandRequest {
	attrs := commandAttributes{Command: string(cmd.Kind)}
	if cmd.Kind == actuator.Start {
		attrs.Seconds = cmd.Seconds
	}
	return commandRequest{Data: commandData{
		ID:         "request-" + uuid.NewString(),
		Type:       "MOWER_CONTROL",
		Attributes: attrs,
	}}
}

// Send issues one mower control command. The API answers 202 once accepted.
func (c *Client) Send(ctx context.Context, cmd actuator.Command) error {
	if cmd.Kind == actuator.Start && cmd.Seconds <= 0 {
		return fmt.Errorf("start command needs a positive duration")
	}
	body, err := json.Marshal(commandBody(cmd))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/command/"+c.serviceID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization-Provider", "husqvarna")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return nil
}
