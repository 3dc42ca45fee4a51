package mt5bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// Options configures a Client. Zero RateLimit disables pacing.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// Client talks to the MT5 REST bridge that runs next to the terminal.
type Client struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	now         func() time.Time
}

var _ port.Broker = (*Client)(nil)

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		credentials: NewCredentials(opts.APIKey, opts.APISecret),
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     opts.BaseURL,
		now:         time.Now,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

func (c *Client) Name() string { return "mt5bridge" }

func (c *Client) ListOpenPositions(ctx context.Context) ([]model.LivePosition, error) {
	var out []model.LivePosition
	if err := c.signedQueryRequest(ctx, "/api/v1/positions", nil, &out); err != nil {
		return nil, fmt.Errorf("list positions failed: %w", err)
	}
	return out, nil
}

type placeOrderPayload struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"sl,omitempty"`
	TakeProfit float64 `json:"tp,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

type placeOrderResponse struct {
	Ticket   int64     `json:"ticket"`
	Price    float64   `json:"price"`
	Volume   float64   `json:"volume"`
	OpenTime time.Time `json:"open_time"`
	Digits   int       `json:"digits"`
}

func (c *Client) PlaceOrder(ctx context.Context, req port.OrderRequest) (port.OrderResult, error) {
	payload := placeOrderPayload{
		Symbol:     req.Symbol,
		Side:       req.Direction.String(),
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
	}
	var resp placeOrderResponse
	if err := c.signedJSONRequest(ctx, http.MethodPost, "/api/v1/orders", payload, &resp); err != nil {
		return port.OrderResult{}, fmt.Errorf("place order failed: %w", err)
	}
	if resp.Ticket == 0 {
		return port.OrderResult{}, fmt.Errorf("place order failed: %w: empty ticket", port.ErrBrokerRejected)
	}

	log.Info().
		Str("broker", c.Name()).
		Int64("ticket", resp.Ticket).
		Str("symbol", req.Symbol).
		Str("side", payload.Side).
		Float64("volume", resp.Volume).
		Float64("price", resp.Price).
		Msg("order placed")

	return port.OrderResult{
		Ticket:    resp.Ticket,
		FillPrice: resp.Price,
		Volume:    resp.Volume,
		OpenTime:  resp.OpenTime,
		Digits:    resp.Digits,
	}, nil
}

func (c *Client) ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	payload := map[string]float64{"sl": stopLoss, "tp": takeProfit}
	path := "/api/v1/positions/" + strconv.FormatInt(ticket, 10) + "/modify"
	if err := c.signedJSONRequest(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("modify position %d failed: %w", ticket, err)
	}
	return nil
}

func (c *Client) ClosePosition(ctx context.Context, ticket int64, fraction float64) error {
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("close position %d: fraction %v out of range", ticket, fraction)
	}
	payload := map[string]float64{"fraction": fraction}
	path := "/api/v1/positions/" + strconv.FormatInt(ticket, 10) + "/close"
	if err := c.signedJSONRequest(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("close position %d failed: %w", ticket, err)
	}
	return nil
}

func (c *Client) GetHistoricalDeals(ctx context.Context, ticket int64, since, until time.Time) ([]model.Deal, error) {
	params := url.Values{}
	params.Set("ticket", strconv.FormatInt(ticket, 10))
	params.Set("from", unixSeconds(since))
	params.Set("to", unixSeconds(until))

	var out []model.Deal
	if err := c.signedQueryRequest(ctx, "/api/v1/deals", params, &out); err != nil {
		return nil, fmt.Errorf("history deals %d failed: %w", ticket, err)
	}
	return out, nil
}
