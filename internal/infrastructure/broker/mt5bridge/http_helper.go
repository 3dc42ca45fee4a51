package mt5bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mt5bot/internal/application/port"
)

const (
	headerAPIKey    = "X-API-KEY"
	headerTimestamp = "X-TIMESTAMP"
	headerSignature = "X-SIGNATURE"
	headerRequestID = "X-REQUEST-ID"
)

// envelope is the bridge's response wrapper; RetCode 0 means success.
type envelope struct {
	RetCode int             `json:"retcode"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) signedJSONRequest(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doSignedRequest(req, path, string(body), out)
}

func (c *Client) signedQueryRequest(ctx context.Context, path string, params url.Values, out any) error {
	signPath := path
	if len(params) > 0 {
		signPath += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.baseURL, "/")+signPath, nil)
	if err != nil {
		return err
	}
	return c.doSignedRequest(req, signPath, "", out)
}

func (c *Client) doSignedRequest(req *http.Request, signPath, payload string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set(headerAPIKey, c.credentials.APIKey())
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, c.credentials.Sign(timestamp+req.Method+signPath+payload))
	req.Header.Set(headerRequestID, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: mt5bridge http %d: %s", port.ErrBrokerRejected, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("mt5bridge http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse mt5bridge response failed: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("%w: [%d] %s", port.ErrBrokerRejected, env.RetCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse mt5bridge data failed: %w", err)
	}
	return nil
}

func unixSeconds(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
