package relay

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

	"duet/internal/domain"
	"duet/internal/wire"
)

// DefaultTimeout bounds a single relay round trip.
const DefaultTimeout = 15 * time.Second

// HTTPClient talks to a relay over HTTP.
type HTTPClient struct {
	Base string
	HTTP *http.Client
}

// NewHTTPClient returns a client for the relay at base.
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: DefaultTimeout},
	}
}

// PublishKeys uploads identity and pre-keys.
func (c *HTTPClient) PublishKeys(ctx context.Context, keys domain.PublishedKeys) error {
	body, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/keys", body, nil)
}

// FetchPreKeyBundle claims a bundle for party.
func (c *HTTPClient) FetchPreKeyBundle(ctx context.Context, party domain.PartyID) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.do(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(party.String()), nil, &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

// CountOneTimePreKeys reports how many one-time pre-keys party has left.
func (c *HTTPClient) CountOneTimePreKeys(ctx context.Context, party domain.PartyID) (int, error) {
	var out countResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(party.String())+"/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// SendMessage posts msg for delivery.
func (c *HTTPClient) SendMessage(ctx context.Context, msg domain.WireMessage) error {
	body, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/messages", body, nil)
}

// FetchMessages returns up to limit queued messages for party. Each record
// passes through wire.Decode so older versions are migrated here.
func (c *HTTPClient) FetchMessages(ctx context.Context, party domain.PartyID, limit int) ([]domain.WireMessage, error) {
	path := "/v1/messages/" + url.PathEscape(party.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]domain.WireMessage, 0, len(out.Messages))
	for _, raw := range out.Messages {
		msg, err := wire.Decode(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// AckMessages drops delivered messages from party's queue.
func (c *HTTPClient) AckMessages(ctx context.Context, party domain.PartyID, ids []domain.MessageID) error {
	body, err := json.Marshal(ackRequest{MessageIDs: ids})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(party.String())+"/ack", body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("relay %s %s: decode: %w", method, path, err)
	}
	return nil
}

// decodeError rebuilds the ProtocolError the relay answered with, falling
// back to the HTTP status.
func decodeError(method, path string, resp *http.Response) error {
	var er errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &er) == nil && er.Error.Code != "" {
		return domain.NewError(domain.ErrorCode(er.Error.Code), er.Error.Message)
	}
	return fmt.Errorf("relay %s %s: %s", method, path, resp.Status)
}

var _ domain.RelayClient = (*HTTPClient)(nil)
