package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	kiteBaseURL = "https://api.kite.trade"
	kiteVersion = "3"
)

// KiteClient places orders through the Kite Connect v3 REST API.
//
// Without credentials it degrades to simulated placements, so the executor
// can run against an unconfigured environment.
type KiteClient struct {
	apiKey      string
	accessToken string
	baseURL     string
	client      *http.Client
}

// NewKiteClient creates a Kite broker client. Empty credentials are allowed
// and put the client in simulation mode.
func NewKiteClient(apiKey, accessToken string) *KiteClient {
	return &KiteClient{
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     kiteBaseURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether real credentials are present.
func (k *KiteClient) Configured() bool {
	return k.apiKey != "" && k.accessToken != ""
}

// PlaceOrder submits a regular order. In simulation mode it returns a
// deterministic sim order id without touching the network.
func (k *KiteClient) PlaceOrder(ctx context.Context, o Order) (*Placement, error) {
	if !k.Configured() {
		return &Placement{OrderID: "sim-" + o.Reference, Simulated: true}, nil
	}

	form := url.Values{}
	form.Set("variety", "regular")
	form.Set("exchange", o.Exchange)
	form.Set("tradingsymbol", o.Symbol)
	form.Set("transaction_type", o.Side)
	form.Set("quantity", strconv.Itoa(o.Quantity))
	form.Set("product", o.Product)
	form.Set("order_type", o.OrderType)
	if o.Price > 0 {
		form.Set("price", strconv.FormatFloat(o.Price, 'f', -1, 64))
	}
	if o.TriggerPrice > 0 {
		form.Set("trigger_price", strconv.FormatFloat(o.TriggerPrice, 'f', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.baseURL+"/orders/regular", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("Authorization", "token "+k.apiKey+":"+k.accessToken)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}

	var parsed struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode order response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.Status != "success" {
		msg := parsed.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, msg)
	}

	return &Placement{OrderID: parsed.Data.OrderID}, nil
}

// Compile-time assertion that KiteClient implements Broker.
var _ Broker = (*KiteClient)(nil)
