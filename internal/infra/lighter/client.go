package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/infra"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client is the exchange REST boundary: market metadata lookup and signed
// transaction submission. A shared rate limiter guards every request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	limiter    *rate.Limiter
	logger     *slog.Logger

	market domain.MarketInfo
}

// NewClient creates a new exchange API client.
func NewClient(cfg *infra.Config) *Client {
	signer := NewSigner(
		cfg.Exchange.APIPrivateKey,
		cfg.Exchange.AccountIndex,
		cfg.Exchange.APIKeyIndex,
	)

	return &Client{
		baseURL: cfg.Exchange.BaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(8), 16),
		logger:  slog.Default().With("module", "lighter_client"),
	}
}

// SetMarket fixes the market whose tick sizes scale all later orders.
// Must be called once metadata resolution succeeds, before any order call.
func (c *Client) SetMarket(info domain.MarketInfo) {
	c.market = info
}

// MarketDetails resolves the numeric market id and tick sizes for a symbol.
func (c *Client) MarketDetails(ctx context.Context, symbol string) (domain.MarketInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/orderBooks", nil)
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("fetch order books: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return domain.MarketInfo{}, fmt.Errorf("order books: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var parsed orderBooksResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("parse order books: %w", err)
	}

	for _, ob := range parsed.OrderBooks {
		if strings.EqualFold(ob.Symbol, symbol) {
			return domain.MarketInfo{
				Symbol:     ob.Symbol,
				ID:         ob.MarketID,
				PriceTick:  decimal.New(1, -ob.SupportedPriceDecimals),
				AmountTick: decimal.New(1, -ob.SupportedSizeDecimals),
			}, nil
		}
	}
	return domain.MarketInfo{}, fmt.Errorf("%w: %s", domain.ErrMarketNotFound, symbol)
}

// CreateOrder submits a limit order. Price and amount are scaled to
// tick-integers with decimal arithmetic so no float truncation leaks into
// the wire format.
func (c *Client) CreateOrder(ctx context.Context, ord domain.OrderRequest) error {
	priceScaled := decimal.NewFromFloat(ord.Price).Div(c.market.PriceTick).IntPart()
	amountScaled := decimal.NewFromFloat(ord.Amount).Div(c.market.AmountTick).IntPart()

	tx := createOrderTx{
		MarketIndex:      c.market.ID,
		ClientOrderIndex: ord.ClientID,
		BaseAmount:       amountScaled,
		Price:            priceScaled,
		IsAsk:            ord.Side == domain.SideSell,
		OrderType:        orderTypeLimit,
		TimeInForce:      timeInForcePostOnly,
		ReduceOnly:       ord.ReduceOnly,
	}
	if err := c.sendTx(ctx, txTypeCreateOrder, tx); err != nil {
		return fmt.Errorf("create order failed: %w", err)
	}

	c.logger.Info("order placed",
		"side", ord.Side, "price", ord.Price, "amount", ord.Amount, "client_id", ord.ClientID)
	return nil
}

// CancelAllOrders cancels every resting order on the sub-account. Safe to
// repeat when nothing is outstanding.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	tx := cancelAllTx{TimeInForce: cancelAllTifImmediate, Time: 0}
	if err := c.sendTx(ctx, txTypeCancelAll, tx); err != nil {
		return fmt.Errorf("cancel all failed: %w", err)
	}
	c.logger.Info("all orders cancelled")
	return nil
}

func (c *Client) sendTx(ctx context.Context, txType int, txInfo interface{}) error {
	infoBytes, err := json.Marshal(txInfo)
	if err != nil {
		return err
	}
	body := sendTxRequest{
		TxType: fmt.Sprintf("%d", txType),
		TxInfo: infoBytes,
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/sendTx", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var parsed sendTxResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Code != successCode {
		return fmt.Errorf("business error: code=%d msg=%s", parsed.Code, parsed.Msg)
	}
	return nil
}

// doRequest applies rate limiting, auth headers, and serialization.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	headers := c.signer.GenerateHeaders(method, path, bodyStr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}
