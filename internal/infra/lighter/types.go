package lighter

import "encoding/json"

// REST payloads.

type orderBooksResponse struct {
	OrderBooks []orderBookMeta `json:"order_books"`
}

type orderBookMeta struct {
	Symbol                 string `json:"symbol"`
	MarketID               int64  `json:"market_id"`
	SupportedPriceDecimals int32  `json:"supported_price_decimals"`
	SupportedSizeDecimals  int32  `json:"supported_size_decimals"`
}

type sendTxRequest struct {
	TxType string          `json:"tx_type"`
	TxInfo json.RawMessage `json:"tx_info"`
}

type createOrderTx struct {
	MarketIndex      int64 `json:"market_index"`
	ClientOrderIndex int64 `json:"client_order_index"`
	BaseAmount       int64 `json:"base_amount"`
	Price            int64 `json:"price"`
	IsAsk            bool  `json:"is_ask"`
	OrderType        int   `json:"order_type"`
	TimeInForce      int   `json:"time_in_force"`
	ReduceOnly       bool  `json:"reduce_only"`
}

type cancelAllTx struct {
	TimeInForce int   `json:"time_in_force"`
	Time        int64 `json:"time"`
}

type sendTxResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"message"`
	TxHash string `json:"tx_hash"`
}

// Transaction type and flag constants from the exchange API.
const (
	txTypeCreateOrder = 14
	txTypeCancelAll   = 16

	orderTypeLimit        = 0
	timeInForcePostOnly   = 1
	cancelAllTifImmediate = 0
	successCode           = 200
)

// Websocket payloads. Every message carries a type discriminant; unknown
// types are logged and dropped, never fatal.

type wsSubscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type wsEnvelope struct {
	Type      string                `json:"type"`
	Channel   string                `json:"channel"`
	OrderBook *wsOrderBook          `json:"order_book"`
	Stats     *wsStats              `json:"stats"`
	Positions map[string]wsPosition `json:"positions"`
	Trades    map[string][]wsTrade  `json:"trades"`
}

type wsOrderBook struct {
	Bids []wsLevel `json:"bids"`
	Asks []wsLevel `json:"asks"`
}

type wsLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

type wsStats struct {
	AvailableBalance json.Number `json:"available_balance"`
	PortfolioValue   json.Number `json:"portfolio_value"`
}

type wsPosition struct {
	Position json.Number `json:"position"`
}

type wsTrade struct {
	TradeID   int64       `json:"trade_id"`
	MarketID  int64       `json:"market_id"`
	Type      string      `json:"type"`
	Size      json.Number `json:"size"`
	Price     json.Number `json:"price"`
	Timestamp int64       `json:"timestamp"`
}

// keepaliveTypes are application-level heartbeats that carry no state.
var keepaliveTypes = map[string]bool{
	"ping":      true,
	"pong":      true,
	"heartbeat": true,
	"keepalive": true,
	"health":    true,
}
