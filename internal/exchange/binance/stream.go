package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	spotStreamBaseURL    = "wss://stream.binance.com:9443/stream"
	spotTestnetStreamURL = "wss://testnet.binance.vision/stream"
	streamReconnectDelay = 3 * time.Second
)

// PriceTick is one mark-price update observed off the combined kline stream.
type PriceTick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

type klineStreamEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Kline struct {
			Close string `json:"c"`
		} `json:"k"`
	} `json:"data"`
}

// StreamKlines maintains a combined 1m-kline websocket stream for symbols
// and emits a PriceTick per close-price update, reconnecting with a fixed
// backoff on drop. Neither engine loop calls it; the collector loop's REST
// poll is the price source.
func (e *Exchange) StreamKlines(ctx context.Context, symbols []string, out chan<- PriceTick) {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@kline_1m"
	}

	base := spotStreamBaseURL
	if e.testnet {
		base = spotTestnetStreamURL
	}
	url := fmt.Sprintf("%s?streams=%s", base, strings.Join(streams, "/"))

	for {
		if ctx.Err() != nil {
			return
		}
		if err := e.runStream(ctx, url, out); err != nil {
			e.base.Logger.Warn("kline stream disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectDelay):
		}
	}
}

func (e *Exchange) runStream(ctx context.Context, url string, out chan<- PriceTick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(done)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env klineStreamEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		if env.Data.Kline.Close == "" {
			continue
		}
		price := parseDecimal(env.Data.Kline.Close)

		symbol := strings.ToUpper(strings.TrimSuffix(env.Stream, "@kline_1m"))
		tick := PriceTick{Symbol: symbol, Price: price, At: time.Now()}

		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		default:
			// drop the tick rather than block the read loop; the REST poll
			// in the collector loop is the authoritative price source
		}
	}
}
