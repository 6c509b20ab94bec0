package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketdata_hub/models"
)

// FinnhubWSURL is the Finnhub trade stream endpoint.
const FinnhubWSURL = "wss://ws.finnhub.io"

const streamReconnectDelay = 5 * time.Second

// streamTick is the last trade seen for one symbol.
type streamTick struct {
	Price      float64
	Volume     int64
	ReceivedAt time.Time
}

// FinnhubStream is a streaming quote provider. It keeps a websocket
// subscription to the Finnhub trade feed and serves the quote data type from
// the last trade table, so an aggregation pass can pick up live prices
// without an extra REST round trip. Symbols are subscribed lazily on first
// request; until the first tick arrives the provider reports ErrNoData.
type FinnhubStream struct {
	APIKey string
	WSURL  string

	mu         sync.RWMutex
	trades     map[string]*streamTick
	subscribed map[string]bool

	connMu   sync.Mutex
	conn     *websocket.Conn
	stopChan chan struct{}
	running  bool
}

// NewFinnhubStream creates the streaming adapter. Start must be called
// before it produces data.
func NewFinnhubStream(apiKey string) *FinnhubStream {
	return &FinnhubStream{
		APIKey:     apiKey,
		WSURL:      FinnhubWSURL,
		trades:     make(map[string]*streamTick),
		subscribed: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}
}

func (p *FinnhubStream) Name() string { return "finnhub_stream" }

func (p *FinnhubStream) Supports(dt models.DataType) bool {
	return dt == models.DataTypeQuote
}

// wsTradeMessage is the Finnhub trade frame.
type wsTradeMessage struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		Volume float64 `json:"v"`
		TimeMs int64   `json:"t"`
	} `json:"data"`
}

// Start connects to the feed and begins the read loop. Safe to call once.
func (p *FinnhubStream) Start(symbols []string) error {
	p.connMu.Lock()
	if p.running {
		p.connMu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.connMu.Unlock()

	for _, s := range symbols {
		p.mu.Lock()
		p.subscribed[s] = true
		p.mu.Unlock()
	}

	go p.run()
	log.Printf("Finnhub stream started with %d initial symbols", len(symbols))
	return nil
}

// Close stops the read loop and drops the connection.
func (p *FinnhubStream) Close() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	close(p.stopChan)
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	log.Println("Finnhub stream stopped")
	return nil
}

// run maintains the connection, resubscribing after every reconnect.
func (p *FinnhubStream) run() {
	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		if err := p.connectAndRead(); err != nil {
			log.Printf("Finnhub stream disconnected: %v", err)
		}

		select {
		case <-p.stopChan:
			return
		case <-time.After(streamReconnectDelay):
		}
	}
}

func (p *FinnhubStream) connectAndRead() error {
	url := fmt.Sprintf("%s?token=%s", p.WSURL, p.APIKey)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()

	p.mu.RLock()
	symbols := make([]string, 0, len(p.subscribed))
	for s := range p.subscribed {
		symbols = append(symbols, s)
	}
	p.mu.RUnlock()
	for _, s := range symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}

		var msg wsTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "trade" {
			continue
		}

		p.mu.Lock()
		for _, t := range msg.Data {
			p.trades[t.Symbol] = &streamTick{
				Price:      t.Price,
				Volume:     int64(t.Volume),
				ReceivedAt: time.UnixMilli(t.TimeMs).UTC(),
			}
		}
		p.mu.Unlock()
	}
}

// subscribe registers interest in a symbol, both locally (for resubscribe on
// reconnect) and on the live connection when one exists.
func (p *FinnhubStream) subscribe(symbol string) {
	p.mu.Lock()
	already := p.subscribed[symbol]
	p.subscribed[symbol] = true
	p.mu.Unlock()
	if already {
		return
	}

	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()
	if conn != nil {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": symbol}); err != nil {
			log.Printf("Finnhub stream subscribe %s failed: %v", symbol, err)
		}
	}
}

// Fetch serves the quote data type from the last-trade table. A symbol with
// no tick yet is a clean no-data outcome, not a failure.
func (p *FinnhubStream) Fetch(ctx context.Context, dt models.DataType, symbol string) (*Payload, error) {
	if dt != models.DataTypeQuote {
		return nil, ErrUnsupported
	}

	p.mu.RLock()
	tick := p.trades[symbol]
	p.mu.RUnlock()

	if tick == nil {
		p.subscribe(symbol)
		return nil, ErrNoData
	}

	fields := models.FieldMap{}
	putIfSet(fields, "price", tick.Price)
	putIfSet(fields, "volume", tick.Volume)
	putIfSet(fields, "timestamp", tick.ReceivedAt.Format(time.RFC3339))
	return &Payload{Fields: fields}, nil
}
