package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	feedDialTimeout      = 30 * time.Second
	feedReadLimit        = 1 << 20
	feedMaxReconnectWait = 2 * time.Minute
)

// BookFeed keeps the best bid and ask per symbol from the bookTicker stream
type BookFeed struct {
	streamURL string
	symbols   []string
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.RWMutex
	quotes map[string]bookQuote

	connected bool
}

type bookQuote struct {
	bid        float64
	ask        float64
	observedAt time.Time
}

type bookTickerEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		BidQty string `json:"B"`
		Ask    string `json:"a"`
		AskQty string `json:"A"`
	} `json:"data"`
}

// NewBookFeed creates a feed for the given symbols. streamURL is the stream base,
// e.g. wss://stream.binance.com:9443
func NewBookFeed(streamURL string, symbols []string, log zerolog.Logger) *BookFeed {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, strings.ToUpper(s))
	}

	return &BookFeed{
		streamURL: strings.TrimSuffix(streamURL, "/"),
		symbols:   normalized,
		now:       time.Now,
		log:       log.With().Str("component", "book_feed").Logger(),
		quotes:    make(map[string]bookQuote),
	}
}

// Quote returns the latest best bid and ask of a symbol
func (f *BookFeed) Quote(symbol string) (float64, float64, time.Time, bool) {
	f.mu.RLock()
	q, ok := f.quotes[strings.ToUpper(symbol)]
	f.mu.RUnlock()
	return q.bid, q.ask, q.observedAt, ok
}

// Connected reports whether a stream connection is currently open
func (f *BookFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Run keeps the stream connected until ctx is cancelled, reconnecting with exponential backoff
func (f *BookFeed) Run(ctx context.Context) {
	if len(f.symbols) == 0 {
		f.log.Info().Msg("No symbols configured, book feed idle")
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = feedMaxReconnectWait

	for {
		started := f.now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			f.log.Info().Msg("Book feed stopped")
			return
		}

		// A session that stayed up for a while resets the backoff
		if f.now().Sub(started) > feedMaxReconnectWait {
			b.Reset()
		}

		wait := b.NextBackOff()
		f.log.Warn().Err(err).Dur("retry_in", wait).Msg("Book feed disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (f *BookFeed) streamEndpoint() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	return f.streamURL + "/stream?streams=" + strings.Join(streams, "/")
}

// session dials once and reads until the connection fails
func (f *BookFeed) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, feedDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, f.streamEndpoint(), nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial book feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(feedReadLimit)

	f.setConnected(true)
	defer f.setConnected(false)
	f.log.Info().Strs("symbols", f.symbols).Msg("Book feed connected")

	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := f.handleMessage(message); err != nil {
			f.log.Debug().Err(err).Msg("Ignoring malformed book ticker message")
		}
	}
}

func (f *BookFeed) handleMessage(message []byte) error {
	var event bookTickerEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return fmt.Errorf("failed to parse book ticker: %w", err)
	}
	if event.Data.Symbol == "" {
		return fmt.Errorf("book ticker without symbol")
	}

	bid, err := strconv.ParseFloat(event.Data.Bid, 64)
	if err != nil {
		return fmt.Errorf("invalid bid %q: %w", event.Data.Bid, err)
	}
	ask, err := strconv.ParseFloat(event.Data.Ask, 64)
	if err != nil {
		return fmt.Errorf("invalid ask %q: %w", event.Data.Ask, err)
	}

	f.mu.Lock()
	f.quotes[strings.ToUpper(event.Data.Symbol)] = bookQuote{bid: bid, ask: ask, observedAt: f.now()}
	f.mu.Unlock()
	return nil
}

func (f *BookFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}
