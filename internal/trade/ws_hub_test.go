package trade_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/trade"
)

func TestWSHub_BroadcastsTrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := trade.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.PublishTrade(model.Trade{
		ID:        "trade-1",
		MarketID:  "market_lula_2026",
		OutcomeID: "market_lula_2026_yes",
		Price:     d(0.42),
		Amount:    d(10),
		TakerSide: model.SideBuy,
		CreatedAt: time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg trade.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "trade_executed" || msg.TradeID != "trade-1" || msg.Price != "0.42" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestWSHub_PublishNeverBlocks(t *testing.T) {
	hub := trade.NewWSHub() // not running: nothing drains the buffer

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.PublishTrade(model.Trade{ID: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishTrade blocked")
	}
}
