package service

import (
	"testing"

	"limitbook/domain/orderbook"
	"limitbook/infra/logging"
	entrywal "limitbook/infra/wal/entry"
	exitwal "limitbook/infra/wal/exit"

	"github.com/shopspring/decimal"
)

func BenchmarkPlaceOrder_Core(b *testing.B) {
	market := orderbook.NewMarket(logging.NewTestLogger(), orderbook.Config{})

	cfg := entrywal.NewDefaultConfig()
	cfg.Dir = b.TempDir()
	cfg.SyncEveryWrite = false
	journal, err := entrywal.Open(logging.NewTestLogger(), cfg)
	if err != nil {
		b.Fatal(err)
	}
	defer journal.Close()

	outbox, err := exitwal.Open(logging.NewTestLogger(), b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	defer outbox.Close()

	svc, err := NewOrderService(logging.NewTestLogger(), market, journal, outbox, nil)
	if err != nil {
		b.Fatal(err)
	}

	bid, ask := decimal.NewFromInt(100), decimal.NewFromInt(101)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			side, price := orderbook.Bid, bid
			if i%2 == 1 {
				side, price = orderbook.Ask, ask
			}
			if _, err := svc.PlaceOrder(side, 1, price); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}
