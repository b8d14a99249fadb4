package service

import (
	"limitbook/domain/orderbook"
	entrywal "limitbook/infra/wal/entry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*
ReplayFromWAL rebuilds the market from the command journal.

IMPORTANT:
- This MUST run before accepting traffic
- The outbox is NOT replayed; trades it has not seen are handed to it
  once the market is rebuilt
*/
func (s *OrderService) ReplayFromWAL(dir string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var places, cancels int
	lastSeq, err := entrywal.Replay(dir, func(rec *entrywal.Record) error {
		switch rec.Type {
		case entrywal.RecordPlace:
			cmd, err := decodePlace(rec.Data)
			if err != nil {
				return err
			}
			if _, err := s.market.SubmitOrder(cmd.Side, cmd.Qty, cmd.Price, rec.Seq); err != nil {
				if errors.Is(err, orderbook.ErrInvalidOrder) {
					s.log.Warn("replayed order rejected", zap.Uint64("seq", rec.Seq), zap.Error(err))
					return nil
				}
				return err
			}
			places++

		case entrywal.RecordCancel:
			cmd, err := decodeCancel(rec.Data)
			if err != nil {
				return err
			}
			if err := s.market.Cancel(cmd.OrderID); err != nil {
				s.log.Warn("replayed cancel rejected", zap.Uint64("seq", rec.Seq), zap.Error(err))
				return nil
			}
			cancels++

		default:
			return errors.Errorf("unknown record type %d at seq %d", rec.Type, rec.Seq)
		}
		return nil
	})
	if err != nil {
		return lastSeq, errors.Wrap(err, "replay journal")
	}

	// Resume sequencing AFTER replay
	if lastSeq > s.seq.Current() {
		s.seq.Reset(lastSeq)
	}
	s.afterCommand()

	s.log.Info("journal replay completed",
		zap.Uint64("last_seq", lastSeq),
		zap.Int("orders", places),
		zap.Int("cancels", cancels),
		zap.Int("trades", len(s.market.Trades())))
	return lastSeq, nil
}
