package service

import (
	"limitbook/domain/orderbook"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrBadCommand = errors.New("malformed journal command")

// PlaceCommand is the journaled form of a submission. The arrival token is
// the journal sequence of the record that carries it.
type PlaceCommand struct {
	Side  orderbook.Side
	Qty   int64
	Price decimal.Decimal
}

type CancelCommand struct {
	OrderID uint64
}

// Place payload fields: 1 side (varint), 2 qty (varint), 3 price (string).
func encodePlace(c PlaceCommand) []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Side))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Qty))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, c.Price.String())
	return b
}

func decodePlace(b []byte) (PlaceCommand, error) {
	var (
		c        PlaceCommand
		hasPrice bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, errors.Wrap(ErrBadCommand, "side")
			}
			c.Side, b = orderbook.Side(v), b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, errors.Wrap(ErrBadCommand, "qty")
			}
			c.Qty, b = int64(v), b[n:]
		case num == 3 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return c, errors.Wrap(ErrBadCommand, "price")
			}
			p, err := decimal.NewFromString(s)
			if err != nil {
				return c, errors.Wrapf(ErrBadCommand, "price %q", s)
			}
			c.Price, hasPrice, b = p, true, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, errors.Wrapf(ErrBadCommand, "field %d", num)
			}
			b = b[n:]
		}
	}
	if !hasPrice {
		return c, errors.Wrap(ErrBadCommand, "missing price")
	}
	return c, nil
}

// Cancel payload fields: 1 order id (varint).
func encodeCancel(c CancelCommand) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	return protowire.AppendVarint(b, c.OrderID)
}

func decodeCancel(b []byte) (CancelCommand, error) {
	var c CancelCommand
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
		}
		b = b[n:]
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, errors.Wrap(ErrBadCommand, "order id")
			}
			c.OrderID, b = v, b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return c, errors.Wrapf(ErrBadCommand, "field %d", num)
		}
		b = b[n:]
	}
	if c.OrderID == 0 {
		return c, errors.Wrap(ErrBadCommand, "missing order id")
	}
	return c, nil
}
