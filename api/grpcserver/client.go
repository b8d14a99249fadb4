package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the order service over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceOrder sends side "buy" or "sell", an integer quantity and a
// decimal price string.
func (c *Client) PlaceOrder(ctx context.Context, side string, qty int64, price string) (*structpb.Struct, error) {
	return c.invoke(ctx, methodPlaceOrder, map[string]interface{}{
		"side":  side,
		"qty":   qty,
		"price": price,
	})
}

func (c *Client) CancelOrder(ctx context.Context, id uint64) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCancelOrder, map[string]interface{}{"order_id": id})
}

func (c *Client) OrderStatus(ctx context.Context, id uint64) (*structpb.Struct, error) {
	return c.invoke(ctx, methodOrderStatus, map[string]interface{}{"order_id": id})
}

func (c *Client) BestPrice(ctx context.Context, side string) (*structpb.Struct, error) {
	return c.invoke(ctx, methodBestPrice, map[string]interface{}{"side": side})
}

func (c *Client) Trades(ctx context.Context, since uint64) (*structpb.Struct, error) {
	return c.invoke(ctx, methodTrades, map[string]interface{}{"since": since})
}
