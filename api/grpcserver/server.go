package grpcserver

import (
	"context"
	"math"
	"time"

	"limitbook/domain/orderbook"
	"limitbook/infra/logging"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const namedLogger = "grpc"

// Engine is the part of service.OrderService the adapter needs.
type Engine interface {
	PlaceOrder(side orderbook.Side, qty int64, price decimal.Decimal) (*orderbook.Confirmation, error)
	CancelOrder(id uint64) error
	OrderStatus(id uint64) (orderbook.OrderState, error)
	BestPrice(side orderbook.Side) (decimal.Decimal, bool)
	Trades(since uint64) []orderbook.Trade
}

// Server adapts the order service to gRPC.
type Server struct {
	log *logging.Logger
	svc Engine
}

func NewServer(log *logging.Logger, svc Engine) *Server {
	return &Server{log: log.Named(namedLogger), svc: svc}
}

// NewGRPCServer builds a grpc.Server with the service registered and
// request logging installed.
func NewGRPCServer(log *logging.Logger, svc Engine, opts ...grpc.ServerOption) *grpc.Server {
	s := NewServer(log, svc)
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logRequests))
	g := grpc.NewServer(opts...)
	RegisterOrderServiceServer(g, s)
	return g
}

func (s *Server) logRequests(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		s.log.Info("request failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("request", fields...)
	}
	return resp, err
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	side, err := sideField(req, "side")
	if err != nil {
		return nil, err
	}
	qty, err := intField(req, "qty")
	if err != nil {
		return nil, err
	}
	price, err := priceField(req, "price")
	if err != nil {
		return nil, err
	}

	conf, err := s.svc.PlaceOrder(side, qty, price)
	if err != nil {
		return nil, toStatus(err)
	}

	trades := make([]interface{}, 0, len(conf.Trades))
	for _, t := range conf.Trades {
		trades = append(trades, tradeMap(t))
	}
	return structpb.NewStruct(map[string]interface{}{
		"order_id": conf.OrderID,
		"resting":  conf.Resting,
		"trades":   trades,
	})
}

func (s *Server) CancelOrder(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "order_id")
	if err != nil {
		return nil, err
	}
	if err := s.svc.CancelOrder(id); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"order_id": id, "canceled": true})
}

// -------------------- Queries --------------------

func (s *Server) OrderStatus(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "order_id")
	if err != nil {
		return nil, err
	}
	st, err := s.svc.OrderStatus(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"order_id": st.ID,
		"side":     st.Side.String(),
		"price":    st.Price.String(),
		"qty":      st.Qty,
		"filled":   st.Filled,
		"leaves":   st.Leaves,
		"canceled": st.Canceled,
		"status":   st.Status.String(),
		"active":   st.Active,
	})
}

func (s *Server) BestPrice(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	side, err := sideField(req, "side")
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{"side": side.String(), "present": false}
	if p, ok := s.svc.BestPrice(side); ok {
		out["present"] = true
		out["price"] = p.String()
	}
	return structpb.NewStruct(out)
}

func (s *Server) Trades(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var since uint64
	if _, ok := req.GetFields()["since"]; ok {
		v, err := intField(req, "since")
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, status.Error(codes.InvalidArgument, "since must not be negative")
		}
		since = uint64(v)
	}

	trades := s.svc.Trades(since)
	list := make([]interface{}, 0, len(trades))
	for _, t := range trades {
		list = append(list, tradeMap(t))
	}
	return structpb.NewStruct(map[string]interface{}{"trades": list})
}

// -------------------- Converters --------------------

func tradeMap(t orderbook.Trade) map[string]interface{} {
	return map[string]interface{}{
		"seq":            t.Seq,
		"price":          t.Price.String(),
		"qty":            t.Qty,
		"aggressor_id":   t.AggressorID,
		"resting_id":     t.RestingID,
		"aggressor_side": t.AggressorSide.String(),
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, orderbook.ErrInvalidOrder):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, orderbook.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, orderbook.ErrOrderNotActive):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func sideField(req *structpb.Struct, key string) (orderbook.Side, error) {
	switch req.GetFields()[key].GetStringValue() {
	case "buy", "bid":
		return orderbook.Bid, nil
	case "sell", "ask":
		return orderbook.Ask, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "%s must be buy or sell", key)
	}
}

func intField(req *structpb.Struct, key string) (int64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing %s", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
	}
	return int64(n.NumberValue), nil
}

func idField(req *structpb.Struct, key string) (uint64, error) {
	v, err := intField(req, key)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be positive", key)
	}
	return uint64(v), nil
}

// priceField accepts a decimal string, or a number for convenience.
func priceField(req *structpb.Struct, key string) (decimal.Decimal, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "missing %s", key)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		p, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s: %v", key, err)
		}
		return p, nil
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	default:
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal string", key)
	}
}
