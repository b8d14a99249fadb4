// Package service is the single write entry point of the engine. It
// serializes commands, journals them, applies them to the market and
// hands the resulting trades to the outbox.
//
// Transports such as gRPC only talk to OrderService.
package service
