package main

import (
	"fmt"
	"io"

	"limitbook/domain/orderbook"
	"limitbook/service"

	"github.com/spf13/cobra"
)

type replayOptions struct {
	dir    string
	depth  int
	trades bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the book from the journal and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(root)
			if err != nil {
				return err
			}
			defer log.AtExit()

			dir := opts.dir
			if dir == "" {
				dir = cfg.Journal.Dir
			}

			// read-only: no journal writes, no outbox
			svc, err := service.NewOrderService(log, orderbook.NewMarket(log, cfg.Engine), nil, nil, nil)
			if err != nil {
				return err
			}
			last, err := svc.ReplayFromWAL(dir)
			if err != nil {
				return err
			}
			printBook(cmd.OutOrStdout(), svc, last, opts)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "", "journal directory (defaults to journal.dir)")
	cmd.Flags().IntVar(&opts.depth, "depth", 10, "price levels to print per side")
	cmd.Flags().BoolVar(&opts.trades, "trades", false, "print the trade log")
	return cmd
}

func printBook(w io.Writer, svc *service.OrderService, last uint64, opts *replayOptions) {
	fmt.Fprintf(w, "journal seq: %d\n", last)
	for _, side := range []orderbook.Side{orderbook.Ask, orderbook.Bid} {
		fmt.Fprintf(w, "%s:\n", side)
		for _, lvl := range svc.Depth(side, opts.depth) {
			fmt.Fprintf(w, "  %12s  qty=%-8d orders=%d\n", lvl.Price, lvl.Qty, lvl.Orders)
		}
	}
	if !opts.trades {
		return
	}
	fmt.Fprintln(w, "trades:")
	for _, t := range svc.Trades(0) {
		fmt.Fprintf(w, "  #%d %s %d @ %s (aggressor %d, resting %d)\n",
			t.Seq, t.AggressorSide, t.Qty, t.Price, t.AggressorID, t.RestingID)
	}
}
