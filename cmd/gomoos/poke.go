package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/RoanBrand/gomoos"
	"github.com/spf13/cobra"
)

func pokeCmd(opts *options) *cobra.Command {
	var asString bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "poke VAR VALUE",
		Short: "Publish a value once and print what the broker sends back for it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			return poke(cmd.Context(), c, args[0], args[1], asString, wait, func(m *gomoos.Message) {
				fmt.Fprintln(cmd.OutOrStdout(), m.String())
			})
		},
	}
	cmd.Flags().BoolVarP(&asString, "string", "s", false, "Send VALUE as a string even if it is numeric.")
	cmd.Flags().DurationVarP(&wait, "wait", "w", time.Second, "How long to wait for the echo.")
	return cmd
}

func poke(ctx context.Context, c *gomoos.Client, name, value string, asString bool, wait time.Duration, show func(*gomoos.Message)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	c.Register(name, 0)
	if err := c.Connect(cctx, c.Server.Host, c.Server.Port); err != nil {
		return err
	}

	var ok bool
	v, err := strconv.ParseFloat(value, 64)
	if asString || err != nil {
		ok = c.NotifyString(name, value, -1)
	} else {
		ok = c.Notify(name, v, -1)
	}
	if !ok {
		return gomoos.ErrNotConnected
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if m := gomoos.FindNewest(c.GetNewMessages(), name); m != nil {
			show(m)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("no echo of %s within %s", name, wait)
}
