package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/RoanBrand/gomoos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func watchCmd(opts *options) *cobra.Command {
	var interval float64

	cmd := &cobra.Command{
		Use:   "watch VAR...",
		Short: "Print updates of variables until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := startWatcher(opts, args, interval, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			<-ctx.Done()
			return w.stop()
		},
	}
	cmd.Flags().Float64VarP(&interval, "interval", "i", 0, "Minimum seconds between updates per variable.")
	return cmd
}

// watcher prints updates of some variables through an event server.
type watcher struct {
	client *gomoos.Client
	events *gomoos.EventServer
	http   *http.Server
}

func startWatcher(opts *options, vars []string, interval float64, out io.Writer) (*watcher, error) {
	c, err := opts.newClient()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = gomoos.NewMetrics(reg, prometheus.Labels{"client": c.Name()})
	c.OnProblem = func(err error) {
		log.WithFields(log.Fields{"Name": c.Name(), "err": err}).Warn("Connection cycle ended")
	}

	w := &watcher{client: c, events: gomoos.NewEventServer(c)}

	l := &gomoos.FuncListener{F: func(msgs []*gomoos.Message) error {
		for _, m := range msgs {
			if _, err := fmt.Fprintln(out, m.String()); err != nil {
				return err
			}
		}
		return nil
	}}
	for _, v := range vars {
		l.Subs = append(l.Subs, gomoos.Subscription{Name: v, Interval: interval})
	}
	if err = w.events.Register(l); err != nil {
		return nil, err
	}

	if addr := c.Config.Metrics.Address; addr != "" {
		w.http = serveHTTP(addr, c, reg)
	}

	if err = c.Enable(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"Name":   c.Name(),
		"Server": fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port),
		"Vars":   vars,
	}).Info("Watching")
	return w, nil
}

func (w *watcher) stop() error {
	if w.http != nil {
		w.http.Close()
	}
	return w.client.Close()
}
