package main

import (
	"encoding/json"
	"net/http"

	"github.com/RoanBrand/gomoos"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type clientStatus struct {
	Name          string   `json:"name"`
	State         string   `json:"state"`
	Community     string   `json:"community"`
	Skew          float64  `json:"skew"`
	Subscriptions []string `json:"subscriptions"`
	Publications  []string `json:"publications"`
}

func router(c *gomoos.Client, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st := clientStatus{
			Name:          c.Name(),
			State:         c.State().String(),
			Community:     c.Community(),
			Skew:          c.Skew(),
			Subscriptions: c.Subscriptions(),
			Publications:  c.Publications(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&st); err != nil {
			log.WithFields(log.Fields{"err": err}).Debug("Unable to write status")
		}
	})
	return r
}

// serveHTTP serves /metrics and /status on addr in the background.
func serveHTTP(addr string, c *gomoos.Client, reg *prometheus.Registry) *http.Server {
	srv := &http.Server{Addr: addr, Handler: router(c, reg)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(log.Fields{
				"Address": addr,
				"err":     err,
			}).Error("Metrics server stopped")
		}
	}()
	log.WithFields(log.Fields{"Address": addr}).Info("Serving metrics and status")
	return srv
}
