package main

import (
	"os"
	"path/filepath"

	"github.com/RoanBrand/gomoos"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	config string
	host   string
	port   int
	name   string
	ws     bool
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:           "gomoos",
		Short:         "Publish to and watch variables on a MOOS broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "Path of config file.")
	root.PersistentFlags().StringVar(&opts.host, "host", "", "Broker host, overrides config.")
	root.PersistentFlags().IntVar(&opts.port, "port", 0, "Broker port, overrides config.")
	root.PersistentFlags().StringVar(&opts.name, "name", "", "Client name, overrides config.")
	root.PersistentFlags().BoolVar(&opts.ws, "ws", false, "Connect over websocket.")

	root.AddCommand(pokeCmd(&opts))
	root.AddCommand(watchCmd(&opts))
	root.AddCommand(serviceCmd(&opts))

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// newClient loads the config file given, or config.json next to the executable if present,
// then applies flag overrides.
func (o *options) newClient() (*gomoos.Client, error) {
	path := o.config
	if path == "" {
		if ePath, err := os.Executable(); err == nil {
			toTry := filepath.Join(filepath.Dir(ePath), "config.json")
			if fileExists(toTry) {
				path = toTry
			}
		}
	}

	var c *gomoos.Client
	if path != "" {
		var err error
		if c, err = gomoos.NewClientFromFile(path); err != nil {
			return nil, err
		}
		log.Infoln("Using config file:", path)
	} else {
		c = gomoos.NewClient()
		log.Debugln("No config file specified or found. Using defaults.")
	}

	if o.host != "" {
		c.Server.Host = o.host
	}
	if o.port != 0 {
		c.Server.Port = o.port
	}
	if o.ws {
		c.Server.Transport = "ws"
	}
	if o.name != "" {
		if err := c.SetName(o.name); err != nil {
			return nil, err
		}
	}

	c.OnInfo = func(msg string) {
		log.WithFields(log.Fields{"Name": c.Name()}).Info("Broker connection ", msg)
	}
	return c, nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
