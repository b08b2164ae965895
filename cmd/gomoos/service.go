package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type program struct {
	opts     *options
	vars     []string
	interval float64
	w        *watcher
}

func (p *program) Start(s service.Service) error {
	w, err := startWatcher(p.opts, p.vars, p.interval, log.StandardLogger().Writer())
	if err != nil {
		return err
	}
	p.w = w
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.w == nil {
		return nil
	}
	return p.w.stop()
}

func serviceCmd(opts *options) *cobra.Command {
	prg := program{opts: opts}

	cmd := &cobra.Command{
		Use:   "service [install|uninstall|start|stop|restart]",
		Short: "Run watch as a system service, or control the installed service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ePath, err := os.Executable()
			if err != nil {
				return err
			}
			eDir := filepath.Dir(ePath)

			// Set defaults before config override.
			if service.Interactive() {
				log.SetLevel(log.DebugLevel)
			} else {
				f, err := os.OpenFile(filepath.Join(eDir, "gomoos.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err != nil {
					return err
				}
				log.SetOutput(f)
			}

			svcConfig := service.Config{
				Name:        "gomoos",
				DisplayName: "gomoos MOOS watcher",
				Description: "Keeps a MOOS client connected and logs updates of selected variables.",
				Arguments:   serviceArguments(opts, prg.vars, prg.interval),
			}

			s, err := service.New(&prg, &svcConfig)
			if err != nil {
				return err
			}

			if len(args) != 0 {
				if err := service.Control(s, args[0]); err != nil {
					log.Printf("Valid actions: %q\n", service.ControlAction)
					return err
				}
				return nil
			}

			return s.Run()
		},
	}
	cmd.Flags().StringSliceVar(&prg.vars, "vars", nil, "Variables to watch.")
	cmd.Flags().Float64VarP(&prg.interval, "interval", "i", 0, "Minimum seconds between updates per variable.")
	return cmd
}

// serviceArguments are the command line the installed service is started with.
func serviceArguments(opts *options, vars []string, interval float64) []string {
	args := []string{"service"}
	if opts.config != "" {
		if abs, err := filepath.Abs(opts.config); err == nil {
			args = append(args, "-c", abs)
		}
	}
	if opts.host != "" {
		args = append(args, "--host", opts.host)
	}
	if opts.port != 0 {
		args = append(args, "--port", strconv.Itoa(opts.port))
	}
	if opts.name != "" {
		args = append(args, "--name", opts.name)
	}
	if opts.ws {
		args = append(args, "--ws")
	}
	for _, v := range vars {
		args = append(args, "--vars", v)
	}
	if interval != 0 {
		args = append(args, "--interval", strconv.FormatFloat(interval, 'f', -1, 64))
	}
	return args
}
