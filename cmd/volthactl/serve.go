package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/denismitr/voltha/adapter"
	"github.com/denismitr/voltha/config"
	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/events/kpi"
	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/logging"
	"github.com/denismitr/voltha/messaging"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/agent"
	"github.com/denismitr/voltha/omci/alarmsync"
	"github.com/denismitr/voltha/omci/database"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// loopbackOnu answers every OMCI request successfully, it stands in for
// ONUs when no OLT is attached
func loopbackOnu(ctx context.Context, req omci.Request) (*omci.Response, error) {
	return &omci.Response{MessageType: req.MessageType, ClassID: req.ClassID, EntityID: req.EntityID}, nil
}

func newServeCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ONU adapter over an in-process bus and export its PM metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.Pm.MetricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			kv, closer, err := a.openKV()
			if err != nil {
				return err
			}
			defer closer()

			if os.Getenv("COMPONENT_NAME") != "" {
				lc, err := logging.NewLogController(kvstore.NewStore(kv, logging.KVStoreDataPathPrefix), a.level, a.lg)
				if err != nil {
					return err
				}
				if err := lc.Start(ctx, a.cfg.LogLevel); err != nil {
					return err
				}
				defer lc.Stop()
			}

			if a.cfgPath != "" {
				w, err := config.NewWatcher(a.cfgPath, func(cfg *config.Config) {
					if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok && !a.verbose {
						a.level.SetLevel(lvl)
					}
				}, a.lg)
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Close()
			}

			omciBus := eventbus.New(a.lg)
			onuAgent, err := agent.NewAgent(agent.Options{
				MibDb:     database.NewMibDbExternal(kvstore.NewStore(kv, database.MibPath), a.lg),
				AlarmDb:   database.NewAlarmDbExternal(kvstore.NewStore(kv, database.AlarmPath), a.lg),
				Templates: database.NewMibTemplateDb(kvstore.NewStore(kv, database.TemplatePath), a.lg),
				Bus:       omciBus,
				AlarmSync: alarmsync.Config{
					AuditDelay:   a.cfg.Omci.AlarmAuditDelay,
					TimeoutDelay: a.cfg.Omci.TimeoutDelay,
				},
				Logger: a.lg,
			})
			if err != nil {
				return err
			}

			if err := onuAgent.Start(ctx); err != nil {
				return err
			}
			defer onuAgent.Stop(context.Background())

			bus := messaging.NewBus(a.cfg.Messaging.AdapterTopic, a.lg)
			defer bus.Close()

			exporter := kpi.NewPrometheusExporter("voltha")
			proxy := adapter.NewCoreProxy(bus, a.cfg.Messaging.CoreTopic, a.cfg.Messaging.EventTopic, a.cfg.Messaging.AdapterTopic, a.lg)
			onuAdapter, err := adapter.NewOnuAdapter(adapter.OnuAdapterOptions{
				Name:  a.cfg.Component,
				Agent: onuAgent,
				Core:  proxy,
				Channels: func(ctx context.Context, d *adapter.Device) (omci.Channel, error) {
					return omci.NewCC(d.ID, omci.TransportFunc(loopbackOnu), omciBus, a.lg), nil
				},
				Exporter: exporter,
				Logger:   a.lg,
			})
			if err != nil {
				return err
			}
			defer onuAdapter.Close()

			facade := adapter.NewRequestFacade(onuAdapter, proxy, bus, a.lg)
			if err := facade.Start(); err != nil {
				return err
			}
			defer facade.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", exporter.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			a.lg.Info("serving", zap.String("metrics_addr", metricsAddr), zap.String("topic", a.cfg.Messaging.AdapterTopic))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "metrics server")
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address of the prometheus endpoint, defaults to the config")
	return cmd
}
