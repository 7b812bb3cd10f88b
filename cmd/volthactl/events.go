package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/denismitr/voltha/adapter"
	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/messaging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const deliveryTimeout = 5 * time.Second

func writeIndentedJSON(out io.Writer, b []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return errors.Wrap(err, "decoding json")
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Device event tooling",
	}

	var (
		req      events.SimulateEventRequest
		op       string
		deviceID string
	)

	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Raise or clear a simulated device event and print it",
		Long:  "Indicators: " + strings.Join(events.Indicators(), ", "),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Operation = events.SimulateOperation(strings.ToUpper(op))

			bus := messaging.NewBus(a.cfg.Messaging.AdapterTopic, a.lg)
			defer bus.Close()

			delivered := make(chan error, 1)
			unsubscribe, err := bus.Subscribe(a.cfg.Messaging.EventTopic, func(ctx context.Context, msg *messaging.Message) {
				delivered <- writeIndentedJSON(cmd.OutOrStdout(), msg.Body)
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			proxy := adapter.NewCoreProxy(bus, a.cfg.Messaging.CoreTopic, a.cfg.Messaging.EventTopic, a.cfg.Messaging.AdapterTopic, a.lg)
			mgr := events.New(proxy, deviceID, "", req.OnuSerialNumber, a.cfg.Component, a.lg)

			ctx, cancel := context.WithTimeout(cmd.Context(), deliveryTimeout)
			defer cancel()

			if err := events.NewSimulator(mgr).SimulateDeviceEvent(ctx, req); err != nil {
				return err
			}

			select {
			case err := <-delivered:
				return err
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "event was not delivered")
			}
		},
	}

	simulate.Flags().StringVar(&req.Indicator, "indicator", "", "event indicator, e.g. onu_los")
	simulate.Flags().StringVar(&op, "operation", string(events.RaiseOperation), "RAISE or CLEAR")
	simulate.Flags().StringVar(&deviceID, "device", "onu-1", "device the event is raised on")
	simulate.Flags().IntVar(&req.IntfID, "intf-id", 0, "pon interface id")
	simulate.Flags().IntVar(&req.OnuDeviceID, "onu-id", 1, "onu id on the pon")
	simulate.Flags().StringVar(&req.OnuSerialNumber, "serial", "", "onu serial number")
	simulate.Flags().StringVar(&req.PortTypeName, "port-type", "nni", "port type name of los events")
	simulate.Flags().IntVar(&req.InverseBitErrorRate, "inverse-ber", 0, "inverse bit error rate of signal events")
	simulate.Flags().IntVar(&req.Drift, "drift", 0, "drift of window drift events")
	simulate.Flags().IntVar(&req.NewEqd, "new-eqd", 0, "new equalization delay of window drift events")
	_ = simulate.MarkFlagRequired("indicator")

	cmd.AddCommand(simulate)
	return cmd
}
