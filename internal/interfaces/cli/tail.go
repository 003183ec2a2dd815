package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/molgfn/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

func newTailCommand() *cobra.Command {
	var (
		runID string
		group string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the telemetry stream of training runs",
		Long: "tail reads the Kafka telemetry topic and prints one line per event.  --run keeps\n" +
			"only the events of one run; --output json prints the raw envelopes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if runID != "" {
				if _, err := uuid.Parse(runID); err != nil {
					return errors.InvalidParam("invalid run id").WithDetail(runID)
				}
			}
			if group == "" {
				group = "molgfn-tail-" + uuid.NewString()
			}
			cfg := cliCtx.Config
			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers: cfg.Kafka.Brokers,
				GroupID: group,
				Topic:   cfg.Kafka.Topic,
			}, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = consumer.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			asJSON := strings.EqualFold(cliCtx.OutputFormat, "json")
			err = consumer.Run(ctx, runID, func(_ context.Context, env *kafka.EventEnvelope) error {
				if asJSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(env)
				}
				line, err := formatEvent(env)
				if err != nil {
					cliCtx.Logger.Warn("unreadable event", logging.String("event_id", env.EventID), logging.Err(err))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
				return nil
			})
			consumed, skipped := consumer.Stats()
			cliCtx.Logger.Info("tail stopped", logging.Int64("consumed", consumed), logging.Int64("skipped", skipped))
			return err
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show events of this run id")
	cmd.Flags().StringVar(&group, "group", "", "consumer group (a fresh group replays the topic)")
	return cmd
}

// formatEvent renders an envelope as "step=N run=ID k=v ..." with scalar
// names in sorted order.
func formatEvent(env *kafka.EventEnvelope) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "step=%d run=%s", env.Step, env.RunID)
	switch env.EventType {
	case kafka.EventScalars:
		var p kafka.ScalarsPayload
		if err := env.DecodePayload(&p); err != nil {
			return "", err
		}
		names := make([]string, 0, len(p.Scalars))
		for k := range p.Scalars {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(&sb, " %s=%.6g", k, p.Scalars[k])
		}
	case kafka.EventImage:
		var p kafka.ImagePayload
		if err := env.DecodePayload(&p); err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " image=%s bytes=%d", p.Name, len(p.PNG))
	default:
		fmt.Fprintf(&sb, " event=%s", env.EventType)
	}
	return sb.String(), nil
}
