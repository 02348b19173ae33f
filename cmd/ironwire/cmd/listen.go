package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironwire/client"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/realtime/kafkasink"
)

var listenCmd = &cobra.Command{
	Use:   "listen <session-id>",
	Short: "Connect realtime for a stored session and print events",
	Long: `Load a stored session, connect the realtime transport and write every
event to stdout as one JSON record per line. When Kafka brokers are
configured the records are also relayed to the Kafka topic.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		id := args[0]

		a, err := newApp(ctx, cfg, id, client.WithRealtimeOnLogin(false))
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		if err := a.client.LoadSession(ctx, id); err != nil {
			return err
		}

		sub := a.client.Events().Subscribe(realtime.DefaultSubscriptionBuffer)
		defer sub.Unsubscribe()

		if cfg.KafkaEnabled() {
			sink, err := kafkasink.New(cfg.KafkaBrokers, cfg.KafkaTopic,
				kafkasink.WithLogger(logger), kafkasink.WithKey(id))
			if err != nil {
				return err
			}
			defer sink.Close()
			go sink.Run(ctx, a.client.Events().Subscribe(realtime.DefaultSubscriptionBuffer))
		}

		if err := a.client.ConnectRealtime(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-sub.C:
				if !ok {
					return nil
				}
				if err := enc.Encode(realtime.NewRecord(ev)); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
