package main

import (
	"errors"
	"fmt"
	"time"

	"factcheck-relay/internal/model"
	"factcheck-relay/pkg/kafka"
	"factcheck-relay/pkg/relayclient"
	"factcheck-relay/pkg/tasks"

	"github.com/spf13/cobra"
)

func newPushCommand() *cobra.Command {
	var (
		sessionID string
		payload   model.MessagePayload
		via       string
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send one message to a session, the way the backend does",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if sessionID == "" || !payload.Complete() {
				return errors.New("--session, --type, --header and --content are required")
			}

			switch via {
			case "http":
				client := relayclient.New(cfg.Client.RelayURL, "", 10*time.Second)
				if err := client.Push(cmd.Context(), sessionID, payload); err != nil {
					return err
				}
			case "kafka":
				producer := kafka.NewProducer(cfg.Kafka)
				defer producer.Close()
				err := kafka.ProduceMessage(cmd.Context(), producer, tasks.RelayMessageTask{
					SessionID: sessionID,
					Type:      payload.Type,
					Header:    payload.Header,
					Content:   payload.Content,
				})
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown transport %q, expected http or kafka", via)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s message to %s via %s\n", payload.Type, sessionID, via)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "target session id")
	cmd.Flags().StringVar(&payload.Type, "type", "", "message type (END closes the session)")
	cmd.Flags().StringVar(&payload.Header, "header", "", "message header")
	cmd.Flags().StringVar(&payload.Content, "content", "", "message content")
	cmd.Flags().StringVar(&via, "via", "http", "transport: http or kafka")
	return cmd
}
