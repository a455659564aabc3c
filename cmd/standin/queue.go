package main

import (
	"time"

	"github.com/spf13/cobra"

	"standin/internal/config"
	"standin/internal/models"
	"standin/internal/queue"
)

func newQueueCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate on the local disk queue",
	}

	cmd.AddCommand(
		newQueueSendCmd(cfg),
		newQueueReceiveCmd(cfg),
		newQueueAckCmd(cfg),
		newQueueDropCmd(cfg),
	)

	return cmd
}

func newQueueSendCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Enqueue one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queue.Open(cfg.QueueStoreConfig())
			if err != nil {
				return err
			}
			defer q.Close()
			return q.SendMessage(cmd.Context(), args[0])
		},
	}
}

func newQueueReceiveCmd(cfg *config.Config) *cobra.Command {
	var (
		max               int
		visibilitySeconds int
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Claim visible messages and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queue.Open(cfg.QueueStoreConfig())
			if err != nil {
				return err
			}
			defer q.Close()
			messages, err := q.ReceiveMessages(cmd.Context(), max, time.Duration(visibilitySeconds)*time.Second)
			if err != nil {
				return err
			}
			return writeYAML(messages)
		},
	}

	cmd.Flags().IntVar(&max, "max", 1, "maximum messages to claim")
	cmd.Flags().IntVar(&visibilitySeconds, "visibility-timeout", 30, "visibility timeout in seconds")

	return cmd
}

func newQueueAckCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id> <token>",
		Short: "Acknowledge a claimed message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queue.Open(cfg.QueueStoreConfig())
			if err != nil {
				return err
			}
			defer q.Close()
			return q.DeleteMessage(cmd.Context(), models.Message{
				MessageID:   args[0],
				DeleteToken: args[1],
			})
		},
	}
}

func newQueueDropCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Delete the queue's backing database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queue.Open(cfg.QueueStoreConfig())
			if err != nil {
				return err
			}
			return q.DeleteQueue(cmd.Context())
		},
	}
}
