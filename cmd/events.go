/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gcc-cricket/clubserver/config"
	"github.com/gcc-cricket/clubserver/internal/mq"
	"github.com/gcc-cricket/clubserver/types"
	"github.com/spf13/cobra"
)

var eventsTopic string

// eventsCmd groups commands that work with receipt events.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect receipt review events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print receipt events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		topic := eventsTopic
		if topic == "" {
			topic = cfg.MQ.ReceiptTopic
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			if errors.Is(err, mq.ErrDisabled) {
				return errors.New("MQ_BACKEND is not configured")
			}
			return err
		}
		defer broker.Close()

		err = broker.Subscribe(ctx, topic, func(_ context.Context, msg mq.Message) error {
			return printEvent(cmd.OutOrStdout(), msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsTailCmd.Flags().StringVar(&eventsTopic, "topic", "", "topic to read (defaults to MQ_RECEIPT_TOPIC)")
	eventsCmd.AddCommand(eventsTailCmd)
}

func printEvent(w io.Writer, msg mq.Message) error {
	var event types.ReceiptEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// Not ours; ack it and move on.
		fmt.Fprintf(w, "%s\tunparsable\t%q\n", msg.ID, msg.Data)
		return nil
	}
	subject := "-"
	if event.SubjectID != nil {
		subject = fmt.Sprint(*event.SubjectID)
	}
	_, err := fmt.Fprintf(w, "%s\t%s\treceipt=%d\tplayer=%d\tstatus=%s\tactor=%d\tsubject=%s\n",
		event.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
		event.Type,
		event.ReceiptID,
		event.PlayerID,
		event.Status,
		event.ActorID,
		subject,
	)
	return err
}
