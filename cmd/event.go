package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/ssoflow/internal/core/events"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish ticket events through the notification pipeline to check channel settings and message rendering.`,
}

var publishEventCmd = &cobra.Command{
	Use:       "publish [event-type]",
	Short:     "Publish a sample ticket event",
	Long:      `Publish a sample ticket event to the event bus. Recipients are notified on the configured channels.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: events.TicketEventTypes,
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var (
	eventRecipients []int64
	eventTicketNo   string
	eventTitle      string
	eventComment    string
)

func publishTestEvent(eventType string) {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	logger := deps.Logger

	deps.Dispatcher.Start()
	defer deps.Dispatcher.Shutdown()

	ev := events.NewTicketEvent(eventType, events.TicketEvent{
		TicketNo:   eventTicketNo,
		Title:      eventTitle,
		Recipients: eventRecipients,
		Comment:    eventComment,
		NodeName:   "Sample node",
		Status:     "pending",
	})

	logger.Info("publishing test event", "event_type", eventType, "event_id", ev.EventID(), "recipients", eventRecipients)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := deps.Bus.PublishSync(ctx, ev); err != nil {
		logger.Error("failed to publish event", "error", err)
		return
	}

	// give the workers a moment to drain the queue before shutdown drops it
	time.Sleep(2 * time.Second)
	logger.Info("test event published successfully")
}

func init() {
	publishEventCmd.Flags().Int64SliceVar(&eventRecipients, "to", nil, "recipient user ids")
	publishEventCmd.Flags().StringVar(&eventTicketNo, "ticket-no", "TK-TEST", "ticket number shown in the message")
	publishEventCmd.Flags().StringVar(&eventTitle, "title", "Test ticket", "ticket title shown in the message")
	publishEventCmd.Flags().StringVar(&eventComment, "comment", "", "comment for rejection events")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
