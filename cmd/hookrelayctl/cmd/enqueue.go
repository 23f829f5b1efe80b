package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/streamhaven/hookrelay/internal/delivery"
	"github.com/streamhaven/hookrelay/internal/store"
)

var (
	enqueueTenantID       string
	enqueueSubscriptionID string
	enqueueEventType      string
	enqueuePayload        string
	enqueueDelay          time.Duration
)

// enqueueCmd inserts a pending delivery, mainly for smoke-testing a receiver.
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a webhook delivery",
	Long: `Enqueue inserts a new pending delivery for a subscription. The dispatcher
picks it up on its next cycle once the delivery is due.

Example:
  hookrelayctl enqueue --tenant t1 --subscription sub-1 \
    --event video.published --payload '{"video_id": 42}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if enqueueTenantID == "" || enqueueSubscriptionID == "" || enqueueEventType == "" {
			return fmt.Errorf("--tenant, --subscription, and --event are required")
		}
		// The payload is opaque to the engine and delivered byte-for-byte, so
		// non-JSON is allowed; a warning catches the common typo case.
		if !json.Valid([]byte(enqueuePayload)) {
			fmt.Fprintln(os.Stderr, "warning: payload is not valid JSON; enqueuing as-is")
		}

		return withStore(func(ctx context.Context, st *store.Postgres) error {
			// Sanity check the target before inserting.
			sub, err := st.Subscription(ctx, enqueueSubscriptionID)
			if err != nil {
				return err
			}
			if sub.TenantID != enqueueTenantID {
				return fmt.Errorf("subscription %s belongs to tenant %s, not %s",
					sub.ID, sub.TenantID, enqueueTenantID)
			}

			d := delivery.New(
				uuid.NewString(),
				enqueueTenantID,
				enqueueSubscriptionID,
				enqueueEventType,
				enqueuePayload,
				time.Now().UTC().Add(enqueueDelay),
			)
			if err := st.Enqueue(ctx, d); err != nil {
				return err
			}

			if outputJSON {
				printOutput(d)
			} else {
				fmt.Printf("Enqueued delivery %s (due %s)\n", d.ID, d.NextAttemptAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTenantID, "tenant", "", "tenant id (required)")
	enqueueCmd.Flags().StringVar(&enqueueSubscriptionID, "subscription", "", "subscription id (required)")
	enqueueCmd.Flags().StringVar(&enqueueEventType, "event", "", "event type name (required)")
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "{}", "JSON payload to deliver")
	enqueueCmd.Flags().DurationVar(&enqueueDelay, "delay", 0, "delay before the delivery becomes due")
	rootCmd.AddCommand(enqueueCmd)
}
