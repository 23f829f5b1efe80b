package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamhaven/hookrelay/internal/delivery"
	"github.com/streamhaven/hookrelay/internal/store"
)

var (
	listStatus string
	listLimit  int
)

// deliveryCmd groups delivery inspection subcommands.
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
}

var deliveryGetCmd = &cobra.Command{
	Use:   "get <delivery-id>",
	Short: "Show one delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Postgres) error {
			d, err := st.GetDelivery(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				printOutput(d)
			} else {
				printDelivery(*d)
			}
			return nil
		})
	},
}

var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries by status",
	Long: `List deliveries in a given status, most recently updated first.

Example:
  hookrelayctl delivery list --status failed --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := delivery.Status(listStatus)
		switch status {
		case delivery.StatusPending, delivery.StatusRetrying, delivery.StatusSucceeded, delivery.StatusFailed:
		default:
			return fmt.Errorf("unknown status %q", listStatus)
		}

		return withStore(func(ctx context.Context, st *store.Postgres) error {
			ds, err := st.ListByStatus(ctx, status, listLimit)
			if err != nil {
				return err
			}
			if outputJSON {
				printOutput(ds)
				return nil
			}
			if len(ds) == 0 {
				fmt.Println("No deliveries found")
				return nil
			}
			for _, d := range ds {
				printDelivery(d)
				fmt.Println()
			}
			return nil
		})
	},
}

func printDelivery(d delivery.Delivery) {
	fmt.Printf("Delivery:      %s\n", d.ID)
	fmt.Printf("Tenant:        %s\n", d.TenantID)
	fmt.Printf("Subscription:  %s\n", d.SubscriptionID)
	fmt.Printf("Event type:    %s\n", d.EventType)
	fmt.Printf("Status:        %s\n", d.Status)
	fmt.Printf("Attempts:      %d\n", d.AttemptCount)
	if !d.Status.Terminal() {
		fmt.Printf("Next attempt:  %s\n", d.NextAttemptAt.Format(time.RFC3339))
	}
	if d.DeliveredAt != nil {
		fmt.Printf("Delivered at:  %s\n", d.DeliveredAt.Format(time.RFC3339))
	}
	if d.LastStatusCode != nil {
		fmt.Printf("Last status:   %d\n", *d.LastStatusCode)
	}
	if d.LastError != nil {
		fmt.Printf("Last error:    %s\n", *d.LastError)
	}
}

func init() {
	deliveryListCmd.Flags().StringVar(&listStatus, "status", "failed", "delivery status to list")
	deliveryListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum deliveries to show")
	deliveryCmd.AddCommand(deliveryGetCmd)
	deliveryCmd.AddCommand(deliveryListCmd)
	rootCmd.AddCommand(deliveryCmd)
}
