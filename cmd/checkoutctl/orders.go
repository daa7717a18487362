package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"
	"checkout-service/internal/services"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func listOrdersCmd(open opener) *cobra.Command {
	var (
		buyer  uint64
		status string
		last   int
	)
	cmd := &cobra.Command{
		Use:   "list-orders",
		Short: "List orders with their status, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			f := repository.OrderFilter{BuyerID: buyer, Status: domain.OrderStatus(status), Limit: last}
			return runListOrders(cmd.Context(), d.orders, cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().Uint64Var(&buyer, "buyer", 0, "only orders of this buyer id")
	cmd.Flags().StringVar(&status, "status", "", "only orders in this status (pending, processing, approved, cancelled, refunded)")
	cmd.Flags().IntVar(&last, "last", 10, "number of most recent orders to show, 0 for all")
	return cmd
}

func runListOrders(ctx context.Context, repo repository.OrderRepository, w io.Writer, f repository.OrderFilter) error {
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("unknown status %q", f.Status)
	}
	orders, err := repo.List(ctx, f)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(w, "no orders found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBUYER\tSTATUS\tTOTAL\tITEMS\tREFERENCE\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\t%s\n",
			o.ID, o.BuyerID, o.Status, o.Total.StringFixed(2), len(o.Items),
			valueOr(o.Reference(), "-"), o.CreatedAt.Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := map[domain.OrderStatus]int{}
	for _, o := range orders {
		counts[o.Status]++
	}
	var parts []string
	for _, s := range []domain.OrderStatus{domain.StatusPending, domain.StatusProcessing, domain.StatusApproved, domain.StatusCancelled, domain.StatusRefunded} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
		}
	}
	fmt.Fprintf(w, "\n%d orders (%s)\n", len(orders), strings.Join(parts, ", "))
	return nil
}

func simulatePaymentCmd(open opener) *cobra.Command {
	var (
		status string
		amount string
		method string
	)
	cmd := &cobra.Command{
		Use:   "simulate-payment <order-id>",
		Short: "Run a gateway payment status through reconciliation without the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			d, err := open()
			if err != nil {
				return err
			}
			return runSimulatePayment(cmd.Context(), d.reconciler, cmd.OutOrStdout(), id, status, amount, method)
		},
	}
	cmd.Flags().StringVar(&status, "status", "approved", "gateway payment status (approved, in_process, pending, rejected, cancelled)")
	cmd.Flags().StringVar(&amount, "amount", "", "charged amount, defaults to the order total")
	cmd.Flags().StringVar(&method, "method", "simulated", "gateway payment method id")
	return cmd
}

func runSimulatePayment(ctx context.Context, rec *services.Reconciler, w io.Writer, orderID uint64, status, amount, method string) error {
	in := services.Input{
		OrderID:         orderID,
		GatewayStatus:   status,
		Reference:       "sim-" + strconv.FormatUint(orderID, 10),
		PaymentMethodID: method,
		Verified:        true,
		Source:          services.SourceOperator,
	}
	if amount != "" {
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", amount, err)
		}
		in.Amount = &a
	}

	out, err := rec.Reconcile(ctx, in)
	if err != nil {
		return err
	}

	switch out.Result {
	case services.ResultUnknownOrder:
		return fmt.Errorf("order %d not found", orderID)
	case services.ResultUnknownStatus:
		return fmt.Errorf("unknown gateway status %q", status)
	case services.ResultAmountMismatch:
		fmt.Fprintf(w, "order %d: approval blocked, amount %s does not match total %s\n", orderID, in.Amount.StringFixed(2), out.Order.Total.StringFixed(2))
	case services.ResultTransitioned:
		fmt.Fprintf(w, "order %d: %s -> %s", orderID, out.From, out.To)
		if out.Granted > 0 {
			fmt.Fprintf(w, " (%d access grants created)", out.Granted)
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintf(w, "order %d: unchanged (%s)\n", orderID, out.Order.Status)
	}
	return nil
}

func restoreAccessCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "restore-access <order-id>",
		Short: "Create missing access grants for an approved order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			d, err := open()
			if err != nil {
				return err
			}
			return runRestoreAccess(cmd.Context(), d.orders, d.access, cmd.OutOrStdout(), id)
		},
	}
}

func runRestoreAccess(ctx context.Context, orders repository.OrderRepository, access *services.AccessService, w io.Writer, orderID uint64) error {
	order, err := orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order %d not found", orderID)
	}
	n, err := access.RestoreGrants(ctx, order)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "order %d: %d access grants created, %d products in order\n", orderID, n, len(order.DistinctProductIDs()))
	return nil
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
