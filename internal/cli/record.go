package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"caixa/internal/core"
)

func newRecordCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a ledger fact; affected aggregates are dropped before returning",
	}
	cmd.AddCommand(
		newRecordCashFlowCmd(s),
		newRecordPurchaseCmd(s),
		newRecordSaleCmd(s),
		newRecordPayableCmd(s),
	)
	return cmd
}

// amountFlag parses a required amount flag.
func amountFlag(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("--%s is required", name)
	}
	d, err := core.ParseAmount(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

func printRecorded(cmd *cobra.Command, kind core.Kind, id int64, amount decimal.Decimal, at time.Time) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s #%d %s at %s\n", kind, id, core.FormatAmount(amount), at.Format(time.DateTime))
}

func newRecordCashFlowCmd(s *session) *cobra.Command {
	var description, amount, at string
	cmd := &cobra.Command{
		Use:     "cash-flow",
		Short:   "Record money in (positive) or out (negative)",
		Example: `  caixactl record cash-flow --amount -40 --description "Change for the till"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			amt, err := amountFlag("amount", amount)
			if err != nil {
				return err
			}
			when, err := whenOrNow(app, at)
			if err != nil {
				return err
			}
			saved, err := app.Service.RecordCashFlow(cmd.Context(), core.CashFlow{
				Description: description,
				Amount:      amt,
				OccurredAt:  when,
			})
			if err != nil {
				return err
			}
			printRecorded(cmd, core.KindCashFlow, saved.ID, saved.Amount, saved.OccurredAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what the movement is")
	cmd.Flags().StringVar(&amount, "amount", "", "signed amount, e.g. 150 or -40,50")
	cmd.Flags().StringVar(&at, "at", "", "when it happened, defaults to now")
	return cmd
}

func newRecordPurchaseCmd(s *session) *cobra.Command {
	var supplier, total, at string
	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Record a purchase from a supplier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			amt, err := amountFlag("total", total)
			if err != nil {
				return err
			}
			when, err := whenOrNow(app, at)
			if err != nil {
				return err
			}
			saved, err := app.Service.RecordPurchase(cmd.Context(), core.Purchase{
				Supplier:    supplier,
				Total:       amt,
				PurchasedAt: when,
			})
			if err != nil {
				return err
			}
			printRecorded(cmd, core.KindPurchase, saved.ID, saved.Total, saved.PurchasedAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&supplier, "supplier", "", "who the purchase was made from")
	cmd.Flags().StringVar(&total, "total", "", "amount paid")
	cmd.Flags().StringVar(&at, "at", "", "when it was made, defaults to now")
	return cmd
}

func newRecordSaleCmd(s *session) *cobra.Command {
	var customer, total, discounted, at string
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Record a sale; revenue counts the discounted total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			gross, err := amountFlag("total", total)
			if err != nil {
				return err
			}
			net := gross
			if discounted != "" {
				if net, err = amountFlag("discounted", discounted); err != nil {
					return err
				}
			}
			when, err := whenOrNow(app, at)
			if err != nil {
				return err
			}
			saved, err := app.Service.RecordSale(cmd.Context(), core.Sale{
				Customer:        customer,
				Total:           gross,
				TotalDiscounted: net,
				SoldAt:          when,
			})
			if err != nil {
				return err
			}
			printRecorded(cmd, core.KindSale, saved.ID, saved.TotalDiscounted, saved.SoldAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "who bought")
	cmd.Flags().StringVar(&total, "total", "", "gross total")
	cmd.Flags().StringVar(&discounted, "discounted", "", "total after discounts, defaults to --total")
	cmd.Flags().StringVar(&at, "at", "", "when it was sold, defaults to now")
	return cmd
}

func newRecordPayableCmd(s *session) *cobra.Command {
	var description, installment, due string
	cmd := &cobra.Command{
		Use:   "payable",
		Short: "Record an open installment to pay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			amt, err := amountFlag("installment", installment)
			if err != nil {
				return err
			}
			when, err := whenOrNow(app, due)
			if err != nil {
				return err
			}
			saved, err := app.Service.RecordPayable(cmd.Context(), core.Payable{
				Description: description,
				Installment: amt,
				DueAt:       when,
			})
			if err != nil {
				return err
			}
			printRecorded(cmd, core.KindPayable, saved.ID, saved.Installment, saved.DueAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what is owed")
	cmd.Flags().StringVar(&installment, "installment", "", "amount due")
	cmd.Flags().StringVar(&due, "due", "", "due date, defaults to today")
	return cmd
}

func payableID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid payable id %q", arg)
	}
	return id, nil
}

func newSettleCmd(s *session) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "settle <payable-id>",
		Short: "Mark a payable as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			id, err := payableID(args[0])
			if err != nil {
				return err
			}
			when, err := whenOrNow(app, at)
			if err != nil {
				return err
			}
			saved, err := app.Service.SettlePayable(cmd.Context(), id, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payable #%d paid at %s\n", saved.ID, saved.PaidAt.Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "when it was paid, defaults to now")
	return cmd
}

func newRescheduleCmd(s *session) *cobra.Command {
	var due string
	cmd := &cobra.Command{
		Use:   "reschedule <payable-id>",
		Short: "Move a payable to a new due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			id, err := payableID(args[0])
			if err != nil {
				return err
			}
			if due == "" {
				return fmt.Errorf("--due is required")
			}
			when, err := parseTime(due, app.Location)
			if err != nil {
				return err
			}
			saved, err := app.Service.ReschedulePayable(cmd.Context(), id, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payable #%d due at %s\n", saved.ID, saved.DueAt.Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "new due date")
	return cmd
}
