package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"caixa/internal/aggregate"
	"caixa/internal/core"
	"caixa/internal/engine"
	"caixa/internal/log"
	"caixa/internal/report"
)

func newMetricsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List the registered metrics and their cache lifetimes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "METRIC\tKIND\tFILTER\tOP\tGRANULARITIES")
			for _, m := range app.Catalog.Metrics() {
				regs := make([]string, len(m.Granularities))
				for i, r := range m.Granularities {
					regs[i] = fmt.Sprintf("%s (%s)", r.Granularity.Tag(), r.TTL)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Kind, m.Filter, m.Op, strings.Join(regs, ", "))
			}
			return tw.Flush()
		},
	}
}

// requestFromArgs reads "<metric> <granularity>" and the --at flag.
func requestFromArgs(app *App, args []string, at string) (engine.Request, error) {
	g, err := aggregate.ParseGranularity(args[1])
	if err != nil {
		return engine.Request{}, err
	}
	anchor, err := parseTime(at, app.Location)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{Metric: args[0], Granularity: g, Anchor: anchor}, nil
}

func newGetCmd(s *session) *cobra.Command {
	var (
		at     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "get <metric> <granularity>",
		Short: "Read one aggregate through the cache",
		Example: `  caixactl get cash.balance total
  caixactl get purchases.total last-12-months
  caixactl get payables.open day --at 2026-10-20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			req, err := requestFromArgs(app, args, at)
			if err != nil {
				return err
			}
			v, err := app.Engine.Get(cmd.Context(), req)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := v.Encode()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			m, err := app.Catalog.Metric(req.Metric)
			if err != nil {
				return err
			}
			count := m.Op == aggregate.OpCount
			if !v.IsSeries {
				fmt.Fprintln(cmd.OutOrStdout(), render(v.Scalar, count))
				return nil
			}
			return writeSeries(cmd, app, req, v, count)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "anchor date (YYYY-MM-DD), defaults to now")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the cached value as JSON, at full precision")
	return cmd
}

// writeSeries prints one labelled line per point, ranked entries by position and name.
func writeSeries(cmd *cobra.Command, app *App, req engine.Request, v aggregate.Value, count bool) error {
	plan, err := aggregate.Resolve(req.Granularity, req.Anchor, app.Engine.Now())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for i, p := range v.Points {
		label := fmt.Sprint(i)
		switch {
		case v.Ranked:
			label = fmt.Sprintf("%d. %s", i+1, v.Labels[i])
		case len(plan.Starts) == len(v.Points):
			label = plan.Bucket.Label(plan.Starts[i])
		}
		fmt.Fprintf(tw, "%s\t%s\n", label, render(p, count))
	}
	fmt.Fprintf(tw, "sum\t%s\n", render(v.Sum(), count))
	return tw.Flush()
}

func newKeyCmd(s *session) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "key <metric> <granularity>",
		Short: "Print the cache key an aggregate is stored under",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			req, err := requestFromArgs(app, args, at)
			if err != nil {
				return err
			}
			key, err := app.Engine.Key(req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "anchor date (YYYY-MM-DD), defaults to now")
	return cmd
}

func newDashboardCmd(s *session) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Render the cash flow, purchases, payables and sales panels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			anchor, err := parseTime(at, app.Location)
			if err != nil {
				return err
			}
			snap := report.NewDashboard(app.Engine, report.WithLogger(log.FromContext(cmd.Context()))).
				Build(cmd.Context(), anchor)
			if err := snap.WriteText(cmd.OutOrStdout()); err != nil {
				return err
			}
			if n := snap.Failed(); n > 0 {
				return fmt.Errorf("%d dashboard panels unavailable", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "anchor date (YYYY-MM-DD), defaults to now")
	return cmd
}

func newInvalidateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <key>...",
		Short: "Drop cached aggregates by key",
		Long: `Drops cache keys by hand, for example after fixing ledger rows outside caixactl.
Keys have the form metric|granularity|discriminator, as printed by "caixactl key".`,
		Example: `  caixactl invalidate "sales.total|month|2026-10" "sales.total|total|all"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := s.App(cmd)
			if err != nil {
				return err
			}
			if err := app.Coordinator.DropKeys(cmd.Context(), args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %d keys\n", len(args))
			return nil
		},
	}
}

func render(v decimal.Decimal, count bool) string {
	if count {
		return v.StringFixed(0)
	}
	return core.FormatAmount(v)
}
