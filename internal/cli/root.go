package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"caixa/internal/log"
)

// opener builds the App a command runs against.
type opener func(ctx context.Context) (*App, error)

// session opens the App lazily, so commands that fail argument checks never touch the ledger.
type session struct {
	open opener
	app  *App
}

// Execute runs caixactl with os.Args. Configuration comes from the
// environment, optionally through a .env file.
func Execute(ctx context.Context, version string) error {
	cmd, s := newRootCmd(version, func(ctx context.Context) (*App, error) {
		LoadEnvFile()
		cfg, err := LoadAndValidateConfig()
		if err != nil {
			return nil, err
		}
		return Bootstrap(ctx, cfg, SetupLogger(cfg.LogLevel))
	})
	return s.execute(ctx, cmd)
}

func newRootCmd(version string, open opener) (*cobra.Command, *session) {
	s := &session{open: open}

	cmd := &cobra.Command{
		Use:           "caixactl",
		Short:         "Record ledger facts and read cached financial aggregates",
		Version:       version,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newMetricsCmd(s),
		newGetCmd(s),
		newKeyCmd(s),
		newDashboardCmd(s),
		newInvalidateCmd(s),
		newRecordCmd(s),
		newSettleCmd(s),
		newRescheduleCmd(s),
	)
	return cmd, s
}

// execute runs cmd and closes the App it opened, whether or not cmd failed.
func (s *session) execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if s.app != nil {
		if cerr := s.app.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
		}
		s.app = nil
	}
	return err
}

const rootCmdExample = `  # List the metrics that can be read
  caixactl metrics

  # Today's net cash flow
  caixactl get cash.balance day

  # Daily sales of September 2026
  caixactl get sales.total daily --at 2026-09-01

  # Record a sale and read it back
  caixactl record sale --customer "Ana" --total 120 --discounted 110
  caixactl dashboard`

// App opens the App on first use and puts its logger on the command context.
func (s *session) App(cmd *cobra.Command) (*App, error) {
	if s.app != nil {
		return s.app, nil
	}
	app, err := s.open(cmd.Context())
	if err != nil {
		return nil, err
	}
	s.app = app
	cmd.SetContext(log.NewContext(cmd.Context(), app.Logger))
	return app, nil
}

var timeLayouts = []string{time.DateTime, "2006-01-02 15:04", "2006-01-02T15:04", time.DateOnly}

// parseTime reads a wall-clock time in loc, or an RFC 3339 instant. An empty
// string is the zero time.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD, YYYY-MM-DD HH:MM or RFC 3339", s)
}

// whenOrNow parses s, defaulting to the engine clock.
func whenOrNow(app *App, s string) (time.Time, error) {
	t, err := parseTime(s, app.Location)
	if err != nil {
		return time.Time{}, err
	}
	if t.IsZero() {
		return app.Engine.Now(), nil
	}
	return t, nil
}
