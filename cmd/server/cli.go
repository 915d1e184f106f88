package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
	"github.com/gyaneshwarpardhi/uebax/internal/recorder"
	"github.com/gyaneshwarpardhi/uebax/internal/report"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	alertColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

func newRecordCmd() *cobra.Command {
	var detail string
	cmd := &cobra.Command{
		Use:   "record ACTOR KIND",
		Short: "Record one event and print the alerts it raised",
		Example: `  uebad -c uebax.yaml record alice LOGIN
  uebad -c uebax.yaml record alice file_access --detail /srv/reports/q3.xlsx`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := event.ParseKind(args[1])
			if err != nil {
				return err
			}
			a, err := openApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cliContext()
			defer cancel()
			res, err := a.rec.Record(ctx, args[0], kind, detail)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&detail, "detail", "d", "", "Free-form event detail")
	return cmd
}

func printResult(w io.Writer, res *recorder.Result) error {
	if outputJSON {
		warnings := make([]string, 0, len(res.Warnings))
		for _, e := range res.Warnings {
			warnings = append(warnings, e.Error())
		}
		return writeJSON(w, map[string]interface{}{"event": res.Event, "alerts": res.Alerts(), "warnings": warnings})
	}
	successColor.Fprintf(w, "recorded %s ", res.Event.Kind)
	fmt.Fprintf(w, "for %s (%s)\n", res.Event.Actor, res.Event.ID)
	for _, f := range res.Firings {
		if f.Created {
			alertColor.Fprintf(w, "  ALERT %s", f.Alert.Kind)
			fmt.Fprintf(w, " %s\n", f.Alert.Detail)
			continue
		}
		dimColor.Fprintf(w, "  %s already raised (%s)\n", f.Alert.Kind, f.Alert.ID)
	}
	for _, e := range res.Warnings {
		warningColor.Fprintf(w, "  warning: %v\n", e)
	}
	return nil
}

type listFlags struct {
	kind  string
	actor string
	since time.Duration
	limit int
}

func (lf *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&lf.kind, "kind", "", "Only this kind")
	cmd.Flags().StringVar(&lf.actor, "actor", "", "Only this actor")
	cmd.Flags().DurationVar(&lf.since, "since", 0, "Only the last duration, e.g. 24h")
	cmd.Flags().IntVarP(&lf.limit, "limit", "n", 20, "Maximum rows")
}

func (lf *listFlags) filter() store.Filter {
	f := store.Filter{Kind: lf.kind, Actor: lf.actor, Limit: lf.limit}
	if lf.since > 0 {
		f.Since = time.Now().Add(-lf.since)
	}
	return f
}

func newEventsCmd() *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := lf.filter()
			if f.Kind != "" {
				k, err := event.ParseKind(f.Kind)
				if err != nil {
					return err
				}
				f.Kind = string(k)
			}
			a, err := openApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cliContext()
			defer cancel()
			evs, err := a.events.ListEvents(ctx, f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(w, evs)
			}
			headerColor.Fprintf(w, "%-25s  %-14s  %-20s  %s\n", "TIME", "KIND", "ACTOR", "DETAIL")
			for _, ev := range evs {
				fmt.Fprintf(w, "%-25s  %-14s  %-20s  %s\n", ev.OccurredAt.Format(time.RFC3339), ev.Kind, ev.Actor, ev.Detail)
			}
			dimColor.Fprintf(w, "%d event(s)\n", len(evs))
			return nil
		},
	}
	lf.register(cmd)
	return cmd
}

func newAlertsCmd() *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := lf.filter()
			if f.Kind != "" {
				k, err := alert.ParseKind(f.Kind)
				if err != nil {
					return err
				}
				f.Kind = string(k)
			}
			a, err := openApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cliContext()
			defer cancel()
			as, err := a.alerts.ListAlerts(ctx, f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(w, as)
			}
			headerColor.Fprintf(w, "%-25s  %-24s  %-20s  %s\n", "TIME", "KIND", "ACTOR", "DETAIL")
			for _, al := range as {
				fmt.Fprintf(w, "%-25s  ", al.OccurredAt.Format(time.RFC3339))
				alertColor.Fprintf(w, "%-24s", al.Kind)
				fmt.Fprintf(w, "  %-20s  %s\n", al.Actor, al.Detail)
			}
			dimColor.Fprintf(w, "%d alert(s)\n", len(as))
			return nil
		},
	}
	lf.register(cmd)
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show today's dashboard numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := cliContext()
			defer cancel()
			s, err := a.reporter.Summary(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(w, s)
			}
			printSummary(w, s)
			return nil
		},
	}
}

func printSummary(w io.Writer, s *report.Summary) {
	headerColor.Fprintf(w, "Activity on %s\n", s.Day)
	fmt.Fprintf(w, "  logins today   %d\n", s.LoginsToday)
	fmt.Fprintf(w, "  alerts today   %d\n", s.AlertsToday)
	fmt.Fprintf(w, "  alerts total   %d\n", s.AlertsTotal)
	fmt.Fprintf(w, "  connected      %d\n", s.Connected)
	if s.LastEvent != nil {
		fmt.Fprintf(w, "  last event     %s %s at %s\n", s.LastEvent.Actor, s.LastEvent.Kind, s.LastEvent.OccurredAt.Format(time.RFC3339))
	}
	for _, b := range s.LoginsByHour {
		if b.Logins > 0 {
			fmt.Fprintf(w, "  %02d:00  %d\n", b.Hour, b.Logins)
		}
	}
	for _, c := range s.Connections {
		status := "offline"
		if c.Connected {
			status = successColor.Sprint("online")
		}
		fmt.Fprintf(w, "  %-14s %s\n", c.Actor, status)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
