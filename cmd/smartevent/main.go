// The smartevent command turns an email into a Google Calendar event.
//
// `smartevent add` takes a Gmail message identifier (or pasted email
// text), extracts the event details with Vertex AI and prints the
// proposal; `smartevent confirm` applies corrections and creates the
// calendar event; `smartevent list` shows stored workflows.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/config"
	"github.com/HangSHI/SmartEventAdder/internal/gcal"
	"github.com/HangSHI/SmartEventAdder/internal/gmail"
	"github.com/HangSHI/SmartEventAdder/internal/googlehttp"
	"github.com/HangSHI/SmartEventAdder/internal/logging"
	"github.com/HangSHI/SmartEventAdder/internal/persist"
	"github.com/HangSHI/SmartEventAdder/internal/resolve"
	"github.com/HangSHI/SmartEventAdder/internal/tracehttp"
	"github.com/HangSHI/SmartEventAdder/internal/tz"
	"github.com/HangSHI/SmartEventAdder/internal/vertex"
	"github.com/HangSHI/SmartEventAdder/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

var (
	flagConfig  string
	flagTrace   bool
	flagVerbose bool

	flagSummary     string
	flagDate        string
	flagStartTime   string
	flagEndTime     string
	flagLocation    string
	flagDescription string
)

// app holds the wired collaborators for one command invocation.
type app struct {
	orch *workflow.Orchestrator
	db   *persist.DB
	log  *zap.Logger
}

func newApp(ctx context.Context) (*app, error) {
	log, err := logging.New(flagVerbose)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	client, err := googlehttp.New(ctx, cfg.CredentialsPath, cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	db, err := persist.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	gm, err := gmail.New(ctx, client, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	cal, err := gcal.New(ctx, client, cfg.CalendarID, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	parser := vertex.New(client, cfg.ProjectID, cfg.Location, cfg.Model, cfg.ParseTimeout, log)

	settings := tz.FuncSettings{
		Calendar: cal.Timezone,
		Session:  tz.SessionTimezoneFromEnv,
		Locale:   tz.ActiveLocaleFromEnv,
	}

	orch := workflow.New(
		resolve.New(gm, log),
		parser,
		settings,
		gcal.NewCommitter(cal, cal, log),
		workflow.NewDBStore(db),
		log)
	return &app{orch: orch, db: db, log: log}, nil
}

func (a *app) close() {
	a.db.Close()
	a.log.Sync()
}

func printProposal(rec *persist.Record) {
	fmt.Printf("Workflow:  %s\n", rec.ID)
	fmt.Printf("State:     %s\n", rec.State)
	if rec.Subject != "" {
		fmt.Printf("Email:     %s (%s)\n", rec.Subject, rec.FromHeader)
	}
	fmt.Printf("Summary:   %s\n", rec.Summary)
	fmt.Printf("Date:      %s\n", rec.EventDate)
	fmt.Printf("Start:     %s\n", rec.StartTime)
	if rec.EndTime != "" {
		fmt.Printf("End:       %s\n", rec.EndTime)
	}
	if rec.Location != "" {
		fmt.Printf("Location:  %s\n", rec.Location)
	}
	fmt.Printf("Timezone:  %s (from %s)\n", rec.Timezone, rec.TimezoneSource)
}

func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [identifier, email text, or path to a .txt file]",
		Short: "Extract event details from an email and propose a calendar event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			input := args[0]
			if strings.HasSuffix(input, ".txt") {
				b, err := os.ReadFile(input)
				if err != nil {
					return err
				}
				input = string(b)
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.orch.Prepare(ctx, input)
			if err != nil {
				if hint := workflow.Hint(err); hint != "" {
					fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
				}
				return err
			}
			printProposal(rec)
			fmt.Printf("\nReview the proposal, then run:\n  smartevent confirm %s\n", rec.ID)
			return nil
		},
	}
}

func confirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <workflow-id>",
		Short: "Apply corrections and create the calendar event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			var edits workflow.Edits
			set := func(name string, dst **string, value *string) {
				if cmd.Flags().Changed(name) {
					*dst = value
				}
			}
			set("summary", &edits.Summary, &flagSummary)
			set("date", &edits.Date, &flagDate)
			set("start", &edits.StartTime, &flagStartTime)
			set("end", &edits.EndTime, &flagEndTime)
			set("location", &edits.Location, &flagLocation)
			set("description", &edits.Description, &flagDescription)

			rec, err := a.orch.Confirm(ctx, args[0], edits)
			if err != nil {
				if rec != nil && rec.State == workflow.StateAwaitingConfirmation {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					fmt.Fprintf(os.Stderr, "fix the fields with the confirm flags and run again\n")
					printProposal(rec)
					return nil
				}
				if hint := workflow.Hint(err); hint != "" {
					fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
				}
				return err
			}
			fmt.Printf("Event created: %s\n", rec.EventID)
			if rec.EventURL != "" {
				fmt.Printf("%s\n", rec.EventURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagSummary, "summary", "", "override the event summary")
	cmd.Flags().StringVar(&flagDate, "date", "", "override the event date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagStartTime, "start", "", "override the start time (HH:MM)")
	cmd.Flags().StringVar(&flagEndTime, "end", "", "override the end time (HH:MM)")
	cmd.Flags().StringVar(&flagLocation, "location", "", "override the event location")
	cmd.Flags().StringVar(&flagDescription, "description", "", "override the event description")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			recs, err := a.orch.List(ctx)
			if err != nil {
				return err
			}
			for _, r := range recs {
				line := fmt.Sprintf("%s  %-22s  %s  %s %s",
					r.ID, r.State, r.Updated.Format(time.RFC3339), r.EventDate, r.Summary)
				if r.State == workflow.StateFailed && r.LastError != "" {
					line += "  (" + r.LastError + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "smartevent",
		Short:         "Add calendar events extracted from email",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagTrace {
				tracehttp.WrapDefaultTransport()
			}
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultConfigPath(), "config file")
	root.PersistentFlags().BoolVarP(&flagTrace, "trace", "T", false, "request debug tracing")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	root.AddCommand(addCmd(), confirmCmd(), listCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
