package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/service"
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show the doses due today",
	Args:  cobra.NoArgs,
	RunE:  runToday,
}

var upcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "Show the next reminders across all schedules",
	Args:  cobra.NoArgs,
	RunE:  runUpcoming,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show notification history",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

var respondCmd = &cobra.Command{
	Use:   "respond [reminder-handle] [taken|skipped]",
	Short: "Answer a reminder from the command line",
	Long: `Records the answer to a fired reminder. The handle is the REMINDER column of
"medline logs --status pending".`,
	Args: cobra.ExactArgs(2),
	RunE: runRespond,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump medicines, schedules and history as JSON or YAML",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var purgeLogsCmd = &cobra.Command{
	Use:   "purge-logs",
	Short: "Delete notification history older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runPurgeLogs,
}

var clearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Delete every medicine, schedule and log",
	Args:  cobra.NoArgs,
	RunE:  runClearAll,
}

var (
	upcomingCount int
	logsStatus    string
	logsMedicine  int64
	logsSchedule  int64
	logsDays      int
	logsLimit     int
	exportFormat  string
	exportOutput  string
	purgeDays     int
	clearConfirm  bool
)

func init() {
	upcomingCmd.Flags().IntVarP(&upcomingCount, "count", "n", 10, "number of reminders")

	logsCmd.Flags().StringVar(&logsStatus, "status", "", "pending, taken, skipped or missed")
	logsCmd.Flags().Int64Var(&logsMedicine, "medicine", 0, "only this medicine id")
	logsCmd.Flags().Int64Var(&logsSchedule, "schedule", 0, "only this schedule id")
	logsCmd.Flags().IntVar(&logsDays, "days", 0, "only the last N days")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum rows, 0 for all")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "json or yaml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")

	purgeLogsCmd.Flags().IntVar(&purgeDays, "older-than-days", 0, "override the configured retention")

	clearAllCmd.Flags().BoolVar(&clearConfirm, "yes", false, "confirm deleting everything")

	rootCmd.AddCommand(todayCmd, upcomingCmd, logsCmd, respondCmd, exportCmd, purgeLogsCmd, clearAllCmd)
}

func runToday(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		now := a.now()
		doses, err := a.service.DueToday(ctx, now)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Today, %s\n", now.Format("Mon 2006-01-02"))
		if len(doses) == 0 {
			fmt.Fprintln(out, "Nothing scheduled")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, d := range doses {
			when := d.At.Format("15:04")
			if d.Recurrence == models.RecurrenceAsNeeded {
				when = "as needed"
			}
			fmt.Fprintf(w, "%s\t%s (%s)\t%s\n", when, d.Medicine.Name, d.Medicine.Dosage, doseStatus(d))
		}
		return w.Flush()
	})
}

func doseStatus(d *service.Dose) string {
	if d.Status == "" {
		return "-"
	}
	return string(d.Status)
}

func runUpcoming(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		doses, err := a.service.Upcoming(ctx, a.now(), upcomingCount)
		if err != nil {
			return err
		}
		if len(doses) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No upcoming reminders")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, d := range doses {
			fmt.Fprintf(w, "%s\t%s (%s)\tschedule %d\n",
				d.At.In(a.loc).Format("Mon 2006-01-02 15:04"), d.Medicine.Name, d.Medicine.Dosage, d.ID)
		}
		return w.Flush()
	})
}

func runLogs(cmd *cobra.Command, args []string) error {
	f := models.LogFilter{
		MedicineID: logsMedicine,
		ScheduleID: logsSchedule,
		Limit:      logsLimit,
	}
	if logsStatus != "" {
		status, err := models.ParseStatus(logsStatus)
		if err != nil {
			return err
		}
		f.Status = status
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if logsDays > 0 {
			f.From = disposition.DayFilter(a.now().AddDate(0, 0, -(logsDays - 1))).From
		}
		logs, err := queryLogs(ctx, a, f)
		if err != nil {
			return err
		}
		f.Limit = 0
		sum, err := a.tracker.Counts(ctx, f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCHEDULED\tMEDICINE\tSTATUS\tRESPONDED\tREMINDER")
		for _, l := range logs {
			responded := "-"
			if l.RespondedAt != nil {
				responded = l.RespondedAt.In(a.loc).Format("01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s (%s)\t%s\t%s\t%s\n",
				l.ScheduledTime.In(a.loc).Format("2006-01-02 15:04"), l.MedicineName, l.MedicineDosage,
				l.Status, responded, l.ReminderHandle)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d taken, %d skipped, %d missed, %d pending (adherence %.0f%%)\n",
			sum.Taken, sum.Skipped, sum.Missed, sum.Pending, sum.Adherence()*100)
		return nil
	})
}

// queryLogs prefers the tracker's single-criterion queries and falls back
// to the store for combined filters.
func queryLogs(ctx context.Context, a *app, f models.LogFilter) ([]*models.NotificationLogWithMedicine, error) {
	if f.From.IsZero() {
		switch {
		case f.Status == "" && f.MedicineID == 0 && f.ScheduleID == 0:
			return a.tracker.Recent(ctx, f.Limit)
		case f.MedicineID == 0 && f.ScheduleID == 0:
			return a.tracker.ByStatus(ctx, f.Status, f.Limit)
		case f.Status == "" && f.ScheduleID == 0:
			return a.tracker.ByMedicine(ctx, f.MedicineID, f.Limit)
		case f.Status == "" && f.MedicineID == 0:
			return a.tracker.BySchedule(ctx, f.ScheduleID, f.Limit)
		}
	}
	return a.store.ListLogs(ctx, f)
}

func runRespond(cmd *cobra.Command, args []string) error {
	handle := args[0]
	timerID, due, err := models.ParseInstanceID(handle)
	if err != nil {
		return err
	}
	status, err := models.ParseStatus(args[1])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		existing, err := a.store.GetLogByHandle(ctx, handle)
		if err != nil {
			return fmt.Errorf("reminder %s (timer %s at %s): %w", handle, timerID, due.In(a.loc).Format(time.DateTime), err)
		}
		l, err := a.tracker.OnUserResponse(ctx, disposition.Occurrence{
			InstanceID:    handle,
			ScheduleID:    existing.ScheduleID,
			MedicineID:    existing.MedicineID,
			ScheduledTime: existing.ScheduledTime,
		}, status)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reminder %s is %s\n", handle, l.Status)
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		snap, err := a.service.Export(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}
		return writeSnapshot(out, snap, exportFormat)
	})
}

// writeSnapshot encodes the snapshot. YAML goes through the JSON form so
// both formats share the same field names.
func writeSnapshot(w io.Writer, snap *service.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml", "yml":
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func runPurgeLogs(cmd *cobra.Command, args []string) error {
	retention := cfg.Retention()
	if purgeDays > 0 {
		retention = time.Duration(purgeDays) * 24 * time.Hour
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		n, err := a.tracker.Purge(ctx, retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log entries\n", n)
		return nil
	})
}

func runClearAll(cmd *cobra.Command, args []string) error {
	if !clearConfirm {
		return fmt.Errorf("refusing to delete everything without --yes")
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.service.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All data deleted")
		return nil
	})
}
