package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/recurrence"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage reminder schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a schedule to a medicine",
	Long: `Adds a schedule. Weekdays are numbers, 0 = Sunday.

Examples:
  medline schedule add --medicine 1 --time 08:00
  medline schedule add --medicine 1 --time 21:30 --recurrence weekly --days 1,3,5
  medline schedule add --medicine 2 --recurrence as-needed`,
	Args: cobra.NoArgs,
	RunE: runScheduleAdd,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a schedule and its next occurrences",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShow,
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Change fields of a schedule; reminders are re-armed",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleUpdate,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a schedule and cancel its reminders",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var (
	schedMedicine   int64
	schedTime       string
	schedRecurrence string
	schedDays       string
	schedStart      string
	schedEnd        string
	schedNoEnd      bool
	schedActive     bool
)

func init() {
	for _, c := range []*cobra.Command{scheduleAddCmd, scheduleUpdateCmd} {
		c.Flags().Int64Var(&schedMedicine, "medicine", 0, "medicine id")
		c.Flags().StringVar(&schedTime, "time", "08:00", "time of day, HH:MM")
		c.Flags().StringVar(&schedRecurrence, "recurrence", string(models.RecurrenceDaily), "daily, weekly, monthly, custom or as-needed")
		c.Flags().StringVar(&schedDays, "days", "", "weekdays for weekly schedules, e.g. 1,3,5")
		c.Flags().StringVar(&schedStart, "start", "", "first date, YYYY-MM-DD (default today)")
		c.Flags().StringVar(&schedEnd, "end", "", "last date, YYYY-MM-DD")
	}
	scheduleUpdateCmd.Flags().BoolVar(&schedNoEnd, "no-end", false, "remove the end date")
	scheduleUpdateCmd.Flags().BoolVar(&schedActive, "active", true, "enable or pause the schedule")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleShowCmd, scheduleUpdateCmd, scheduleDeleteCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	tod, err := models.ParseTimeOfDay(schedTime)
	if err != nil {
		return err
	}
	rec, err := models.ParseRecurrence(schedRecurrence)
	if err != nil {
		return err
	}
	days, err := models.ParseWeekdays(schedDays)
	if err != nil {
		return err
	}
	end, err := parseOptionalDate(schedEnd)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		start := civil.DateOf(a.now())
		if schedStart != "" {
			if start, err = civil.ParseDate(schedStart); err != nil {
				return fmt.Errorf("invalid start date: %w", err)
			}
		}
		s := &models.Schedule{
			MedicineID:     schedMedicine,
			Time:           tod,
			Recurrence:     rec,
			RecurrenceDays: days,
			StartDate:      start,
			EndDate:        end,
			Active:         true,
		}
		if err := a.service.CreateSchedule(ctx, s); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added schedule %d: %s\n", s.ID, recurrence.Describe(s))
		return nil
	})
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		schedules, err := a.service.ListSchedules(ctx)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No schedules")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMEDICINE\tRULE\tSTART\tARMED")
		for _, s := range schedules {
			fmt.Fprintf(w, "%d\t%s (%s)\t%s\t%s\t%d\n",
				s.ID, s.Medicine.Name, s.Medicine.Dosage, recurrence.Describe(&s.Schedule), s.StartDate, len(s.ReminderHandles))
		}
		return w.Flush()
	})
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		s, err := a.service.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Schedule %d for %s (%s)\n", s.ID, s.Medicine.Name, s.Medicine.Dosage)
		fmt.Fprintf(out, "  %s\n", recurrence.Describe(&s.Schedule))
		if rule := recurrence.RuleString(&s.Schedule, a.loc); rule != "" {
			fmt.Fprintf(out, "  RRULE:%s\n", rule)
		}
		if s.Recurrence.FallsBackToDaily() {
			fmt.Fprintf(out, "  note: %s schedules remind daily\n", s.Recurrence)
		}
		if len(s.ReminderHandles) > 0 {
			fmt.Fprintf(out, "  timers: %s\n", s.ReminderHandles)
		}

		times, err := recurrence.Upcoming(&s.Schedule, a.now(), 5)
		if err != nil {
			return err
		}
		for _, t := range times {
			fmt.Fprintf(out, "  next: %s\n", t.In(a.loc).Format("Mon 2006-01-02 15:04"))
		}
		return nil
	})
}

func runScheduleUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	var p models.SchedulePatch
	flags := cmd.Flags()
	if flags.Changed("medicine") {
		p.MedicineID = &schedMedicine
	}
	if flags.Changed("time") {
		tod, err := models.ParseTimeOfDay(schedTime)
		if err != nil {
			return err
		}
		p.Time = &tod
	}
	if flags.Changed("recurrence") {
		rec, err := models.ParseRecurrence(schedRecurrence)
		if err != nil {
			return err
		}
		p.Recurrence = &rec
		if rec != models.RecurrenceWeekly && !flags.Changed("days") {
			// Leaving weekly drops its weekdays.
			p.RecurrenceDays = &models.Weekdays{}
		}
	}
	if flags.Changed("days") {
		days, err := models.ParseWeekdays(schedDays)
		if err != nil {
			return err
		}
		p.RecurrenceDays = &days
	}
	if flags.Changed("start") {
		start, err := civil.ParseDate(schedStart)
		if err != nil {
			return fmt.Errorf("invalid start date: %w", err)
		}
		p.StartDate = &start
	}
	if flags.Changed("end") {
		if p.EndDate, err = parseOptionalDate(schedEnd); err != nil {
			return err
		}
	}
	p.ClearEndDate = schedNoEnd
	if flags.Changed("active") {
		p.Active = &schedActive
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		s, err := a.service.UpdateSchedule(ctx, id, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated schedule %d: %s\n", s.ID, recurrence.Describe(s))
		return nil
	})
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.service.DeleteSchedule(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule %d\n", id)
		return nil
	})
}

func parseOptionalDate(s string) (*civil.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &d, nil
}
