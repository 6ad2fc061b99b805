package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hray3182/MedLine/internal/models"
)

var medicineCmd = &cobra.Command{
	Use:     "medicine",
	Aliases: []string{"med"},
	Short:   "Manage medicines",
}

var medicineAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a medicine",
	Long: `Adds a medicine. Schedules are attached separately with "schedule add".

Example:
  medline medicine add --name Aspirin --dosage 100mg --form tablet`,
	Args: cobra.NoArgs,
	RunE: runMedicineAdd,
}

var medicineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List medicines",
	Args:  cobra.NoArgs,
	RunE:  runMedicineList,
}

var medicineUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Change fields of a medicine",
	Args:  cobra.ExactArgs(1),
	RunE:  runMedicineUpdate,
}

var medicineDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Stop reminders for a medicine but keep its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runMedicineActive(false),
}

var medicineActivateCmd = &cobra.Command{
	Use:   "activate [id]",
	Short: "Resume reminders for a deactivated medicine",
	Args:  cobra.ExactArgs(1),
	RunE:  runMedicineActive(true),
}

var medicineDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a medicine with its schedules and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runMedicineDelete,
}

var (
	medName         string
	medDosage       string
	medForm         string
	medInstructions string
	medColor        string
	medIcon         string
	medListAll      bool
)

func init() {
	for _, c := range []*cobra.Command{medicineAddCmd, medicineUpdateCmd} {
		c.Flags().StringVar(&medName, "name", "", "medicine name")
		c.Flags().StringVar(&medDosage, "dosage", "", "dose per intake, e.g. 100mg")
		c.Flags().StringVar(&medForm, "form", "", "tablet, capsule, liquid, injection, cream or other")
		c.Flags().StringVar(&medInstructions, "instructions", "", "free text shown with reminders")
		c.Flags().StringVar(&medColor, "color", "", "display color")
		c.Flags().StringVar(&medIcon, "icon", "", "display icon")
	}
	medicineListCmd.Flags().BoolVarP(&medListAll, "all", "a", false, "include deactivated medicines")

	medicineCmd.AddCommand(medicineAddCmd, medicineListCmd, medicineUpdateCmd,
		medicineDeactivateCmd, medicineActivateCmd, medicineDeleteCmd)
	rootCmd.AddCommand(medicineCmd)
}

func runMedicineAdd(cmd *cobra.Command, args []string) error {
	form, err := models.ParseForm(medForm)
	if err != nil {
		return err
	}
	m := &models.Medicine{
		Name:         medName,
		Dosage:       medDosage,
		Form:         form,
		Instructions: medInstructions,
		Color:        medColor,
		Icon:         medIcon,
		Active:       true,
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.service.CreateMedicine(ctx, m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added medicine %d: %s (%s)\n", m.ID, m.Name, m.Dosage)
		return nil
	})
}

func runMedicineList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		meds, err := a.service.ListMedicines(ctx, !medListAll)
		if err != nil {
			return err
		}
		if len(meds) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No medicines")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOSAGE\tFORM\tACTIVE\tINSTRUCTIONS")
		for _, m := range meds {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n", m.ID, m.Name, m.Dosage, m.Form, m.Active, m.Instructions)
		}
		return w.Flush()
	})
}

func runMedicineUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	var p models.MedicinePatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		p.Name = &medName
	}
	if flags.Changed("dosage") {
		p.Dosage = &medDosage
	}
	if flags.Changed("form") {
		form, err := models.ParseForm(medForm)
		if err != nil {
			return err
		}
		p.Form = &form
	}
	if flags.Changed("instructions") {
		p.Instructions = &medInstructions
	}
	if flags.Changed("color") {
		p.Color = &medColor
	}
	if flags.Changed("icon") {
		p.Icon = &medIcon
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		m, err := a.service.UpdateMedicine(ctx, id, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated medicine %d: %s (%s)\n", m.ID, m.Name, m.Dosage)
		return nil
	})
}

func runMedicineActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			m, err := a.service.UpdateMedicine(ctx, id, models.MedicinePatch{Active: &active})
			if err != nil {
				return err
			}
			state := "deactivated"
			if m.Active {
				state = "activated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Medicine %d %s\n", m.ID, state)
			return nil
		})
	}
}

func runMedicineDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.service.DeleteMedicine(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted medicine %d\n", id)
		return nil
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
