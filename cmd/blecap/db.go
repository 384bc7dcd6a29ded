package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blecap/internal/attr"
	"github.com/srg/blecap/internal/gattdb"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Print the GATT attribute table",
	Long: `Prints every attribute of the device database with its handle, type,
permissions, capacity and initial value, in handle order.

Example:
  blecap db
  blecap db --json`,
	Args: cobra.NoArgs,
	RunE: runDB,
}

var (
	dbJSON    bool
	dbNoColor bool
)

func init() {
	dbCmd.Flags().BoolVar(&dbJSON, "json", false, "Print the table as handle-ordered JSON")
	dbCmd.Flags().BoolVar(&dbNoColor, "no-color", false, "Disable colored output")
}

func runDB(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store, err := gattdb.New(cfg.DeviceName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dbJSON {
		data, err := json.MarshalIndent(store.Dump(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode attribute table: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	return printTable(out, store, !dbNoColor)
}

func printTable(out io.Writer, store *attr.Store, colored bool) error {
	header := color.New(color.Bold)
	handle := color.New(color.FgCyan)
	if colored {
		header.EnableColor()
		handle.EnableColor()
	} else {
		header.DisableColor()
		handle.DisableColor()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header.Sprint("HANDLE\tTYPE\tNAME\tPERM\tMAX\tVALUE"))
	for _, r := range store.Records() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%x\n",
			handle.Sprintf("0x%04X", r.Handle),
			r.Type.String(),
			gattdb.Name(r.Type),
			r.Perm,
			r.MaxLen,
			r.Value(),
		)
	}
	return w.Flush()
}
