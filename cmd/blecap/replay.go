package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blecap/internal/sim"
)

var ErrReplayMismatch = errors.New("replay mismatch")

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scenario and check the device output",
	Long: `Runs a YAML scenario step by step against a fresh device: sensor frames
and bus faults, connection and advertising events, and raw ATT requests.
Every PDU the device sends and every LED change is printed; expect and led
steps are checked and any mismatch is shown as a unified diff and makes the
command exit non-zero.

Example scenario:
  name: read slider
  steps:
    - connect: {conn_id: 1, addr: "00:11:22:33:44:55"}
    - frame: [0, 1, 40]
    - led: {channel: user, duty: 40}
    - request: "0a 0c00"
    - expect: "0b 28"`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var replayQuiet bool

func init() {
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "Print only the verdict and mismatches")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	sc, err := sim.Load(args[0])
	if err != nil {
		return err
	}
	report, err := sim.NewRunner(cfg, logger).Run(cmd.Context(), sc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !replayQuiet {
		for _, line := range report.Transcript {
			fmt.Fprintln(out, line)
		}
	}
	if !report.OK() {
		fmt.Fprint(out, report.Failure())
		return fmt.Errorf("%w: %s: %d of %d steps failed", ErrReplayMismatch, sc.Name, len(report.Mismatches), len(sc.Steps))
	}
	fmt.Fprintf(out, "PASS %s (%d steps)\n", sc.Name, len(sc.Steps))
	return nil
}
