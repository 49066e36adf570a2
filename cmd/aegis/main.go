package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/kernel"
	"github.com/aegiskernel/aegis/pkg/ledger"
	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes: 0 clean, 2 operator config error, 3 storage failure,
// 4 doctrine violation at boot.
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrDoctrineViolation):
		return 4
	case errors.Is(err, kernel.ErrStorage),
		errors.Is(err, ledger.ErrStorageFull),
		errors.Is(err, ledger.ErrCorruptTail):
		return 3
	case errors.Is(err, kernel.ErrConfig), errors.Is(err, kernel.ErrInvalid):
		return 2
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - Operator-sovereign mission execution kernel",
	Long: `Aegis accepts missions, decomposes them into tasks, dispatches the
tasks to a bounded worker swarm, and records every decision to an
append-only ledger. Irreversible effects stay behind explicit operator
approval; all state is replayable from the ledger.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	dataDir  string
	logLevel string
	jsonLogs bool
)

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Aegis version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./aegis-data", "Data directory for ledger and state")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit JSON logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(capabilityCmd)
}

// openKernel boots a kernel over the data directory. Every command runs
// in-process against its own kernel; the data directory is the unit of
// ownership.
func openKernel() (*kernel.Kernel, error) {
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: jsonLogs,
		Output:     os.Stderr,
	})
	k, err := kernel.New(kernel.Options{DataDir: dataDir})
	if err != nil {
		return nil, err
	}
	if err := k.Start(); err != nil {
		k.Shutdown()
		return nil, err
	}
	return k, nil
}

// Mission commands
var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Create and control missions",
}

var missionCreateCmd = &cobra.Command{
	Use:   "create GOAL",
	Short: "Create a new mission and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		key, _ := cmd.Flags().GetString("idempotency-key")
		rawConstraints, _ := cmd.Flags().GetStringSlice("constraint")
		wait, _ := cmd.Flags().GetBool("wait")

		constraints := make(map[string]string)
		for _, raw := range rawConstraints {
			parts := strings.SplitN(raw, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("%w: constraint must be key=value, got %q", kernel.ErrInvalid, raw)
			}
			constraints[parts[0]] = parts[1]
		}

		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		m, err := k.CreateMission(args[0], category, constraints, key)
		if err != nil {
			return err
		}
		fmt.Printf("Mission created: %s\n", m.ID)

		if wait {
			k.Wait()
			m, err = k.GetMission(m.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Mission settled: %s\n", m.State)
		}
		return nil
	},
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		missions := k.ListMissions(types.MissionState(state))
		if len(missions) == 0 {
			fmt.Println("No missions.")
			return nil
		}
		for _, m := range missions {
			fmt.Printf("%s  %-8s  %-2s  %s\n", m.ID, m.State, m.Rank, m.Goal)
		}
		return nil
	},
}

var missionGetCmd = &cobra.Command{
	Use:   "get MISSION_ID",
	Short: "Show one mission with its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		m, err := k.GetMission(args[0])
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

func missionControl(action string, fn func(*kernel.Kernel, string) (types.MissionState, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		state, err := fn(k, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Mission %s: %s (%s)\n", args[0], state, action)
		return nil
	}
}

var missionPauseCmd = &cobra.Command{
	Use:   "pause MISSION_ID",
	Short: "Suspend dispatching after in-flight tasks complete",
	Args:  cobra.ExactArgs(1),
	RunE:  missionControl("paused", (*kernel.Kernel).PauseMission),
}

var missionResumeCmd = &cobra.Command{
	Use:   "resume MISSION_ID",
	Short: "Continue a paused mission",
	Args:  cobra.ExactArgs(1),
	RunE:  missionControl("resumed", (*kernel.Kernel).ResumeMission),
}

var missionAbortCmd = &cobra.Command{
	Use:   "abort MISSION_ID",
	Short: "Cancel a mission from any non-terminal state",
	Args:  cobra.ExactArgs(1),
	RunE:  missionControl("aborted", (*kernel.Kernel).AbortMission),
}

func init() {
	missionCmd.AddCommand(missionCreateCmd)
	missionCmd.AddCommand(missionListCmd)
	missionCmd.AddCommand(missionGetCmd)
	missionCmd.AddCommand(missionPauseCmd)
	missionCmd.AddCommand(missionResumeCmd)
	missionCmd.AddCommand(missionAbortCmd)

	missionCreateCmd.Flags().String("category", "", "Mission category hint")
	missionCreateCmd.Flags().String("idempotency-key", "", "Dedup key; a repeat returns the original mission")
	missionCreateCmd.Flags().StringSlice("constraint", nil, "Mission constraint key=value (repeatable)")
	missionCreateCmd.Flags().Bool("wait", false, "Block until the mission settles")

	missionListCmd.Flags().String("state", "", "Filter by mission state")
}

// Task commands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Settle task confirmation windows",
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve TASK_ID",
	Short: "Record one approval vote for a pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("approver")

		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		if err := k.ApproveTask(args[0], approver); err != nil {
			return err
		}
		fmt.Printf("Approval recorded for task %s\n", args[0])
		return nil
	},
}

var taskRejectCmd = &cobra.Command{
	Use:   "reject TASK_ID",
	Short: "Reject a pending task with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("approver")
		reason, _ := cmd.Flags().GetString("reason")

		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		if err := k.RejectTask(args[0], approver, reason); err != nil {
			return err
		}
		fmt.Printf("Task %s rejected\n", args[0])
		return nil
	},
}

var taskPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List open confirmation windows in deadline order",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		pending := k.PendingApprovals()
		if len(pending) == 0 {
			fmt.Println("No pending approvals.")
			return nil
		}
		for _, e := range pending {
			fmt.Printf("%s  tier=%s  approvers=%d/%d  deadline=%s\n",
				e.Decision.TaskID, e.Decision.Risk,
				len(e.Approvers), e.Decision.ApproversRequired,
				e.Deadline.Format("15:04:05"))
		}
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskApproveCmd)
	taskCmd.AddCommand(taskRejectCmd)
	taskCmd.AddCommand(taskPendingCmd)

	taskApproveCmd.Flags().String("approver", "", "Approver identity")
	taskApproveCmd.MarkFlagRequired("approver")
	taskRejectCmd.Flags().String("approver", "", "Approver identity")
	taskRejectCmd.Flags().String("reason", "", "Rejection reason")
	taskRejectCmd.MarkFlagRequired("approver")
}

// Capability command
var capabilityCmd = &cobra.Command{
	Use:   "capability",
	Short: "Show the evolution stage and its permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := openKernel()
		if err != nil {
			return err
		}
		defer k.Shutdown()

		return printJSON(k.Capability())
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
