package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"modcompat/internal/envelope"
	apperrors "modcompat/internal/errors"
	"modcompat/internal/patches"
)

var (
	simulateFormat string
	simulateAll    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [Type.Method]",
	Short: "Simulate the execution order of the patches on a method",
	Long: `Simulate the order in which every binary patch on a target method runs.

Before patches run first (highest priority first), then body transforms,
then the original body, then After patches (lowest priority first) and
exception handlers. Equal priorities fall back to load order. A Before
patch that can veto the original skips every later Before patch and the
body transforms.

Examples:
  modcompat simulate EntityAlive.OnUpdateLive
  modcompat simulate --all --format json`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFormat, "format", "human", "Output format (json, human)")
	simulateCmd.Flags().BoolVar(&simulateAll, "all", false, "Simulate every patched method")
	rootCmd.AddCommand(simulateCmd)
}

// SimulateResponseCLI is the CLI response format for simulate.
type SimulateResponseCLI struct {
	Orders []ExecutionOrderCLI `json:"orders"`
}

// ExecutionOrderCLI is the simulated order on one target.
type ExecutionOrderCLI struct {
	Target  string          `json:"target"`
	Entries []patches.Entry `json:"entries"`
	Vetoes  []VetoCLI       `json:"vetoes,omitempty"`
}

// VetoCLI lists the patches a vetoing Before patch can skip.
type VetoCLI struct {
	PatchID string   `json:"patchId"`
	ModID   string   `json:"modId"`
	Skips   []string `json:"skips"`
}

func runSimulate(cmd *cobra.Command, args []string) {
	if !simulateAll && len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: give a Type.Method target or --all")
		os.Exit(1)
	}

	repoRoot := mustGetRepoRoot()
	cfg := mustLoadConfig(repoRoot)
	logger := newLogger(cfg)

	store := mustOpenStore(repoRoot, cfg, logger)
	defer store.DB.Close()

	snap, err := store.LoadSnapshot()
	if err != nil {
		exitWithError("loading facts", apperrors.New(apperrors.FactsUnavailable, "failed to load facts", err))
	}

	var orders []patches.ExecutionOrder
	if simulateAll {
		orders = patches.AllExecutionOrders(snap)
	} else {
		typeName, method, ok := splitTarget(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: target %q is not of the form Type.Method\n", args[0])
			os.Exit(1)
		}
		order, found := patches.SimulateExecutionOrder(snap, typeName, method)
		if !found {
			exitWithError("simulating", apperrors.New(apperrors.TargetNotFound,
				fmt.Sprintf("no patches target %s", args[0]), nil))
		}
		orders = append(orders, order)
	}

	cliResponse := &SimulateResponseCLI{Orders: make([]ExecutionOrderCLI, 0, len(orders))}
	for _, o := range orders {
		cliResponse.Orders = append(cliResponse.Orders, convertExecutionOrder(o))
	}

	printOutput(envelope.Operational(cliResponse), simulateFormat)
}

// splitTarget splits "Type.Method" at the last dot so nested type names
// keep their dots.
func splitTarget(target string) (string, string, bool) {
	i := strings.LastIndex(target, ".")
	if i <= 0 || i == len(target)-1 {
		return "", "", false
	}
	return target[:i], target[i+1:], true
}

func convertExecutionOrder(o patches.ExecutionOrder) ExecutionOrderCLI {
	cli := ExecutionOrderCLI{
		Target:  o.Target(),
		Entries: o.Entries,
	}
	for i, e := range o.Entries {
		if !e.CanVeto {
			continue
		}
		skipped := o.SkippedBy(i)
		if len(skipped) == 0 {
			continue
		}
		veto := VetoCLI{PatchID: e.PatchID, ModID: e.ModID}
		for _, s := range skipped {
			veto.Skips = append(veto.Skips, s.PatchID)
		}
		cli.Vetoes = append(cli.Vetoes, veto)
	}
	return cli
}
