package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/orchestrate"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for and enumerate Bluetooth devices",
	Long: `Runs one of the four scan modes against the host adapter:

  passive  a dedup'd snapshot of whatever is currently advertising
  naggy    every advertisement forwarded, GATT-enumerated as it arrives
  pokey    on/off cycles targeting one MAC, SDP collection, write probes
  brute    half-LE/half-BR-EDR budget, brute_write_range over every
           writable characteristic`,
	RunE: runScan,
}

var (
	scanMode        string
	scanDuration    time.Duration
	scanTarget      string
	scanForce       bool
	scanUUIDs       []string
	scanMinRSSI     int16
	scanTransport   string
	scanPayloadsHex []string
)

func init() {
	scanCmd.Flags().StringVarP(&scanMode, "mode", "m", "passive", "Scan mode: passive, naggy, pokey, brute")
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanTarget, "target", "t", "", "Target MAC (required for pokey and brute)")
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "brute: write even to landmined characteristics")
	scanCmd.Flags().StringSliceVar(&scanUUIDs, "uuids", nil, "Discovery filter: service UUID allowlist")
	scanCmd.Flags().Int16Var(&scanMinRSSI, "min-rssi", 0, "Discovery filter: minimum RSSI (0 disables)")
	scanCmd.Flags().StringVar(&scanTransport, "transport", "", "Discovery filter: le, bredr, or auto")
	scanCmd.Flags().StringSliceVar(&scanPayloadsHex, "payload", nil, "brute: hex-encoded payload to write (repeatable)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if (scanMode == "pokey" || scanMode == "brute") && scanTarget == "" {
		return fmt.Errorf("--target is required for %s mode", scanMode)
	}
	cmd.SilenceUsage = true

	oc, _, closer, err := buildContext(cmd)
	if err != nil {
		return err
	}
	defer closer()

	filter := discovery.Filter{UUIDs: scanUUIDs, Transport: discovery.Transport(scanTransport)}
	if scanMinRSSI != 0 {
		filter.MinRSSI = &scanMinRSSI
	}

	payloads, err := decodeHexPayloads(scanPayloadsHex)
	if err != nil {
		return err
	}

	opts := orchestrate.Options{
		Filter:   filter,
		Duration: scanDuration,
		Target:   scanTarget,
		Force:    scanForce,
		Payloads: payloads,
	}

	ctx := cmd.Context()
	switch scanMode {
	case "passive":
		results, err := orchestrate.RunPassive(ctx, oc, opts)
		printResults(results)
		return err
	case "naggy":
		results, err := orchestrate.RunNaggy(ctx, oc, opts)
		printResults(results)
		return err
	case "pokey":
		result, err := orchestrate.RunPokey(ctx, oc, opts)
		printResults([]orchestrate.DeviceResult{result})
		return err
	case "brute":
		result, err := orchestrate.RunBrute(ctx, oc, opts)
		printResults([]orchestrate.DeviceResult{result})
		return err
	default:
		return fmt.Errorf("unknown mode %q: must be passive, naggy, pokey, or brute", scanMode)
	}
}

func decodeHexPayloads(payloads []string) ([][]byte, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid --payload %q: %w", p, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func printResults(results []orchestrate.DeviceResult) {
	if len(results) == 0 {
		fmt.Println("no devices found")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tNAME\tCLASS\tSERVICES\tFINDINGS")
	for _, r := range results {
		class := r.Classification.Classification
		classStr := colorForClass(class)(class)

		services := 0
		if r.Enumerate != nil {
			services = len(r.Enumerate.Mapping.Services)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			r.Observation.MAC, r.Observation.Name, classStr, services, len(r.AoI.Findings))
	}
	_ = w.Flush()

	for _, r := range results {
		for _, f := range r.AoI.Findings {
			fmt.Printf("  [%s/%s] %s: %s\n", r.Observation.MAC, f.Severity, f.Category, f.Description)
		}
	}
}

func colorForClass(class string) func(format string, a ...interface{}) string {
	switch class {
	case "classic", "le", "dual":
		return color.GreenString
	default:
		return color.YellowString
	}
}
