package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/bleep/internal/orchestrate"
)

var ctfCmd = &cobra.Command{
	Use:   "ctf [device-address]",
	Short: "Run the BLE-CTF flag-solving flow against a device",
	Long: `Connects to a device, reads every characteristic, scores each value
as a candidate flag, and submits the ones above the confidence threshold
to the shared submit characteristic.

The device address may be given as an argument or left to BLE_CTF_MAC.

Flag detection thresholds are a documented starting point (no lineage
source names them), not a derived constant — see the comment on the
constants in internal/orchestrate/ctf.go.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCTF,
}

var ctfSubmitChar string

func init() {
	ctfCmd.Flags().StringVar(&ctfSubmitChar, "submit-char", "", "UUID of the flag-submission characteristic (required)")
}

func runCTF(cmd *cobra.Command, args []string) error {
	if ctfSubmitChar == "" {
		return fmt.Errorf("--submit-char is required")
	}
	cmd.SilenceUsage = true

	oc, cfg, closer, err := buildContext(cmd)
	if err != nil {
		return err
	}
	defer closer()

	mac := cfg.CTFTarget
	if len(args) > 0 {
		mac = args[0]
	}
	if mac == "" {
		return fmt.Errorf("device address required: pass it as an argument or set BLE_CTF_MAC")
	}

	candidates, err := orchestrate.RunCTF(cmd.Context(), oc, mac, ctfSubmitChar)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("no flag candidates found")
		return nil
	}
	for _, c := range candidates {
		fmt.Printf("%s\tconfidence=%.2f\t%q\n", c.CharacteristicUUID, c.Confidence, c.Value)
	}
	return nil
}
