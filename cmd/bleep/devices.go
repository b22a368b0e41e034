package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect persisted device records",
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <device-address>",
	Short: "Show a device's stored record, evidence, and bond state",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceShow,
}

func init() {
	devicesCmd.AddCommand(deviceShowCmd)
}

func runDeviceShow(cmd *cobra.Command, args []string) error {
	mac := args[0]
	cmd.SilenceUsage = true

	oc, _, closer, err := buildContext(cmd)
	if err != nil {
		return err
	}
	defer closer()

	ctx := cmd.Context()
	dev, err := oc.Store.GetDevice(ctx, mac)
	if err != nil {
		return err
	}
	if dev == nil {
		fmt.Printf("no record for %s\n", mac)
		return nil
	}
	fmt.Printf("MAC:            %s\n", dev.MAC)
	fmt.Printf("Name:           %s\n", dev.Name)
	fmt.Printf("Address type:   %s\n", dev.AddressType)
	fmt.Printf("Classification: %s\n", dev.Classification)
	fmt.Printf("RSSI:           last=%d min=%d max=%d\n", dev.RSSILast, dev.RSSIMin, dev.RSSIMax)
	fmt.Printf("First seen:     %s\n", dev.FirstSeen.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("Last seen:      %s\n", dev.LastSeen.Format("2006-01-02T15:04:05Z07:00"))

	evidence, err := oc.Store.ListEvidence(ctx, mac)
	if err != nil {
		return err
	}
	if len(evidence) > 0 {
		fmt.Println("\nEvidence:")
		for _, e := range evidence {
			fmt.Printf("  [%s/%s] %s = %s (%s)\n", e.EvidenceType, e.Weight, e.Source, e.Value, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		}
	}

	bond, err := oc.Store.GetBond(ctx, mac)
	if err != nil {
		return err
	}
	if bond != nil {
		fmt.Printf("\nBond: capability=%s bonded_at=%s\n", bond.Capability, bond.BondedAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	records, err := oc.Store.ListClassicServiceRecords(ctx, mac)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Println("\nClassic/SDP services:")
		for _, r := range records {
			fmt.Printf("  %s %s\n", r.ServiceUUID, r.Name)
		}
	}
	return nil
}
