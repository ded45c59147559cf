package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Register the resources of an inventory file",
	Long: `Register every resource described by a YAML inventory in one request.
Either all of them are registered or none is. Resources that are already
registered are accepted as is.

Examples:
  # Register devices, ports and label pools
  netledger apply -f inventory.yaml

Inventory format:
  devices:
    - id: of:0000000000000001
      ports:
        - number: 1
          bandwidth: 10000
          vlans: ["100-199"]
          mpls: ["16-1023"]
  resources:
    - link-1
    - link-1/@bandwidth=40000`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	addServerFlag(applyCmd)
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	inv, err := ParseInventory(data)
	if err != nil {
		return err
	}
	resources, err := inv.Resources()
	if err != nil {
		return fmt.Errorf("invalid inventory: %w", err)
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ok, err := c.Register(cmd.Context(), resources)
	if err != nil {
		return fmt.Errorf("failed to register inventory: %w", err)
	}
	if !ok {
		return errRefused("registration")
	}

	fmt.Printf("✓ Registered %d resources from %s\n", len(resources), filename)
	return nil
}
