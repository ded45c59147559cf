package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/netledger/pkg/client"
)

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "127.0.0.1:9090", "Address of a node's HTTP API")
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

func errRefused(what string) error {
	return fmt.Errorf("%s refused by the ledger, nothing was changed (the reason is logged by the node at debug level)", what)
}

var allocateCmd = &cobra.Command{
	Use:   "allocate --consumer CONSUMER RESOURCE...",
	Short: "Allocate resources to a consumer",
	Long: `Allocate resources to a consumer, all of them or none.

Examples:
  netledger allocate --consumer tunnel-7 of:1/port:3/vlan:100 of:1/port:3/@bandwidth=600`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer, _ := cmd.Flags().GetString("consumer")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ok, err := c.Allocate(cmd.Context(), consumer, args)
		if err != nil {
			return fmt.Errorf("failed to allocate: %w", err)
		}
		if !ok {
			return errRefused("allocation")
		}
		fmt.Printf("✓ Allocated %d resources to %s\n", len(args), consumer)
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release --consumer CONSUMER RESOURCE...",
	Short: "Release resources held by a consumer",
	Long: `Release resources held by a consumer, all of them or none. Bandwidth is
released by the amount that was allocated.

Examples:
  netledger release --consumer tunnel-7 of:1/port:3/vlan:100 of:1/port:3/@bandwidth=600`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer, _ := cmd.Flags().GetString("consumer")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ok, err := c.Release(cmd.Context(), consumer, args)
		if err != nil {
			return fmt.Errorf("failed to release: %w", err)
		}
		if !ok {
			return errRefused("release")
		}
		fmt.Printf("✓ Released %d resources held by %s\n", len(args), consumer)
		return nil
	},
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister ID...",
	Short: "Unregister resources",
	Long: `Unregister resources by id. Resources that are allocated, or have
allocated descendants, cannot be unregistered.

Examples:
  netledger unregister of:1/port:3/@bandwidth of:1/port:3/vlan:100`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ok, err := c.Unregister(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("failed to unregister: %w", err)
		}
		if !ok {
			return errRefused("unregistration")
		}
		fmt.Printf("✓ Unregistered %d resources\n", len(args))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [PARENT]",
	Short: "Show the resources under a parent",
	Long: `Show the resources registered under a parent (the root by default) and
who holds them.

Examples:
  netledger show
  netledger show of:1/port:3 --available
  netledger show --consumer tunnel-7`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	allocateCmd.Flags().String("consumer", "", "Consumer the resources are allocated to (required)")
	_ = allocateCmd.MarkFlagRequired("consumer")
	releaseCmd.Flags().String("consumer", "", "Consumer holding the resources (required)")
	_ = releaseCmd.MarkFlagRequired("consumer")
	showCmd.Flags().Bool("available", false, "Only show what can still be allocated")
	showCmd.Flags().String("consumer", "", "Show what a consumer holds instead")

	for _, cmd := range []*cobra.Command{allocateCmd, releaseCmd, unregisterCmd, showCmd} {
		addServerFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	available, _ := cmd.Flags().GetBool("available")
	consumer, _ := cmd.Flags().GetString("consumer")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx := cmd.Context()

	if consumer != "" {
		held, err := c.ConsumerResources(ctx, consumer)
		if err != nil {
			return fmt.Errorf("failed to list resources of %s: %w", consumer, err)
		}
		for _, r := range held {
			fmt.Println(r)
		}
		return nil
	}

	parent := ""
	if len(args) == 1 {
		parent = args[0]
	}

	if available {
		rs, err := c.Available(ctx, parent)
		if err != nil {
			return fmt.Errorf("failed to list available resources: %w", err)
		}
		for _, r := range rs {
			fmt.Println(r)
		}
		return nil
	}

	children, err := c.Children(ctx, parent)
	if err != nil {
		return fmt.Errorf("failed to list resources: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tHELD BY")
	for _, child := range children {
		id, _, _ := strings.Cut(child, "=")
		res, err := c.GetResource(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", child, err)
		}
		if len(res.Allocations) == 0 {
			fmt.Fprintf(w, "%s\t-\n", res.Resource)
			continue
		}
		for _, a := range res.Allocations {
			fmt.Fprintf(w, "%s\t%s (%s)\n", res.Resource, a.Consumer, a.Resource)
		}
	}
	return w.Flush()
}
