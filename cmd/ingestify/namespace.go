package main

import (
	"context"
	"fmt"
	"time"

	"github.com/graftio/ingestify/pkg/rpc"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/spf13/cobra"
)

var namespaceCmd = &cobra.Command{
	Use:   "namespace",
	Short: "Manage namespaces",
}

var namespaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		client, err := rpc.NewClient(addr)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.CreateNamespace(ctx, types.CreateNamespacePayload{
			Name:                 args[0],
			StructuredDataSchema: map[string]string{},
		}); err != nil {
			return err
		}
		fmt.Printf("namespace %q created\n", args[0])
		return nil
	},
}

func init() {
	namespaceCmd.PersistentFlags().String("addr", "127.0.0.1:8080", "Coordinator RPC address")
	namespaceCmd.AddCommand(namespaceCreateCmd)
}
