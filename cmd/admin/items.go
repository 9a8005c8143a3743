package main

import (
	"context"
	"fmt"
	"time"

	"backoffice-service/internal/models"

	"github.com/spf13/cobra"
)

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Maintain the item catalog the dispatch importer validates against",
	}

	upsert := &cobra.Command{
		Use:   "upsert [item name]",
		Short: "Create or replace a catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uom, _ := cmd.Flags().GetString("uom")
			price, _ := cmd.Flags().GetInt64("price")
			code, _ := cmd.Flags().GetString("code")
			if price < 0 {
				return fmt.Errorf("price must not be negative")
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			item := &models.Item{ItemName: args[0], UOM: uom, PurchasePrice: price, ItemCode: code}
			if err := e.store.UpsertItem(ctx, item); err != nil {
				return err
			}
			fmt.Printf("%s saved (uom=%s, price=%d, code=%s)\n", item.ItemName, item.UOM, item.PurchasePrice, item.ItemCode)
			return nil
		},
	}
	upsert.Flags().String("uom", "pcs", "Unit of measure; kg or kgs makes quantities weights")
	upsert.Flags().Int64("price", 0, "Purchase price per unit")
	upsert.Flags().String("code", "", "Item code")
	cmd.AddCommand(upsert)

	return cmd
}
