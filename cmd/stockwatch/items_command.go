package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stockwatch/internal/statestore"
	"stockwatch/internal/statusapi"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		offset  int
		inStock bool
		soldOut bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List tracked catalogue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			if offset < 0 {
				return fmt.Errorf("--offset must not be negative")
			}
			filter := statestore.ItemFilter{Limit: limit, Offset: offset}
			switch {
			case inStock:
				filter.InStock = &inStock
			case soldOut:
				available := false
				filter.InStock = &available
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			items, total, err := store.ListItems(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				resp := statusapi.ItemListResponse{
					Items:  make([]statusapi.ItemView, 0, len(items)),
					Total:  total,
					Limit:  limit,
					Offset: offset,
				}
				for _, item := range items {
					resp.Items = append(resp.Items, statusapi.FromItem(item))
				}
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No items tracked")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.Code,
					item.Title,
					strconv.FormatInt(item.Price, 10),
					yesNo(item.InStock),
					item.LastSeen.Local().Format(historyTimeFormat),
					item.URL,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Code", "Title", "Price", "In stock", "Last seen", "URL"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "Showing %d-%d of %d items\n", offset+1, offset+len(items), total)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of items to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many items")
	cmd.Flags().BoolVar(&inStock, "in-stock", false, "Only items currently in stock")
	cmd.Flags().BoolVar(&soldOut, "sold-out", false, "Only items currently sold out")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	cmd.MarkFlagsMutuallyExclusive("in-stock", "sold-out")
	return cmd
}
