package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bodyshop-storefront/internal/importer"
	"bodyshop-storefront/internal/service/cart"
)

type lineOp func(s *cart.Service, ctx context.Context, itemID int64) (cart.View, error)

func newCartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and edit the cart",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the cart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				view, err := a.cart.Load(ctxOf(cmd))
				if err != nil {
					return err
				}
				return printCart(cmd.OutOrStdout(), view)
			},
		},
		&cobra.Command{
			Use:   "add <product> [quantity]",
			Short: "Add a product by id or slug",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				quantity, err := parseQuantity(args, 1)
				if err != nil {
					return err
				}
				view, err := a.cart.AddItem(ctxOf(cmd), parseRef(args[0]), quantity)
				if err != nil {
					return err
				}
				return printCart(cmd.OutOrStdout(), view)
			},
		},
		&cobra.Command{
			Use:   "set <item> <quantity>",
			Short: "Set a line's quantity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseItemID(args[0])
				if err != nil {
					return err
				}
				quantity, err := parseQuantity(args, 1)
				if err != nil {
					return err
				}
				view, err := a.cart.UpdateQuantity(ctxOf(cmd), id, quantity)
				if err != nil {
					return err
				}
				return printCart(cmd.OutOrStdout(), view)
			},
		},
		lineCmd(a, "inc", "Increase a line by one", (*cart.Service).Increase),
		lineCmd(a, "dec", "Decrease a line by one, never below one", (*cart.Service).Decrease),
		lineCmd(a, "remove", "Remove a line", (*cart.Service).RemoveItem),
		&cobra.Command{
			Use:   "checkout",
			Short: "Check the cart is ready to order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := a.cart.ProceedToCheckout(ctxOf(cmd)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cart is ready; place it with `storefront order submit`")
				return nil
			},
		},
		newCartImportCmd(a),
	)
	return cmd
}

func lineCmd(a *app, use, short string, op lineOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			view, err := op(a.cart, ctxOf(cmd), id)
			if err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), view)
		},
	}
}

func newCartImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Add every row of a wholesale CSV (slug or product_id, quantity) to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := importer.NewCSVImporter(f, a.cart).Run(ctxOf(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %d rows\n", res.Imported)
			for _, r := range res.Rejected {
				fmt.Fprintf(out, "  skipped %s\n", r.Error())
			}
			if res.Discount > 0 {
				fmt.Fprintf(out, "wholesale discount: %d%%\n", res.Discount)
			}
			return printCart(out, res.Cart)
		},
	}
}

func newBuyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <slug> [quantity]",
		Short: "Put a product straight into the cart from its page",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := parseQuantity(args, 1)
			if err != nil {
				return err
			}
			ctx := ctxOf(cmd)
			p, err := a.catalog.BySlug(ctx, args[0])
			if err != nil {
				return err
			}
			view, err := a.cart.BuyProduct(ctx, *p, quantity)
			if err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), view)
		},
	}
}

func printCart(w io.Writer, v cart.View) error {
	if v.Notice != "" {
		fmt.Fprintf(w, "note: %s\n", v.Notice)
	}
	if v.SignInRequired {
		fmt.Fprintln(w, "session expired; sign in again with `storefront login`")
	}
	if len(v.Items) == 0 {
		_, err := fmt.Fprintln(w, "cart is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tPRODUCT\tPRICE\tQTY\tTOTAL")
	for _, l := range v.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", l.ID, l.Name, l.Price.StringFixed(2), l.Quantity, l.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\t%d\t%s\n", v.Count, v.Total.StringFixed(2))
	return tw.Flush()
}
