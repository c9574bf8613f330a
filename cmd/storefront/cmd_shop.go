package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/export"
	"bodyshop-storefront/internal/phone"
	"bodyshop-storefront/internal/service/catalog"
)

func newFavoritesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Saved products",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved products",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				items, err := a.favorites.List(ctxOf(cmd))
				if err != nil {
					return err
				}
				return printProducts(cmd, items)
			},
		},
		&cobra.Command{
			Use:   "toggle <product>",
			Short: "Save a product, or forget it when already saved",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := ctxOf(cmd)
				p, err := a.catalog.Resolve(ctx, parseRef(args[0]))
				if err != nil {
					return err
				}
				added, count, err := a.favorites.Toggle(ctx, *p)
				if err != nil {
					return err
				}
				verb := "removed"
				if added {
					verb = "saved"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d saved)\n", verb, p.Name, count)
				return nil
			},
		},
		&cobra.Command{
			Use:   "move <product-id>",
			Short: "Add a saved product to the cart",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseItemID(args[0])
				if err != nil {
					return err
				}
				view, err := a.favorites.MoveToCart(ctxOf(cmd), id, a.cart)
				if err != nil {
					return err
				}
				return printCart(cmd.OutOrStdout(), view)
			},
		},
	)
	return cmd
}

func newOrderCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place orders from the server cart",
	}

	var city string
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Show the server cart, subtotal and delivery prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.checkout.Prepare(ctxOf(cmd), a.session, city)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	preview.Flags().StringVar(&city, "city", "", "delivery city, for courier prices")

	var form domain.OrderForm
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit the server cart as an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := a.checkout.SubmitOrder(ctxOf(cmd), a.session, form, a.cart)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order #%d placed: %s + delivery %s = %s BYN\n",
				conf.Order.ID, conf.Order.TotalPrice.StringFixed(2), conf.Delivery.StringFixed(2), conf.Total.StringFixed(2))
			return nil
		},
	}
	f := submit.Flags()
	f.StringVar(&form.FirstName, "first-name", "", "recipient first name")
	f.StringVar(&form.LastName, "last-name", "", "recipient last name")
	f.StringVar(&form.Phone, "phone", "", "contact phone, +375 ...")
	f.StringVar(&form.Email, "email", "", "contact e-mail")
	f.StringVar(&form.DeliveryMethod, "delivery", "courier", "courier, pickup or post")
	f.StringVar(&form.City, "city", "", "delivery city")
	f.StringVar(&form.Address, "address", "", "street and house")
	f.StringVar(&form.Apartment, "apartment", "", "")
	f.StringVar(&form.PostalCode, "postal-code", "", "")
	f.StringVar(&form.PaymentMethod, "payment", "cash", "cash, card or transfer")
	f.StringVar(&form.Comment, "comment", "", "note for the shop")

	cmd.AddCommand(preview, submit)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Local order history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export [file.xlsx]",
		Short: "Write orders and purchases to a spreadsheet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "history-" + time.Now().Format("20060102") + ".xlsx"
			if len(args) == 1 {
				path = args[0]
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := export.SessionHistory(ctxOf(cmd), a.session, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func newProductsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Browse the catalog",
	}

	var (
		filter             catalog.Filter
		minPrice, maxPrice string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List products matching the filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if filter.MinPrice, err = priceFlag("min-price", minPrice); err != nil {
				return err
			}
			if filter.MaxPrice, err = priceFlag("max-price", maxPrice); err != nil {
				return err
			}
			page, err := a.catalog.List(ctxOf(cmd), filter)
			if err != nil {
				return err
			}
			if err := printProducts(cmd, page.Items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d products\n", page.Page, page.Pages, page.Total)
			return nil
		},
	}
	f := list.Flags()
	f.StringVar(&filter.Search, "search", "", "text in name or description")
	f.StringVar(&filter.Category, "category", "", "category slug")
	f.StringVar(&filter.Brand, "brand", "", "brand name")
	f.StringVar(&filter.Sort, "sort", "", "price-asc, price-desc, name or rating")
	f.BoolVar(&filter.InStockOnly, "in-stock", false, "only products in stock")
	f.IntVar(&filter.Page, "page", 1, "")
	f.IntVar(&filter.PerPage, "per-page", 0, "")
	f.StringVar(&minPrice, "min-price", "", "")
	f.StringVar(&maxPrice, "max-price", "", "")

	show := &cobra.Command{
		Use:   "show <slug>",
		Short: "Print one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.catalog.BySlug(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newPhoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phone",
		Short: "Format and check Belarusian mobile numbers",
		// Works offline and without a profile.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "format <value>",
			Short: "Print the masked form of a partial number",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				masked := phone.FormatInput(args[0])
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"masked":   masked,
					"complete": phone.Validate(masked).Valid && masked != "",
				})
			},
		},
		&cobra.Command{
			Use:   "validate <value>",
			Short: "Check a number and print its canonical form",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res := phone.Validate(args[0])
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Valid {
					return errors.New(res.Error)
				}
				return nil
			},
		},
	)
	return cmd
}

func printProducts(cmd *cobra.Command, items []domain.Product) error {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "no products")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tNAME\tPRICE\tSTOCK")
	for _, p := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Slug, p.Name, p.Price.StringFixed(2), p.Stock)
	}
	return tw.Flush()
}

func priceFlag(name, v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}
