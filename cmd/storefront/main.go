// Command storefront drives the shop from a terminal. It keeps the same
// session state as the web client, in a local bbolt profile.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bodyshop-storefront/internal/backend"
	"bodyshop-storefront/internal/config"
	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/logging"
	"bodyshop-storefront/internal/repository/localstate"
	"bodyshop-storefront/internal/service/auth"
	"bodyshop-storefront/internal/service/cart"
	"bodyshop-storefront/internal/service/catalog"
	"bodyshop-storefront/internal/service/checkout"
	"bodyshop-storefront/internal/service/favorites"
	"bodyshop-storefront/internal/session"
)

// profileSession is the single session kept in a CLI profile.
const profileSession = "cli"

// app is the state shared by every command of one invocation.
type app struct {
	cfg config.Config

	backendURL string
	profile    string
	logLevel   string

	logger    zerolog.Logger
	repo      localstate.Repository
	closeRepo func() error

	session   *session.Session
	catalog   *catalog.Service
	cart      *cart.Service
	favorites *favorites.Service
	auth      *auth.Service
	checkout  *checkout.Service
}

func main() {
	a := &app{cfg: config.Load()}
	if err := run(a, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one command line. The profile is released even when the
// command fails, since bbolt holds an exclusive file lock.
func run(a *app, args []string, out, errOut io.Writer) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "storefront",
		Short:        "Shop catalog, cart and checkout from the command line",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.backendURL, "backend", a.cfg.BackendURL, "shop API base URL")
	root.PersistentFlags().StringVar(&a.profile, "profile", a.cfg.ProfileDB, "path of the local profile database")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newRegisterCmd(a),
		newWhoamiCmd(a),
		newCartCmd(a),
		newBuyCmd(a),
		newFavoritesCmd(a),
		newOrderCmd(a),
		newHistoryCmd(a),
		newProductsCmd(a),
		newPhoneCmd(),
	)
	return root
}

// open builds the services over the profile. Commands that need neither
// network nor profile never reach it.
func (a *app) open(logOut io.Writer) error {
	if a.repo != nil {
		return nil
	}
	a.logger = logging.NewConsole(logOut, a.logLevel)

	if err := os.MkdirAll(filepath.Dir(a.profile), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	repo, closeRepo, err := localstate.OpenBolt(a.profile)
	if err != nil {
		return fmt.Errorf("open profile %s: %w", a.profile, err)
	}
	a.repo, a.closeRepo = repo, closeRepo

	timeout := a.cfg.BackendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client, err := backend.New(a.backendURL, &http.Client{Timeout: timeout}, a.logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(1, a.logger)
	a.session = session.New(profileSession, repo, a.logger)
	a.catalog = catalog.New(client, 0, a.logger)
	a.cart = cart.New(a.session, cart.Deps{
		Backend: client,
		Catalog: a.catalog,
		Events:  bus,
		Logger:  a.logger,
	})
	a.favorites = favorites.New(a.session, bus, a.logger)
	a.auth = auth.New(client, bus, a.logger)
	a.checkout = checkout.New(client, bus, a.logger)
	return nil
}

func (a *app) close() error {
	if a.closeRepo == nil {
		return nil
	}
	err := a.closeRepo()
	a.repo, a.closeRepo = nil, nil
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseRef reads a product argument: digits are an id, anything else a slug.
func parseRef(arg string) domain.ProductRef {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
		return domain.ProductRef{ID: id}
	}
	return domain.ProductRef{Slug: arg}
}

func parseQuantity(args []string, at int) (int, error) {
	if len(args) <= at {
		return 1, nil
	}
	q, err := strconv.Atoi(args[at])
	if err != nil || q < 1 {
		return 0, fmt.Errorf("quantity %q: %w", args[at], domain.ErrInvalidQuantity)
	}
	return q, nil
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("item id %q is not a positive number", arg)
	}
	return id, nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
