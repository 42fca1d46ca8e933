package main

import (
	"github.com/Sternrassler/cardclient/pkg/config"
	"github.com/Sternrassler/cardclient/pkg/export"
	"github.com/Sternrassler/cardclient/pkg/logging"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPaths []string
	quiet       bool
	debug       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "cardclient",
		Short: "Export card and cardholder data from the identity APIs",
		Long: `cardclient exports cards issued by the Card API, joined with people from
Lookup, the HR and Student APIs or the legacy card database, as CSV.

Configuration is read from one or more YAML files (later files override
earlier ones), a .env file and CARDCLIENT_ environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(logging.Config{
				Level:  logging.LevelFromFlags(opts.debug, opts.quiet),
				Pretty: true,
				Output: cmd.ErrOrStderr(),
			})
		},
	}

	flags := root.PersistentFlags()
	flags.StringArrayVarP(&opts.configPaths, "config", "c", []string{config.DefaultPath}, "Configuration file (repeatable, later files override earlier ones)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Only log warnings and errors")
	flags.BoolVar(&opts.debug, "debug", false, "Log requests and other debug detail")

	root.AddCommand(
		newExportCmd(opts),
		newExportIssuedCardsCmd(opts),
		newCardDetailCmd(opts),
	)
	return root
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the cards of the people selected by the configured queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			queries, err := a.cfg.ParseQueries()
			if err != nil {
				return err
			}
			cards, err := a.cardClient(cmd.Context())
			if err != nil {
				return err
			}
			resolver, err := a.resolver(cmd.Context(), queries)
			if err != nil {
				return err
			}

			_, err = export.ExportCards(cmd.Context(), cards, resolver, a.store, export.CardsOptions{
				Options:     a.exportOptions(),
				Queries:     queries,
				Filter:      a.cfg.CardFilter(),
				Deduplicate: a.cfg.Output.Deduplicate,
			})
			return err
		},
	}
}

func newExportIssuedCardsCmd(opts *rootOptions) *cobra.Command {
	var incremental bool

	cmd := &cobra.Command{
		Use:   "export-issued-cards",
		Short: "Export every issued personal card",
		Long: `Export every issued personal card.

With --incremental-update the existing export is brought up to date with the
cards changed since its most recent updatedAt instead of being rewritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cards, err := a.cardClient(cmd.Context())
			if err != nil {
				return err
			}

			if incremental {
				_, err = export.UpdateIssuedCardsExport(cmd.Context(), cards, a.store, a.exportOptions())
				return err
			}
			_, err = export.ExportIssuedCards(cmd.Context(), cards, a.store, a.exportOptions())
			return err
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental-update", false, "Update the existing export in place")
	return cmd
}

func newCardDetailCmd(opts *rootOptions) *cobra.Command {
	var (
		scheme    string
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "card-detail <identifier>",
		Short: "Print the detail of a card as JSON",
		Long: `Print the detail of a card as JSON.

The identifier is a card id unless --identifier-scheme names the scheme it
belongs to, in which case every card of that identifier is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cards, err := a.cardClient(cmd.Context())
			if err != nil {
				return err
			}
			return export.PrintCardDetail(cmd.Context(), cards, cmd.OutOrStdout(), args[0], scheme, normalize)
		},
	}

	cmd.Flags().StringVar(&scheme, "identifier-scheme", "", "Scheme of the identifier, e.g. crsid or mifare_id")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Flatten identifiers into named fields")
	return cmd
}
