package main

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/widgetbridge/pkg/plotstore"
)

type PlotsListSettings struct {
	Store     string `glazed:"store"`
	SessionID string `glazed:"session"`
	Limit     int    `glazed:"limit"`
	Since     string `glazed:"since"`
}

type PlotsListCommand struct {
	*cmds.CommandDescription
	root *rootSettings
}

var _ cmds.GlazeCommand = &PlotsListCommand{}

func NewPlotsListCommand(root *rootSettings) (*PlotsListCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List recorded plots, newest first"),
		cmds.WithFlags(
			fields.New(
				"store",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("sqlite file or DSN (defaults to plot-store from the config)"),
			),
			fields.New(
				"session",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only plots of this session"),
			),
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(50),
				fields.WithHelp("Maximum number of plots"),
			),
			fields.New(
				"since",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only plots created within this duration (e.g. 1h)"),
			),
		),
		cmds.WithSections(glazedSection),
	)
	return &PlotsListCommand{CommandDescription: desc, root: root}, nil
}

func (c *PlotsListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &PlotsListSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}

	location := s.Store
	if c.root != nil {
		cfg, err := c.root.loadConfig()
		if err != nil {
			return err
		}
		if strings.TrimSpace(location) == "" {
			location = cfg.PlotStore
		}
	}
	opts, err := s.listOptions(time.Now())
	if err != nil {
		return err
	}

	records, err := listPlots(ctx, location, opts)
	if err != nil {
		return err
	}
	return emitPlotRows(records, func(row types.Row) error {
		return gp.AddRow(ctx, row)
	})
}

func (s *PlotsListSettings) listOptions(now time.Time) (plotstore.ListOptions, error) {
	opts := plotstore.ListOptions{SessionID: s.SessionID, Limit: s.Limit}
	if since := strings.TrimSpace(s.Since); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return plotstore.ListOptions{}, errors.Wrapf(err, "parse --since %q", since)
		}
		opts.SinceMs = now.Add(-d).UnixMilli()
	}
	return opts, nil
}

func listPlots(ctx context.Context, location string, opts plotstore.ListOptions) ([]plotstore.Record, error) {
	if strings.TrimSpace(location) == "" {
		return nil, errors.New("no plot store configured (use --store or plot-store in the config)")
	}
	store, err := plotstore.Open(location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.List(ctx, opts)
}

func emitPlotRows(records []plotstore.Record, addRow func(types.Row) error) error {
	for _, r := range records {
		row := types.NewRow(
			types.MRP("id", r.ID),
			types.MRP("session_id", r.SessionID),
			types.MRP("parent_id", r.ParentID),
			types.MRP("created_at", time.UnixMilli(r.CreatedAtMs).UTC().Format(time.RFC3339)),
			types.MRP("created_at_ms", r.CreatedAtMs),
			types.MRP("code", r.Code),
		)
		if err := addRow(row); err != nil {
			return err
		}
	}
	return nil
}

func newPlotsCommand(root *rootSettings) *cobra.Command {
	plotsCmd := &cobra.Command{
		Use:   "plots",
		Short: "Inspect recorded plots",
	}

	listCmd, err := NewPlotsListCommand(root)
	cobra.CheckErr(err)
	cobraListCmd, err := cli.BuildCobraCommand(listCmd, cli.WithCobraMiddlewaresFunc(plotsMiddlewares))
	cobra.CheckErr(err)

	plotsCmd.AddCommand(cobraListCmd)
	return plotsCmd
}

func plotsMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("WIDGET_BRIDGE",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}
