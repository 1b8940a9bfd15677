package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newCrawlCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one harvest",
		Long: `Harvests the sources named with --source, or the configured sources, or
every registered source. Prints the run summary as JSON when done.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			harvester, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := harvester.Close(); cerr != nil {
					rt.logger.Warn("failed to close application services", zap.Error(cerr))
				}
			}()

			summary, runErr := harvester.Run(cmd.Context(), sources)
			if summary.RunID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("run crawler: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sources, "source", nil, "source to harvest (repeatable)")
	return cmd
}

// siteView is the YAML shape printed by "sources --format yaml".
type siteView struct {
	Name       string `yaml:"name"`
	Query      string `yaml:"query"`
	Detail     string `yaml:"detail"`
	Method     string `yaml:"method"`
	ResultsKey string `yaml:"results_key"`
	RecordKey  string `yaml:"key"`
	Identifier string `yaml:"booking_key"`
	PageSize   int    `yaml:"page_size"`
	Filter     string `yaml:"filter,omitempty"`
}

func newSourcesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := rt.cfg.Registry()
			if err != nil {
				return err
			}
			views := make([]siteView, 0, len(reg.Sources()))
			for _, name := range reg.Sources() {
				site, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				views = append(views, siteView{
					Name:       site.Name,
					Query:      site.QueryURL(),
					Detail:     site.DetailURL(),
					Method:     site.Method,
					ResultsKey: site.ResultsKey,
					RecordKey:  site.RecordKey,
					Identifier: site.IdentifierField,
					PageSize:   site.PageSize,
					Filter:     site.Filter,
				})
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				for _, v := range views {
					fmt.Fprintf(out, "%s\t%s\n", v.Name, v.Query)
				}
				return nil
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(views); err != nil {
					return fmt.Errorf("encode sources: %w", err)
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q (want text or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or yaml")
	return cmd
}
