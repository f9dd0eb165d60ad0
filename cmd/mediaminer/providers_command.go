package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mediaminer/internal/deps"
	"mediaminer/internal/providers"
)

type providerRow struct {
	Priority          int    `json:"priority"`
	Name              string `json:"name"`
	Family            string `json:"family"`
	Model             string `json:"model"`
	CredentialSources int    `json:"credential_sources"`
	Credentials       int    `json:"credentials"`
	Usable            bool   `json:"usable"`
}

type providersReport struct {
	Providers    []providerRow `json:"providers"`
	Dependencies []deps.Status `json:"dependencies,omitempty"`
}

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List providers in dispatch order with credential availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := providers.FromConfig(cfg)
			if err != nil {
				return err
			}
			lookup := providers.EnvLookup(cfg.Paths.CredentialsFile)

			report := providersReport{
				Dependencies: deps.CheckBinaries(deps.RequirementsFromConfig(cfg.LocalServer)),
			}
			for _, d := range registry.Providers() {
				resolved := len(d.ResolveCredentials(lookup))
				report.Providers = append(report.Providers, providerRow{
					Priority:          d.Priority,
					Name:              d.Name,
					Family:            string(d.Family),
					Model:             d.Model,
					CredentialSources: len(d.CredentialEnv),
					Credentials:       resolved,
					Usable:            !d.RequiresCredential() || resolved > 0,
				})
			}

			if asJSON {
				return writeJSON(cmd, report)
			}

			rows := make([][]string, 0, len(report.Providers))
			for _, p := range report.Providers {
				creds := "-"
				if p.CredentialSources > 0 {
					creds = fmt.Sprintf("%d/%d", p.Credentials, p.CredentialSources)
				}
				rows = append(rows, []string{
					strconv.Itoa(p.Priority), p.Name, p.Family, p.Model, creds, yesNo(p.Usable),
				})
			}
			out := cmd.OutOrStdout()
			printTable(out, []column{
				right("Priority"), left("Name"), left("Family"), left("Model"), right("Credentials"), left("Usable"),
			}, rows)

			if len(report.Dependencies) > 0 {
				depRows := make([][]string, 0, len(report.Dependencies))
				for _, dep := range report.Dependencies {
					detail := dep.Path
					if !dep.Available {
						detail = dep.Detail
					}
					depRows = append(depRows, []string{dep.Name, dep.Description, yesNo(dep.Available), detail})
				}
				printTable(out, []column{left("Binary"), left("Purpose"), left("Available"), left("Detail")}, depRows)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
