package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/service"
	"github.com/garyjia/practice-workflow/internal/config"
	"github.com/garyjia/practice-workflow/internal/container"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/importer"
	"github.com/garyjia/practice-workflow/internal/report"
	"github.com/garyjia/practice-workflow/migrations"
	"github.com/garyjia/practice-workflow/pkg/database"
	"github.com/garyjia/practice-workflow/pkg/utils"
)

func setupCommands(rootCmd *cobra.Command) {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			dbCfg := cfg.ToContainerConfig().Database
			bundle, err := container.ProvideDatabase(&dbCfg, logger)
			if err != nil {
				return err
			}
			defer bundle.Raw.Close()

			version, _, err := database.NewMigrator(bundle.Raw, logger).Version(migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date at schema version %d\n", dbCfg.Path, version)
			return nil
		},
	}

	tenantCmd := &cobra.Command{
		Use:   "tenant [name]",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				tenant := &entity.Tenant{Name: args[0]}
				if parent, _ := cmd.Flags().GetInt64("parent"); parent != 0 {
					tenant.ParentID = &parent
				}
				if err := c.Repositories().Tenant.Create(ctx, tenant); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created tenant '%s' with ID %d\n", tenant.Name, tenant.ID)
				return nil
			})
		},
	}
	tenantCmd.Flags().Int64("parent", 0, "parent tenant id")

	userCmd := &cobra.Command{
		Use:   "user [name]",
		Short: "Create a user in a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetInt64("tenant")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			email, _ := cmd.Flags().GetString("email")
			if tenantID == 0 {
				return fmt.Errorf("--tenant is required")
			}
			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				user := &entity.User{TenantID: tenantID, Name: args[0], Email: email, Roles: roles, IsActive: true}
				if err := c.Repositories().User.Create(ctx, user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user '%s' with ID %d (roles: %s)\n",
					user.Name, user.ID, strings.Join(user.Roles, ","))
				return nil
			})
		},
	}
	userCmd.Flags().Int64("tenant", 0, "tenant id")
	userCmd.Flags().StringSlice("roles", []string{entity.RoleClient}, "comma separated roles")
	userCmd.Flags().String("email", "", "email address")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create workflow definitions from a YAML document",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			tenantID, _ := cmd.Flags().GetInt64("tenant")

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open definitions: %w", err)
			}
			defer f.Close()

			specs, err := service.LoadDefinitions(f)
			if err != nil {
				return err
			}

			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				for _, spec := range specs {
					def, err := c.Services().Definitions.Create(ctx, operator(tenantID), tenantID, spec)
					if err != nil {
						return fmt.Errorf("definition %q: %w", spec.Name, err)
					}
					scope := "shared"
					if def.TenantID != nil {
						scope = fmt.Sprintf("tenant %d", *def.TenantID)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created definition '%s' with ID %d (%s, %d steps)\n",
						def.Name, def.ID, scope, len(def.Steps))
				}
				return nil
			})
		},
	}
	seedCmd.Flags().String("file", "configs/definitions.yaml", "definitions YAML document")
	seedCmd.Flags().Int64("tenant", 0, "tenant that owns non-shared definitions")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import historical requests from an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			opts := importer.Options{}
			opts.TenantID, _ = cmd.Flags().GetInt64("tenant")
			opts.DefinitionID, _ = cmd.Flags().GetInt64("definition")
			opts.ActorID, _ = cmd.Flags().GetInt64("actor")
			opts.Sheet, _ = cmd.Flags().GetString("sheet")
			opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
			if opts.TenantID == 0 {
				return fmt.Errorf("--tenant is required")
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open workbook: %w", err)
			}
			defer f.Close()

			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				rep, err := c.Importer().ImportWorkbook(ctx, f, opts)
				if err != nil {
					return err
				}
				printImportReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "xlsx workbook")
	importCmd.Flags().Int64("tenant", 0, "tenant receiving the requests")
	importCmd.Flags().Int64("definition", 0, "definition id, defaults to the tenant default")
	importCmd.Flags().Int64("actor", 0, "user recorded as the actor on history rows")
	importCmd.Flags().String("sheet", "", "sheet name, defaults to the first sheet")
	importCmd.Flags().Bool("dry-run", false, "validate every row and roll back")
	_ = importCmd.MarkFlagRequired("file")

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print dashboard metrics or export them to a workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetInt64("tenant")
			out, _ := cmd.Flags().GetString("out")

			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				var filter *int64
				if tenantID != 0 {
					filter = &tenantID
				}
				m, err := c.Services().Metrics.Summarize(ctx, operator(tenantID), filter)
				if err != nil {
					return err
				}

				if out == "" {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(m)
				}

				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				if err := report.WriteMetricsWorkbook(f, m, time.Now()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote metrics for %d requests to %s\n", m.Total, out)
				return nil
			})
		},
	}
	metricsCmd.Flags().Int64("tenant", 0, "restrict to one tenant")
	metricsCmd.Flags().String("out", "", "xlsx file to write instead of printing JSON")

	rootCmd.AddCommand(migrateCmd, tenantCmd, userCmd, seedCmd, importCmd, metricsCmd)
}

// operator is the identity CLI commands act under
func operator(tenantID int64) entity.Actor {
	return entity.Actor{TenantID: tenantID, Roles: []string{entity.RoleSuperAdmin}}
}

func loadEnv(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env")
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	cfg, err := config.LoadWithEnv(configPath, envFile)
	if err != nil {
		return nil, nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{Level: "warn", OutputPath: "stderr", Format: "console"})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *container.Container) error) error {
	cfg, logger, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ccfg := cfg.ToContainerConfig()
	ccfg.Worker.LogEvents = false

	c, err := container.NewContainer(ccfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func printImportReport(w io.Writer, rep *importer.Report) {
	mode := "Imported"
	if rep.DryRun {
		mode = "Would import"
	}
	fmt.Fprintf(w, "%s %d rows, skipped %d\n", mode, rep.Imported, rep.Skipped)
	for _, row := range rep.Rows {
		if row.Error == "" {
			continue
		}
		fmt.Fprintf(w, "- row %d: %s", row.Row, row.Kind)
		if row.Field != "" {
			fmt.Fprintf(w, " (%s)", row.Field)
		}
		fmt.Fprintf(w, ": %s\n", row.Error)
	}
}
