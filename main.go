package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	flagSource      string
	flagTarget      string
	flagSchemaPath  string
	flagConfigPath  string
	flagVerbose     bool
	flagDryRun      bool
	flagSchemaOnly  bool
	flagForce       bool
	flagVerify      bool
	flagHaltOnError bool
	flagAllowLossy  bool
	flagBreakCycles bool
	flagDropUnknown bool
)

var rootCmd = &cobra.Command{
	Use:           "fluxforge",
	Short:         "Cross-engine database schema and data migration",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Introspect a source database and write its canonical schema file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSource == "" || flagSchemaPath == "" {
			return kindError(errUsage, "extract requires --source and --schema")
		}
		return runExtract(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply a schema (and data unless --schema-only) to a target database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagTarget == "" {
			return kindError(errUsage, "migrate requires --target")
		}
		if (flagSource == "") == (flagSchemaPath == "") {
			return kindError(errUsage, "migrate requires exactly one of --source or --schema")
		}
		return runMigrate(cmd.Context())
	},
}

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Migrate schema and data from source to target, optionally verifying",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSource == "" || flagTarget == "" {
			return kindError(errUsage, "replicate requires --source and --target")
		}
		return runReplicate(cmd.Context())
	},
}

func init() {
	for _, cmd := range []*cobra.Command{extractCmd, migrateCmd, replicateCmd} {
		cmd.Flags().StringVar(&flagConfigPath, "config", "", "path to mapping TOML config file")
		cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	}
	extractCmd.Flags().StringVar(&flagSource, "source", "", "source database URL")
	extractCmd.Flags().StringVar(&flagSchemaPath, "schema", "", "output path for the schema file")

	migrateCmd.Flags().StringVar(&flagSource, "source", "", "source database URL")
	migrateCmd.Flags().StringVar(&flagSchemaPath, "schema", "", "path to a schema file from extract")
	migrateCmd.Flags().StringVar(&flagTarget, "target", "", "target database URL")
	migrateCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "print statements without executing")
	migrateCmd.Flags().BoolVar(&flagSchemaOnly, "schema-only", false, "skip data migration")
	migrateCmd.Flags().BoolVar(&flagForce, "force", false, "write into non-empty target tables")
	migrateCmd.Flags().BoolVar(&flagAllowLossy, "allow-lossy", false, "permit lossy type mappings")
	migrateCmd.Flags().BoolVar(&flagBreakCycles, "break-cycles", false, "drop FK edges to break dependency cycles")
	migrateCmd.Flags().BoolVar(&flagDropUnknown, "drop-unknown", false, "drop target tables absent from the desired schema")

	replicateCmd.Flags().StringVar(&flagSource, "source", "", "source database URL")
	replicateCmd.Flags().StringVar(&flagTarget, "target", "", "target database URL")
	replicateCmd.Flags().BoolVar(&flagVerify, "verify", false, "verify rows after each table")
	replicateCmd.Flags().BoolVar(&flagHaltOnError, "halt-on-error", false, "abort on the first row failure")
	replicateCmd.Flags().BoolVar(&flagForce, "force", false, "write into non-empty target tables")
	replicateCmd.Flags().BoolVar(&flagAllowLossy, "allow-lossy", false, "permit lossy type mappings")
	replicateCmd.Flags().BoolVar(&flagBreakCycles, "break-cycles", false, "drop FK edges to break dependency cycles")
	replicateCmd.Flags().BoolVar(&flagDropUnknown, "drop-unknown", false, "drop target tables absent from the desired schema")

	rootCmd.AddCommand(extractCmd, migrateCmd, replicateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func runExtract(ctx context.Context) error {
	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return wrapKind(errUsage, err, "config")
	}
	mapper := newMapper(cfg, flagAllowLossy)

	log.Printf("connecting to %s...", flagSource)
	source, err := openDriver(ctx, flagSource, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	log.Printf("introspecting %s schema...", source.Name())
	native, err := source.FetchSchema(ctx)
	if err != nil {
		return err
	}
	logSourceWarnings(ctx, source, native)

	ir, err := mapper.SchemaToIR(native)
	if err != nil {
		return err
	}
	ir.Metadata.ConfigFile = flagConfigPath

	if err := writeSchemaFile(flagSchemaPath, ir); err != nil {
		return wrapKind(errUsage, err, "schema output")
	}
	log.Printf("schema with %d tables written to %s", len(ir.Tables), flagSchemaPath)
	return nil
}

// loadDesiredIR obtains the IR schema either from a schema file or by
// introspecting the live source, and returns the source driver when one
// was opened (nil in the file case).
func loadDesiredIR(ctx context.Context, cfg *Config, mapper *Mapper) (*Schema, *Schema, Driver, error) {
	if flagSchemaPath != "" && flagSource == "" {
		ir, err := readSchemaFile(flagSchemaPath)
		if err != nil {
			return nil, nil, nil, wrapKind(errUsage, err, "schema file")
		}
		log.Printf("schema snapshot loaded (source: %s, version: %s)",
			ir.Metadata.SourceSystem, ir.Metadata.ForgeVersion)
		return ir, nil, nil, nil
	}

	source, err := openDriver(ctx, flagSource, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	native, err := source.FetchSchema(ctx)
	if err != nil {
		source.Close()
		return nil, nil, nil, err
	}
	logSourceWarnings(ctx, source, native)

	ir, err := mapper.SchemaToIR(native)
	if err != nil {
		source.Close()
		return nil, nil, nil, err
	}
	log.Printf("live schema extracted (%d tables)", len(ir.Tables))
	return ir, native, source, nil
}

func runMigrate(ctx context.Context) error {
	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return wrapKind(errUsage, err, "config")
	}
	mapper := newMapper(cfg, flagAllowLossy)

	ir, native, source, err := loadDesiredIR(ctx, cfg, mapper)
	if err != nil {
		return err
	}
	if source != nil {
		defer source.Close()
	}

	target, err := openDriver(ctx, flagTarget, cfg)
	if err != nil {
		return err
	}
	defer target.Close()

	targetSchema, _, err := applySchema(ctx, target, ir, mapper, cfg)
	if err != nil {
		return err
	}
	if flagDryRun {
		return nil
	}

	if flagSchemaOnly {
		log.Printf("skipping data migration (--schema-only)")
		return nil
	}
	if source == nil {
		log.Printf("skipping data migration: no live --source provided")
		return nil
	}

	start := time.Now()
	log.Printf("migrating data...")
	opts := replicateOptions{Force: flagForce}
	if err := replicateData(ctx, source, target, native, ir, targetSchema, cfg, opts); err != nil {
		return err
	}
	log.Printf("data migration completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func runReplicate(ctx context.Context) error {
	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return wrapKind(errUsage, err, "config")
	}
	mapper := newMapper(cfg, flagAllowLossy)

	source, err := openDriver(ctx, flagSource, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	native, err := source.FetchSchema(ctx)
	if err != nil {
		return err
	}
	logSourceWarnings(ctx, source, native)

	ir, err := mapper.SchemaToIR(native)
	if err != nil {
		return err
	}

	target, err := openDriver(ctx, flagTarget, cfg)
	if err != nil {
		return err
	}
	defer target.Close()

	targetSchema, _, err := applySchema(ctx, target, ir, mapper, cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	log.Printf("replicating data...")
	opts := replicateOptions{
		HaltOnError: flagHaltOnError,
		Verify:      flagVerify,
		Force:       flagForce,
		DryRun:      flagDryRun,
	}
	if err := replicateData(ctx, source, target, native, ir, targetSchema, cfg, opts); err != nil {
		return err
	}
	log.Printf("replication completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// applySchema sorts the IR, maps it into the target dialect, diffs it
// against the live target and applies (or prints) the resulting DDL.
func applySchema(ctx context.Context, target Driver, ir *Schema, mapper *Mapper, cfg *Config) (*Schema, *migrationPlan, error) {
	log.Printf("sorting table dependencies...")
	if err := sortSchema(ir, flagBreakCycles); err != nil {
		return nil, nil, err
	}

	// Surface missing or lossy mappings before any DDL runs.
	if err := preflightSchema(mapper, ir, target.Dialect()); err != nil {
		return nil, nil, err
	}

	targetSchema, err := mapper.SchemaToTarget(ir, target.Dialect())
	if err != nil {
		return nil, nil, err
	}
	if target.Dialect() == DialectPostgres {
		for _, w := range collectIndexCompatibilityWarnings(ir) {
			log.Printf("  WARN: %s", w)
		}
	}
	for _, w := range collectGeneratedColumnWarnings(ir) {
		log.Printf("  WARN: %s", w)
	}
	for _, w := range collectOnUpdateWarnings(ir) {
		log.Printf("  WARN: %s", w)
	}

	live, err := target.FetchSchema(ctx)
	if err != nil {
		return nil, nil, err
	}

	plan, err := planSchemaApply(target, targetSchema, live, diffOptions{
		DropUnknown: flagDropUnknown,
		Force:       flagForce,
		DryRun:      flagDryRun,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, w := range plan.Warnings {
		log.Printf("  WARN: %s", w)
	}

	if flagDryRun {
		for _, name := range plan.Order {
			for _, stmt := range plan.TableStmts[name] {
				fmt.Printf("%s;\n\n", stmt)
			}
		}
		log.Printf("dry run: %d tables, no changes made", len(plan.Order))
		return targetSchema, plan, nil
	}

	for _, name := range plan.Order {
		log.Printf("  applying %s (%d statements)", name, len(plan.TableStmts[name]))
		if err := target.Apply(ctx, plan.TableStmts[name], false); err != nil {
			return nil, nil, err
		}
	}
	log.Printf("schema applied (%d tables changed)", len(plan.Order))
	return targetSchema, plan, nil
}

func logSourceWarnings(ctx context.Context, source Driver, native *Schema) {
	if !flagVerbose {
		return
	}
	for _, t := range native.Tables {
		log.Printf("  %s (%d cols, %d indexes, %d fks)",
			t.Name, len(t.Columns), len(t.Indices), len(t.ForeignKeys()))
	}
	objs, err := source.SourceObjects(ctx)
	if err != nil {
		log.Printf("  WARN: source object introspection failed: %v", err)
		return
	}
	for _, w := range sourceObjectWarnings(objs) {
		log.Printf("  WARN: %s", w)
	}
}
