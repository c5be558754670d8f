package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"
)

// replicateOptions holds the data-plane policy flags.
type replicateOptions struct {
	HaltOnError bool
	Verify      bool
	Force       bool
	DryRun      bool
}

// logRowError appends failed rows to migration_errors.log so a run with
// halt_on_error off leaves a usable record.
func logRowError(table, rowData, errMsg string) {
	f, err := os.OpenFile("migration_errors.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("cannot open migration_errors.log: %v", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "TABLE: %s | ERROR: %s | DATA: %s\n", table, errMsg, rowData)
}

// tablePair aligns a source-native table with its target rendition; the
// columns correspond positionally.
type tablePair struct {
	source *Table
	target *Table
}

// alignTables pairs each target table with its source-native original.
// The IR preserves source names; the target schema was derived from the
// IR in order, so pairing is positional.
func alignTables(sourceSchema, ir, targetSchema *Schema) ([]tablePair, error) {
	if len(ir.Tables) != len(targetSchema.Tables) {
		return nil, fmt.Errorf("schema shape mismatch: %d IR tables, %d target tables",
			len(ir.Tables), len(targetSchema.Tables))
	}
	pairs := make([]tablePair, len(ir.Tables))
	for i := range ir.Tables {
		src := sourceSchema.Table(ir.Tables[i].Name)
		if src == nil {
			return nil, fmt.Errorf("table %s missing from source schema", ir.Tables[i].Name)
		}
		pairs[i] = tablePair{source: src, target: &targetSchema.Tables[i]}
	}
	return pairs, nil
}

// replicateData streams every table from source to target in dependency
// order. Within a table, reads and writes overlap through a 1-slot
// channel: at most one chunk is in flight beyond the one being written,
// which preserves the chunk-size memory bound while masking round-trip
// latency. Tables never run in parallel; FK order would break.
func replicateData(ctx context.Context, source, target Driver, sourceSchema, ir, targetSchema *Schema, cfg *Config, opts replicateOptions) error {
	pairs, err := alignTables(sourceSchema, ir, targetSchema)
	if err != nil {
		return wrapKind(errSchema, err, "align schemas")
	}

	srcZeroDate := cfg.Mapping(source.Dialect()).Rules.OnRead.ZeroDateToNull
	preserveAutoInc := cfg.Mapping(target.Dialect()).Rules.OnWrite.PreserveAutoIncrement

	var verifyFailures uint64
	for _, pair := range pairs {
		stats, err := replicateTable(ctx, source, target, pair, cfg, opts, srcZeroDate)
		if err != nil {
			return err
		}
		log.Printf("  %s: %d/%d rows (%d row errors)",
			pair.target.Name, stats.rowsDone, stats.rowsTotal, stats.rowErrors)

		if preserveAutoInc && !opts.DryRun {
			if err := target.ResetSequences(ctx, pair.target); err != nil {
				return wrapKind(errSchema, err, "reset sequences for %s", pair.target.Name)
			}
		}

		if opts.Verify && !opts.DryRun {
			mismatches, err := verifyTable(ctx, source, target, pair, cfg, opts.HaltOnError, srcZeroDate)
			if err != nil {
				return err
			}
			verifyFailures += mismatches
		}
	}

	if verifyFailures > 0 {
		return kindError(errVerify, "verification found %d mismatched rows", verifyFailures)
	}
	return nil
}

type tableStats struct {
	rowsDone  uint64
	rowsTotal uint64
	rowErrors uint64
}

func replicateTable(ctx context.Context, source, target Driver, pair tablePair, cfg *Config, opts replicateOptions, srcZeroDate bool) (tableStats, error) {
	var stats tableStats
	st, tt := pair.source, pair.target

	exists, err := target.TableExists(ctx, tt.Name)
	if err != nil {
		return stats, wrapKind(errConnection, err, "check target table %s", tt.Name)
	}
	if !exists {
		return stats, kindError(errSchema, "target table %s does not exist", tt.Name)
	}
	if !opts.Force {
		empty, err := target.TableIsEmpty(ctx, tt)
		if err != nil {
			return stats, wrapKind(errConnection, err, "check target table %s", tt.Name)
		}
		if !empty {
			return stats, kindError(errDataLoss,
				"target table %s is not empty (use --force to write anyway)", tt.Name)
		}
	}

	keyCols := stableKey(st)
	if keyCols == nil {
		log.Printf("  WARN: %s has no stable key; falling back to offset paging", st.Name)
	}

	// Row-count estimate only: the source may grow during migration.
	stats.rowsTotal, err = source.CountRows(ctx, st)
	if err != nil {
		return stats, wrapKind(errConnection, err, "count rows in %s", st.Name)
	}

	stream, err := source.StreamChunks(ctx, st, keyCols, cfg.ChunkSize)
	if err != nil {
		return stats, wrapKind(errConnection, err, "stream %s", st.Name)
	}
	defer stream.Close()

	// Producer/consumer with one chunk in flight.
	chunks := make(chan *Chunk, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		for {
			chunk, err := stream.Next(gctx)
			if err != nil {
				return wrapKind(errConnection, err, "read chunk from %s", st.Name)
			}
			if chunk == nil {
				return nil
			}
			select {
			case chunks <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			var chunk *Chunk
			var ok bool
			select {
			case chunk, ok = <-chunks:
			case <-gctx.Done():
				return gctx.Err()
			}
			if !ok {
				return nil
			}
			n, errs, err := writeChunk(gctx, target, tt, chunk, opts, srcZeroDate)
			stats.rowsDone += n
			stats.rowErrors += errs
			if err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// writeChunk coerces one source chunk into the target table and inserts
// it. A failed bulk insert falls back to row-by-row so the offending rows
// can be logged individually; with halt_on_error the first failure aborts.
func writeChunk(ctx context.Context, target Driver, tt *Table, chunk *Chunk, opts replicateOptions, srcZeroDate bool) (written, rowErrors uint64, err error) {
	out := &Chunk{Columns: columnNames(tt)}
	for _, row := range chunk.Rows {
		coerced, cerr := coerceRow(row, tt, target.Dialect(), srcZeroDate)
		if cerr != nil {
			if opts.HaltOnError {
				return written, rowErrors, wrapKind(errRowFailure, cerr, "table %s", tt.Name)
			}
			logRowError(tt.Name, rowString(chunk.Columns, row), cerr.Error())
			rowErrors++
			continue
		}
		out.Rows = append(out.Rows, coerced)
	}
	if len(out.Rows) == 0 {
		return written, rowErrors, nil
	}
	if opts.DryRun {
		return written + uint64(len(out.Rows)), rowErrors, nil
	}

	if err := target.BulkInsert(ctx, tt, out); err == nil {
		return written + uint64(len(out.Rows)), rowErrors, nil
	}

	// Bulk failed; retry row-by-row for precise logging.
	for _, row := range out.Rows {
		if ierr := target.InsertRow(ctx, tt, out.Columns, row); ierr != nil {
			if opts.HaltOnError {
				return written, rowErrors, wrapKind(errRowFailure, ierr, "insert into %s", tt.Name)
			}
			logRowError(tt.Name, rowString(out.Columns, row), ierr.Error())
			rowErrors++
			continue
		}
		written++
	}
	return written, rowErrors, nil
}

func rowString(columns []string, row []Value) string {
	s := ""
	for i, c := range columns {
		if i > 0 {
			s += ", "
		}
		if i < len(row) {
			s += fmt.Sprintf("%s=%s", c, row[i].String())
		}
	}
	return s
}
