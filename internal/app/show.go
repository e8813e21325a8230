package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent collection runs from the catalog.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	catalog, closeCatalog, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	if catalog == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeCatalog != nil {
		defer closeCatalog()
	}

	runs, err := catalog.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no collection runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tSymbol\tKind\tStatus\tRows\tDuration\tError")

	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Symbol,
			run.Kind,
			run.Status,
			run.Rows,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
