package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/starford/minicycle/internal/engine"
	"github.com/starford/minicycle/internal/export"
	"github.com/starford/minicycle/internal/migrate"
	"github.com/starford/minicycle/internal/state"
	"github.com/starford/minicycle/internal/storage"
)

// Tool runs one-shot maintenance commands against the configured storage.
type Tool struct {
	cfg    *Config
	out    io.Writer
	logger *slog.Logger
}

// NewTool returns a Tool that prints to out and logs to logOut.
func NewTool(cfg *Config, out, logOut io.Writer) *Tool {
	return &Tool{cfg: cfg, out: out, logger: newLogger(logOut, cfg.App.LogLevel)}
}

// session boots an engine over the configured provider. With dryRun set,
// writes land in an in-memory overlay and the returned overlay lists them.
func (t *Tool) session(ctx context.Context, dryRun bool, opts ...engine.Option) (*engine.Engine, *storage.Overlay, func() error, error) {
	base, closeBase, err := OpenProvider(t.cfg.Storage)
	if err != nil {
		return nil, nil, nil, err
	}
	var p storage.Provider = base
	var overlay *storage.Overlay
	if dryRun {
		overlay = storage.NewOverlay(base)
		p = overlay
	}

	opts = append([]engine.Option{engine.WithLogger(t.logger)}, opts...)
	eng := engine.New(p, t.cfg.Engine(), opts...)
	if err := eng.Boot(ctx); err != nil {
		_ = closeBase()
		return nil, nil, nil, err
	}
	closer := func() error {
		err := eng.Shutdown()
		if cerr := closeBase(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return eng, overlay, closer, nil
}

// Migrate loads the stored data, upgrading it if needed, and reports what
// happened. With dryRun nothing is written.
func (t *Tool) Migrate(ctx context.Context, dryRun bool) (err error) {
	var migrated *state.Migrated
	var fresh bool
	obs := state.ObserverFunc(func(ev state.Event) {
		switch e := ev.(type) {
		case state.Migrated:
			migrated = &e
		case state.Ready:
			fresh = e.Fresh
		}
	})

	eng, overlay, closeFn, err := t.session(ctx, dryRun, engine.WithObserver(obs))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()

	if eng.Degraded() {
		return fmt.Errorf("migrate: storage is read-only, see logs")
	}
	switch {
	case migrated != nil:
		if migrated.From == migrate.VersionCurrent {
			fmt.Fprintf(t.out, "repaired stored data at schema %s\n", migrate.VersionCurrent)
		} else {
			fmt.Fprintf(t.out, "migrated from schema %s to %s\n", migrated.From, migrate.VersionCurrent)
		}
		if migrated.BackupKey != "" {
			fmt.Fprintf(t.out, "backup: %s\n", migrated.BackupKey)
		}
		for _, r := range migrated.Repairs {
			fmt.Fprintf(t.out, "repaired: %s\n", r)
		}
	case fresh:
		fmt.Fprintln(t.out, "no stored data found")
	default:
		fmt.Fprintf(t.out, "already at schema %s\n", migrate.VersionCurrent)
	}
	if overlay != nil {
		fmt.Fprintf(t.out, "dry run, would write: %s\n", strings.Join(overlay.Pending(), ", "))
	}
	return nil
}

// Inspect prints a summary of the stored document without modifying storage.
func (t *Tool) Inspect(ctx context.Context) (err error) {
	eng, _, closeFn, err := t.session(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()

	doc, err := eng.Document()
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "schema:          %s\n", doc.SchemaVersion)
	fmt.Fprintf(t.out, "last modified:   %s\n", time.UnixMilli(doc.Metadata.LastModified).UTC().Format(time.RFC3339))
	if doc.Metadata.MigratedFrom != "" {
		fmt.Fprintf(t.out, "migrated from:   %s\n", doc.Metadata.MigratedFrom)
	}
	fmt.Fprintf(t.out, "cycles created:  %d\n", doc.Metadata.TotalCyclesCreated)
	fmt.Fprintf(t.out, "tasks completed: %d\n", doc.Metadata.TotalTasksCompleted)
	fmt.Fprintf(t.out, "undo depth:      %d\n", eng.History().Len())
	if eng.Degraded() {
		fmt.Fprintln(t.out, "status:          read-only")
	}

	ids := make([]string, 0, len(doc.Collections.Cycles))
	for id := range doc.Collections.Cycles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nACTIVE\tID\tTITLE\tTASKS\tDONE\tCYCLES")
	for _, id := range ids {
		c := doc.Collections.Cycles[id]
		done := 0
		for _, task := range c.Tasks {
			if task.Completed {
				done++
			}
		}
		mark := ""
		if id == doc.ActiveState.ActiveCycleID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n", mark, id, c.Title, len(c.Tasks), done, c.CycleCount)
	}
	return tw.Flush()
}

// Export writes the stored document in the given format.
func (t *Tool) Export(ctx context.Context, format string) (err error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	eng, _, closeFn, err := t.session(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()

	doc, err := eng.Document()
	if err != nil {
		return err
	}
	out, err := export.Encode(doc, f)
	if err != nil {
		return err
	}
	_, err = t.out.Write(out)
	return err
}

// Import reads data in the given format. Markdown adds one cycle; JSON and
// YAML replace the whole document.
func (t *Tool) Import(ctx context.Context, format string, r io.Reader) (err error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("import: read input: %w", err)
	}

	eng, _, closeFn, err := t.session(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()

	if f == export.FormatMarkdown {
		c, err := export.DecodeCycle(raw)
		if err != nil {
			return err
		}
		added, err := eng.ImportCycle(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "imported cycle %s (%d tasks)\n", added.ID, len(added.Tasks))
		return nil
	}

	doc, report, err := export.Decode(raw, f)
	if err != nil {
		return err
	}
	for _, e := range report.Entries {
		fmt.Fprintf(t.out, "repaired: %s\n", e)
	}
	if err := eng.Import(doc); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "imported %d cycles\n", len(doc.Collections.Cycles))
	return nil
}

// Backups lists migration backups, newest first.
func (t *Tool) Backups() error {
	p, closeFn, err := OpenProvider(t.cfg.Storage)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := migrate.New(p, migrate.WithLogger(t.logger)).Backups()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(t.out, "no backups")
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Created > entries[j].Created })
	tw := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCREATED\tTYPE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, time.UnixMilli(e.Created).UTC().Format(time.RFC3339), e.Type)
	}
	return tw.Flush()
}

// RestoreBackup puts the data captured in a backup back in place. The next
// start migrates it again.
func (t *Tool) RestoreBackup(key string) error {
	p, closeFn, err := OpenProvider(t.cfg.Storage)
	if err != nil {
		return err
	}
	defer closeFn()

	keys, err := migrate.New(p, migrate.WithLogger(t.logger)).RestoreBackup(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "restored: %s\n", strings.Join(keys, ", "))
	return nil
}
