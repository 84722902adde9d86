package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gastos/internal/cli"
	"gastos/internal/core"
	"gastos/internal/services"
	"gastos/internal/storage"
)

// referenceDate parses --date, defaulting to today in the configured
// timezone.
func referenceDate(raw string, loc *time.Location) (core.Date, error) {
	if raw == "" {
		return core.DateOf(time.Now().In(loc)), nil
	}
	return core.ParseDate(raw)
}

// currentPeriod parses --period, defaulting to the current month.
func currentPeriod(raw string, loc *time.Location) (core.Period, error) {
	if raw == "" {
		return core.DateOf(time.Now().In(loc)).Period(), nil
	}
	return core.ParsePeriod(raw)
}

func printRecord(res services.RecordResult) {
	t := res.Transaction
	fmt.Printf("Registrado #%d: %s\n", t.ID, t.Description)
	fmt.Printf("  %s  %s  %s  (%s)\n", t.OccurredOn, t.Category, t.Amount, core.ConfidenceNote(t.Confidence))
	if res.LowConfidence {
		fmt.Println("  Confiança baixa, confira os dados.")
	}
	if res.MirrorErr != nil {
		fmt.Println("  " + core.UserMessage(res.MirrorErr))
	} else if res.MirrorPending {
		fmt.Println("  Planilha será atualizada pelo worker.")
	}
	for _, a := range res.GoalAlerts {
		fmt.Printf("  Meta %s: %s de %s (%.0f%%)\n", a.Category, a.Spent, a.Limit, a.Percent)
	}
}

func recordCmd() *cobra.Command {
	var date, source string

	cmd := &cobra.Command{
		Use:   "record [text]",
		Short: "Interpret a message and record it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ref, err := referenceDate(date, a.cfg.Location())
			if err != nil {
				return err
			}
			res, err := a.tracker.Record(cmd.Context(), ownerID, strings.Join(args, " "), ref, source)
			if err != nil {
				return errors.New(core.UserMessage(err) + " (" + err.Error() + ")")
			}
			printRecord(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "reference date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&source, "source", core.SourceText, "source tag (text, audio, api)")
	return cmd
}

func correctCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "correct [id] [text]",
		Short: "Replace a transaction with a new interpretation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid transaction id %q", args[0])
			}

			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ref, err := referenceDate(date, a.cfg.Location())
			if err != nil {
				return err
			}
			res, err := a.tracker.Correct(cmd.Context(), ownerID, id, strings.Join(args[1:], " "), ref)
			if err != nil {
				return errors.New(core.UserMessage(err) + " (" + err.Error() + ")")
			}
			printRecord(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "reference date (YYYY-MM-DD), defaults to today")
	return cmd
}

func listCmd() *cobra.Command {
	var period string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions in a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			var p core.Period
			if !all {
				if p, err = currentPeriod(period, a.cfg.Location()); err != nil {
					return err
				}
			}
			txs, err := a.tracker.ListTransactions(cmd.Context(), ownerID, p)
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				fmt.Println("Nenhum registro.")
				return nil
			}
			for _, t := range txs {
				fmt.Printf("#%-5d %s  %-12s %14s  %s\n", t.ID, t.OccurredOn, t.Category, t.Amount, t.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "", "month (YYYY-MM) or year (YYYY), defaults to the current month")
	cmd.Flags().BoolVar(&all, "all", false, "list every transaction")
	return cmd
}

func summaryCmd() *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the monthly summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := currentPeriod(period, a.cfg.Location())
			if err != nil {
				return err
			}
			s, err := a.tracker.GetSummary(cmd.Context(), ownerID, p)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d registros, total %s (gastos %s)\n", s.Period().Label(), s.Count, s.Total, s.Spent())
			for _, ca := range s.ByCategory {
				if ca.Count == 0 {
					continue
				}
				fmt.Printf("  %-12s %14s  (%d)\n", ca.Category, ca.Amount, ca.Count)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "", "month (YYYY-MM), defaults to the current month")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show statistics over the whole ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.tracker.GetStats(cmd.Context(), ownerID)
			if err != nil {
				return err
			}
			fmt.Printf("Registros: %d\n", s.Count)
			fmt.Printf("Gasto: %s  Guardado: %s  Média: %s\n", s.TotalSpent, s.TotalSaved, s.Average)
			if s.Count > 0 {
				fmt.Printf("Período: %s a %s (%d dias)\n", s.First, s.Last, s.SpanDays)
			}
			for _, c := range s.ByCategory {
				fmt.Printf("  %-12s %14s  n=%d  média %s  máx %s  mín %s\n",
					c.Category, c.Total, c.Count, c.Average, c.Max, c.Min)
			}
			for src, n := range s.BySource {
				fmt.Printf("  origem %s: %d\n", src, n)
			}
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Compare the ledger with the spreadsheet mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.tracker.SyncNow(cmd.Context(), ownerID)
			if err != nil {
				return err
			}
			fmt.Printf("Abas verificadas: %d\n", r.SheetsChecked)
			fmt.Printf("Faltando na planilha: %v\n", r.MissingInMirror)
			fmt.Printf("Órfãos na planilha: %v\n", r.OrphanInMirror)
			fmt.Printf("Duplicados: %v\n", r.Duplicates)
			if r.Failures > 0 {
				fmt.Printf("Falhas: %d %v\n", r.Failures, r.Errors)
			}
			if r.Consistent() {
				fmt.Println("Planilha consistente com o registro local.")
			}
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Repair drift between the ledger and the spreadsheet mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.tracker.CleanNow(cmd.Context(), ownerID)
			if err != nil {
				return err
			}
			fmt.Printf("Reenviados: %d  Removidos: %d  Resumos reescritos: %d\n",
				r.RePushed, r.Removed, r.SummariesRewritten)
			if r.Failures > 0 {
				fmt.Printf("Falhas: %d %v\n", r.Failures, r.Errors)
			}
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the interpretation cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached interpretation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.tracker.ClearCache(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Cache limpo: %d entradas removidas\n", n)
			return nil
		},
	})
	return cmd
}

// migrateCmd applies ledger migrations without starting anything else.
// Opening the repository migrates too; this exists for deploy scripts.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			repo, err := cli.InitSQLite(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			version, dirty, err := storage.SchemaVersion(storage.DSN(cfg.SQLiteDBPath))
			if err != nil {
				return err
			}
			fmt.Printf("Schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}
