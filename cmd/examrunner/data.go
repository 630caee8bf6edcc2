package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pavelanni/examrunner/internal/exam"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/scoring"
	"github.com/pavelanni/examrunner/internal/store"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import exam definition files into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			ctx := cmd.Context()
			db, err := openStore(ctx, v)
			if err != nil {
				return err
			}
			defer db.Close()
			return importExams(ctx, db, args)
		},
	}
	addStoreFlags(cmd)
	return cmd
}

// importExams loads each file whose content changed since its last import.
// The exam id comes from the definition itself.
func importExams(ctx context.Context, db *store.Store, paths []string) error {
	importer := exam.NewImporter(db)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := exam.Hash(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("exam file unchanged, skipping", "path", path)
			continue
		}

		res, err := importer.Import(ctx, "", data)
		if errors.Is(err, exam.ErrExamInUse) {
			slog.Warn("exam file changed but the exam already has attempts, skipping", "path", path, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import of %s: %w", path, err)
		}
		slog.Info("exam file imported", "path", path, "exam_id", res.Definition.ID, "unchanged", res.Unchanged)
	}
	return nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export submitted attempts of an exam as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "", "Output file (default: stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := buildExport(ctx, db, v.GetString("exam-id"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// buildExport scores every submitted attempt of examID against its current definition.
func buildExport(ctx context.Context, db *store.Store, examID string) (*model.ExamExport, error) {
	def, err := exam.NewLoader(db).Load(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam %s: %w", examID, err)
	}
	rows, err := db.ExportRows(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("export attempts: %w", err)
	}

	export := &model.ExamExport{
		ExamID:     def.ID,
		Title:      def.Title,
		ExportedAt: time.Now().UTC(),
		MaxScore:   scoring.Score(def, nil).MaxScore,
		Results:    make([]model.StudentResult, 0, len(rows)),
	}
	for _, row := range rows {
		export.Results = append(export.Results, scoring.StudentResult(def, &row.Attempt, row.Username, row.DisplayName))
	}
	return export, nil
}

func attemptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List attempts as a table",
		RunE:  runAttempts,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Only attempts of this exam")
	f.String("status", "", "Only attempts with this status (in_progress, completed, graded)")
	return cmd
}

func runAttempts(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	attempts, err := db.ListAttempts(ctx, store.AttemptFilter{
		ExamID: v.GetString("exam-id"),
		Status: model.AttemptStatus(v.GetString("status")),
	})
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) == 0 {
		color.Yellow("No attempts found")
		return nil
	}

	users := map[int64]string{}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Exam", "Student", "Status", "Score", "Started", "Completed"})
	for _, a := range attempts {
		name, ok := users[a.StudentID]
		if !ok {
			name = strconv.FormatInt(a.StudentID, 10)
			if u, err := db.GetUserByID(a.StudentID); err == nil && u != nil {
				name = u.Username
			}
			users[a.StudentID] = name
		}
		completed := "-"
		if a.CompletedAt != nil {
			completed = a.CompletedAt.Local().Format(time.DateTime)
		}
		table.Append([]string{
			strconv.FormatInt(a.ID, 10),
			a.ExamID,
			name,
			statusLabel(a.Status),
			fmt.Sprintf("%g/%g", a.TotalScore, a.MaxScore),
			a.StartedAt.Local().Format(time.DateTime),
			completed,
		})
	}
	color.Cyan("\n%d attempts", len(attempts))
	table.Render()
	return nil
}

func statusLabel(s model.AttemptStatus) string {
	switch s {
	case model.StatusGraded:
		return color.GreenString(string(s))
	case model.StatusCompleted:
		return color.CyanString(string(s))
	default:
		return color.YellowString(string(s))
	}
}
