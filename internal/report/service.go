package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"evalbank/internal/apperr"

	"github.com/xuri/excelize/v2"
)

var ErrExamNotFound = apperr.NotFound("exam not found")

type Service struct {
	db *sql.DB
}

type Result struct {
	AttemptID    int64      `json:"attempt_id"`
	EnrollmentID int64      `json:"enrollment_id"`
	StudentID    int64      `json:"student_id"`
	Number       int        `json:"number"`
	State        string     `json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	AutoScore    float64    `json:"auto_score"`
	FinalScore   *float64   `json:"final_score,omitempty"`
}

// Score is the final score when graded, the automatic one when only
// submitted, and absent while the attempt is still open.
func (r Result) Score() (float64, bool) {
	if r.FinalScore != nil {
		return *r.FinalScore, true
	}
	if r.State == "en_progreso" {
		return 0, false
	}
	return r.AutoScore, true
}

type ExamSummary struct {
	ExamID       int64    `json:"exam_id"`
	Title        string   `json:"title"`
	Participants int      `json:"participants"`
	Attempts     int      `json:"attempts"`
	Graded       int      `json:"graded"`
	AverageScore float64  `json:"average_score"`
	HighestScore float64  `json:"highest_score"`
	LowestScore  float64  `json:"lowest_score"`
	Results      []Result `json:"results"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	var title string
	if err := s.db.QueryRowContext(ctx, `SELECT title FROM exams WHERE id = $1`, examID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.enrollment_id, en.student_id, a.attempt_num, a.state, a.started_at, a.ended_at, a.auto_score, a.final_score
		FROM attempts a
		JOIN enrollments en ON en.id = a.enrollment_id
		WHERE a.exam_id = $1
		ORDER BY en.student_id ASC, a.attempt_num ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var (
			r          Result
			endedAt    sql.NullTime
			finalScore sql.NullFloat64
		)
		if err := rows.Scan(&r.AttemptID, &r.EnrollmentID, &r.StudentID, &r.Number, &r.State, &r.StartedAt, &endedAt, &r.AutoScore, &finalScore); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			r.EndedAt = &t
		}
		if finalScore.Valid {
			v := finalScore.Float64
			r.FinalScore = &v
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	out := summarize(results)
	out.ExamID = examID
	out.Title = title
	return out, nil
}

// summarize computes statistics over each participant's best scored attempt.
func summarize(results []Result) *ExamSummary {
	out := &ExamSummary{Attempts: len(results), Results: results}
	best := make(map[int64]float64)
	enrolled := make(map[int64]struct{})
	for _, r := range results {
		enrolled[r.EnrollmentID] = struct{}{}
		if r.State == "revisado" {
			out.Graded++
		}
		score, ok := r.Score()
		if !ok {
			continue
		}
		if prev, seen := best[r.EnrollmentID]; !seen || score > prev {
			best[r.EnrollmentID] = score
		}
	}
	out.Participants = len(enrolled)
	if len(best) == 0 {
		return out
	}

	out.LowestScore = math.Inf(1)
	out.HighestScore = math.Inf(-1)
	total := 0.0
	for _, score := range best {
		total += score
		out.LowestScore = math.Min(out.LowestScore, score)
		out.HighestScore = math.Max(out.HighestScore, score)
	}
	out.AverageScore = math.Round(total/float64(len(best))*100) / 100
	return out
}

func (s *Service) ExportExamExcel(ctx context.Context, examID int64) ([]byte, error) {
	summary, err := s.SummaryByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	return writeWorkbook(summary)
}

func writeWorkbook(summary *ExamSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	headers := []string{"student_id", "enrollment_id", "attempt", "state", "started_at", "ended_at", "auto_score", "final_score"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, r := range summary.Results {
		row := i + 2
		ended := ""
		if r.EndedAt != nil {
			ended = r.EndedAt.Format("2006-01-02 15:04:05")
		}
		var final any = ""
		if r.FinalScore != nil {
			final = *r.FinalScore
		}
		values := []any{
			r.StudentID,
			r.EnrollmentID,
			r.Number,
			r.State,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			ended,
			r.AutoScore,
			final,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 18)

	stats := "summary"
	if _, err := f.NewSheet(stats); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	pairs := [][2]any{
		{"exam", summary.Title},
		{"participants", summary.Participants},
		{"attempts", summary.Attempts},
		{"graded", summary.Graded},
		{"average", summary.AverageScore},
		{"highest", summary.HighestScore},
		{"lowest", summary.LowestScore},
	}
	for i, p := range pairs {
		_ = f.SetCellValue(stats, fmt.Sprintf("A%d", i+1), p[0])
		_ = f.SetCellValue(stats, fmt.Sprintf("B%d", i+1), p[1])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
