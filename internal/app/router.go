package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"evalbank/internal/actor"
	"evalbank/internal/app/apiresp"
	"evalbank/internal/app/observability"
	"evalbank/internal/exam"
	"evalbank/internal/gradebook"
	"evalbank/internal/question"
	"evalbank/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires services over db. Background work started here stops with ctx.
func NewRouter(ctx context.Context, cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	verifier := actor.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	limiter := NewRateLimiter(cfg.RateLimitPerMin, time.Minute)
	go limiter.Janitor(ctx)

	questionHandler := question.NewHandler(question.NewService(db))
	grades := gradebook.NewStore(db)
	examHandler := exam.NewHandler(exam.NewService(db, grades))
	gradebookHandler := gradebook.NewHandler(grades)
	reportHandler := report.NewHandler(report.NewService(db))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(verifier.Middleware)
		api.Use(collector.Middleware)

		api.With(actor.Require(canReview)).Get("/versions/{id}", questionHandler.GetVersion)
		api.Group(func(voter chi.Router) {
			voter.Use(actor.Require(actor.Actor.CanVote))
			voter.Get("/versions/{id}/votes", questionHandler.ListVotes)
			voter.With(RateLimitMiddleware(limiter)).Post("/versions/{id}/votes", questionHandler.CastVote)
		})
		api.Group(func(author chi.Router) {
			author.Use(actor.Require(actor.Actor.CanAuthor))
			author.Post("/questions", questionHandler.CreateQuestion)
			author.Post("/questions/{id}/versions", questionHandler.CreateVersion)
		})

		api.Group(func(manage chi.Router) {
			manage.Use(actor.Require(actor.Actor.CanManageExams))
			manage.Get("/exams/{id}", examHandler.GetExam)
			manage.Post("/exams/{id}/assemble", examHandler.Assemble)
			manage.Post("/exams/{id}/state", examHandler.Transition)
			manage.Get("/exams/{id}/questions", examHandler.ListQuestions)
			manage.Post("/exams/{id}/questions", examHandler.AddQuestion)
			manage.Patch("/exams/{id}/questions/{versionID}", examHandler.UpdatePoints)
			manage.Delete("/exams/{id}/questions/{versionID}", examHandler.RemoveQuestion)
			manage.Post("/attempts/{id}/grade", examHandler.Grade)
			manage.Get("/exams/{id}/report", reportHandler.Summary)
			manage.Get("/exams/{id}/report.xlsx", reportHandler.Export)
			manage.Get("/enrollments/{id}/gradebook", gradebookHandler.ListForEnrollment)
		})

		api.With(RateLimitMiddleware(limiter)).Post("/attempts/start", examHandler.Start)
		api.Get("/attempts/{id}", examHandler.GetAttempt)
		api.Put("/attempts/{id}/answers/{versionID}", examHandler.SubmitAnswer)
		api.Post("/attempts/{id}/finalize", examHandler.Finalize)
	})

	return r
}

// canReview covers anyone allowed to see answer keys.
func canReview(a actor.Actor) bool {
	return a.CanAuthor() || a.CanVote()
}
