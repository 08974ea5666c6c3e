package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/newsloom/crawler/internal/crawler"
	"github.com/newsloom/crawler/internal/scheduler"
)

type crawlRequest struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
	Category string `json:"category"`
}

// jobPayload is the job representation returned by the task endpoints.
// Internal lifecycle states collapse onto the reported vocabulary of
// pending, running, succeeded and failed; the reason field carries the
// distinction (retries exhausted, canceled by request).
type jobPayload struct {
	ID          string    `json:"id"`
	SourceID    int64     `json:"source_id,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	URL         string    `json:"url"`
	Selector    string    `json:"selector,omitempty"`
	Category    string    `json:"category,omitempty"`
	Depth       int       `json:"depth"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduled_at"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
}

func toJobPayload(job crawler.CrawlJob) jobPayload {
	return jobPayload{
		ID:          job.ID,
		SourceID:    job.SourceID,
		SourceName:  job.SourceName,
		URL:         job.URL,
		Selector:    job.Selector,
		Category:    job.Category,
		Depth:       job.Depth,
		Attempt:     job.Attempt,
		ScheduledAt: job.ScheduledAt,
		State:       externalState(job.State),
		Reason:      job.Reason,
	}
}

func externalState(state crawler.JobState) string {
	switch state {
	case crawler.JobStateFetching:
		return "running"
	case crawler.JobStateExhausted, crawler.JobStateCanceled:
		return "failed"
	default:
		return string(state)
	}
}

type batchCrawlRequest struct {
	URLs     []string `json:"urls"`
	Selector string   `json:"selector"`
	Category string   `json:"category"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	job, err := s.scheduler.Submit(r.Context(), req.URL, req.Selector, req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": toJobPayload(job)})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one url required")
		return
	}
	jobs, err := s.scheduler.SubmitBatch(r.Context(), req.URLs, req.Selector, req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payloads := make([]jobPayload, 0, len(jobs))
	for _, job := range jobs {
		payloads = append(payloads, toJobPayload(job))
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": payloads})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.scheduler.Job(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobPayload(job)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.scheduler.Cancel(jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobPayload(job)})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	filter := crawler.ArticleFilter{
		Category:     r.URL.Query().Get("category"),
		SourceDomain: r.URL.Query().Get("source_domain"),
		Limit:        queryInt(r, "limit"),
		Offset:       queryInt(r, "offset"),
	}
	articles, err := s.articles.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	if articles == nil {
		articles = []crawler.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "article_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid article id")
		return
	}
	article, err := s.articles.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch article")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"article": article})
}

type createArticleRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Author   string   `json:"author"`
	Source   string   `json:"source"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// createArticle stores a manually authored article. With a URL it goes
// through the same upsert path as crawled pages; without one it is
// inserted as a standalone row.
func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	var req createArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}

	article := crawler.Article{
		Title:     req.Title,
		Content:   req.Content,
		Author:    req.Author,
		Source:    req.Source,
		Category:  req.Category,
		Tags:      req.Tags,
		CrawlTime: s.clock.Now(),
	}

	if req.URL != "" {
		normalized, err := crawler.NormalizeURL(req.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid url")
			return
		}
		article.URL = normalized
		article.SourceDomain = crawler.Domain(normalized)
		stored, created, err := s.articles.Upsert(r.Context(), article)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store article")
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"article": stored, "created": created})
		return
	}

	stored, err := s.articles.Insert(r.Context(), article)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store article")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"article": stored, "created": true})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	sources, err := s.sources.List(r.Context(), enabledOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	if sources == nil {
		sources = []crawler.CrawlSource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "source_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	source, err := s.sources.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source})
}

type createSourceRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Enabled  *bool  `json:"enabled"`
	Interval int    `json:"interval_minutes"`
	Selector string `json:"selector"`
	Category string `json:"category"`
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	if req.Interval <= 0 {
		writeError(w, http.StatusBadRequest, "interval_minutes must be > 0")
		return
	}
	normalized, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	source, err := s.sources.Create(r.Context(), crawler.CrawlSource{
		Name:     req.Name,
		URL:      normalized,
		Enabled:  enabled,
		Interval: req.Interval,
		Selector: req.Selector,
		Category: req.Category,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create source")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"source": source})
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
