// Package httprouter exposes the download queue over HTTP.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"

	"vodkeep/internal/config"
	"vodkeep/internal/consts"
	"vodkeep/internal/entity"
	"vodkeep/internal/errs"
	"vodkeep/internal/infrastructure/delivery/http/middleware"
	"vodkeep/internal/infrastructure/delivery/http/request"
	"vodkeep/internal/infrastructure/delivery/http/response"
	"vodkeep/internal/observability"
	"vodkeep/internal/queue"
	"vodkeep/internal/storage"
	"vodkeep/pkg/gen"
)

// TokenSource issues VOD access credentials.
type TokenSource interface {
	AccessToken(ctx context.Context, videoID string) (entity.VodAuth, error)
}

// HistoryReader lists finished runs.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]storage.Record, error)
}

// QueueState is the body of GET /v1/queue.
type QueueState struct {
	Paused      bool `json:"paused"`
	CanShutdown bool `json:"canShutdown"`
	Jobs        int  `json:"jobs"`
}

type Router struct {
	*http.ServeMux
	log         *slog.Logger
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool

	cfg     *config.Config
	queue   queue.Queue
	tokens  TokenSource
	history HistoryReader
	metrics *observability.Metrics
}

// New returns the API router. history may be nil when job history is disabled.
func New(log *slog.Logger, cfg *config.Config, q queue.Queue, tokens TokenSource,
	history HistoryReader, metrics *observability.Metrics,
) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		queue:    q,
		tokens:   tokens,
		history:  history,
		metrics:  metrics,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	for _, middleware := range slices.Backward(r.routeChain) {
		h = middleware(h)
	}

	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
	)
}

// subRouter returns a router mounted under prefix. Its metrics middleware
// sits right on the mux so the matched pattern can be read back.
func (r *Router) subRouter(prefix string) *Router {
	sub := &Router{ServeMux: http.NewServeMux()}
	sub.Use(middleware.Metrics(r.metrics, prefix))

	return sub
}

func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesDownloads()
	r.SetRoutesQueue()
	r.SetRoutesHistory()

	r.Handle("GET /metrics", r.metrics.Handler())
}

func (r *Router) SetRoutesHealthcheck() {
	healthcheckRouter := r.subRouter("/v1")
	healthcheckRouter.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/v1/", http.StripPrefix("/v1", healthcheckRouter))
}

func (ro *Router) SetRoutesDownloads() {
	downloadRouter := ro.subRouter("/v1/downloads")
	downloadRouter.HandleFunc("POST /{$}", ro.Enqueue)
	downloadRouter.HandleFunc("GET /{$}", ro.GetJobs)
	downloadRouter.HandleFunc("GET /{id}", ro.GetJob)
	downloadRouter.HandleFunc("POST /{id}/cancel", ro.CancelJob)
	downloadRouter.HandleFunc("POST /{id}/retry", ro.RetryJob)
	downloadRouter.HandleFunc("DELETE /{id}", ro.RemoveJob)

	ro.Handle("/v1/downloads", http.RedirectHandler("/v1/downloads/", http.StatusPermanentRedirect))
	ro.Handle("/v1/downloads/", http.StripPrefix("/v1/downloads", downloadRouter))
}

func (ro *Router) SetRoutesQueue() {
	queueRouter := ro.subRouter("/v1/queue")
	queueRouter.HandleFunc("GET /{$}", ro.GetQueue)
	queueRouter.HandleFunc("POST /pause", ro.PauseQueue)
	queueRouter.HandleFunc("POST /resume", ro.ResumeQueue)

	ro.Handle("/v1/queue/", http.StripPrefix("/v1/queue", queueRouter))
}

func (ro *Router) SetRoutesHistory() {
	historyRouter := ro.subRouter("/v1/history")
	historyRouter.HandleFunc("GET /{$}", ro.GetHistory)

	ro.Handle("/v1/history/", http.StripPrefix("/v1/history", historyRouter))
}

// outputPath resolves the requested output against the downloads directory.
func (ro *Router) outputPath(in *request.Enqueue) string {
	output := in.Output
	if output == "" {
		output = gen.FileName(in.VideoID, in.Quality) + consts.OutputExt
	}

	if !filepath.IsAbs(output) {
		output = filepath.Join(ro.cfg.Dir.Downloads, output)
	}

	return filepath.Clean(output)
}

func (ro *Router) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "Enqueue")

	ctx, cancel := context.WithTimeout(r.Context(), ro.cfg.HTTP.HandlerTimeout)
	defer cancel()

	var in request.Enqueue
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	output := ro.outputPath(&in)
	if ro.queue.IsFileNameUsed(output) {
		log.DebugContext(ctx, consts.RespFileNameUsed, slog.String("output", output))
		response.Conflict(w, consts.RespFileNameUsed, errs.ErrFileNameUsed)

		return
	}

	if ro.queue.Paused() {
		response.ServiceUnavailable(w, consts.RespQueuePaused, errs.ErrQueuePaused)

		return
	}

	auth, ok := in.Auth()
	if !ok {
		var err error

		auth, err = ro.tokens.AccessToken(ctx, in.VideoID)
		if err != nil {
			log.ErrorContext(ctx, consts.RespAccessTokenFail, slog.String("videoId", in.VideoID), slog.Any("error", err))
			response.BadGateway(w, consts.RespAccessTokenFail, err)

			return
		}
	}

	id, err := ro.queue.EnqueueUnique(entity.Params{
		VideoID: in.VideoID,
		Quality: entity.Quality{ID: in.Quality, Display: in.QualityDisplay},
		Output:  output,
		Crop:    in.Crop(),
		Auth:    auth,
	})
	if errors.Is(err, errs.ErrQueuePaused) {
		response.ServiceUnavailable(w, consts.RespQueuePaused, err)

		return
	}

	if errors.Is(err, errs.ErrFileNameUsed) {
		log.DebugContext(ctx, consts.RespFileNameUsed, slog.String("output", output))
		response.Conflict(w, consts.RespFileNameUsed, err)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespJobEnqueueFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobEnqueueFail, nil, err)

		return
	}

	ro.queue.Tick()

	log.InfoContext(ctx, consts.RespJobEnqueued, slog.String("id", id), slog.String("videoId", in.VideoID))

	response.Accepted(w, consts.RespJobEnqueued, id, nil)
}

func (ro *Router) GetJobs(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespJobsRetrieved, ro.queue.Jobs(), nil)
}

func (ro *Router) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := ro.queue.Get(r.PathValue("id"))
	if err != nil {
		response.NotFound(w, consts.RespJobNotFound, err)

		return
	}

	response.OK(w, consts.RespJobRetrieved, view, nil)
}

// writeJobError maps queue errors of a job operation to a status.
func writeJobError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, errs.ErrJobNotFound):
		response.NotFound(w, message, err)
	case errors.Is(err, errs.ErrQueuePaused):
		response.ServiceUnavailable(w, message, err)
	case errors.Is(err, errs.ErrJobActive), errors.Is(err, errs.ErrJobNotActive), errors.Is(err, errs.ErrJobNotRetryable):
		response.Conflict(w, message, err)
	default:
		response.InternalServerError(w, message, nil, err)
	}
}

func (ro *Router) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := ro.queue.Cancel(id); err != nil {
		ro.log.DebugContext(r.Context(), consts.RespJobCancelFail, slog.String("id", id), slog.Any("error", err))
		writeJobError(w, consts.RespJobCancelFail, err)

		return
	}

	response.Accepted(w, consts.RespJobCanceled, id, nil)
}

func (ro *Router) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := ro.queue.Retry(id); err != nil {
		ro.log.DebugContext(r.Context(), consts.RespJobRetryFail, slog.String("id", id), slog.Any("error", err))
		writeJobError(w, consts.RespJobRetryFail, err)

		return
	}

	ro.queue.Tick()

	response.Accepted(w, consts.RespJobRetried, id, nil)
}

func (ro *Router) RemoveJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := ro.queue.Remove(id); err != nil {
		ro.log.DebugContext(r.Context(), consts.RespJobRemoveFail, slog.String("id", id), slog.Any("error", err))
		writeJobError(w, consts.RespJobRemoveFail, err)

		return
	}

	response.OK(w, consts.RespJobRemoved, id, nil)
}

func (ro *Router) queueState() QueueState {
	return QueueState{
		Paused:      ro.queue.Paused(),
		CanShutdown: ro.queue.CanShutdown(),
		Jobs:        len(ro.queue.Jobs()),
	}
}

func (ro *Router) GetQueue(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespQueueRetrieved, ro.queueState(), nil)
}

func (ro *Router) PauseQueue(w http.ResponseWriter, r *http.Request) {
	ro.queue.Pause()
	ro.log.InfoContext(r.Context(), consts.RespQueuePaused)

	response.OK(w, consts.RespQueuePaused, ro.queueState(), nil)
}

func (ro *Router) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	ro.queue.Resume()
	ro.log.InfoContext(r.Context(), consts.RespQueueResumed)

	response.OK(w, consts.RespQueueResumed, ro.queueState(), nil)
}

func (ro *Router) GetHistory(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "GetHistory")

	ctx, cancel := context.WithTimeout(r.Context(), ro.cfg.HTTP.HandlerTimeout)
	defer cancel()

	limit := consts.DefaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(w, consts.RespInvalidRequestBody, errors.New("limit must be a positive integer"))

			return
		}

		limit = n
	}

	if ro.history == nil {
		response.OK(w, consts.RespHistoryRetrieved, []storage.Record{}, nil)

		return
	}

	records, err := ro.history.List(ctx, limit)
	if err != nil {
		log.ErrorContext(ctx, consts.RespHistoryFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespHistoryFail, nil, err)

		return
	}

	response.OK(w, consts.RespHistoryRetrieved, records, nil)
}
