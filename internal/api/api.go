package api

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/rudderlabs/rudder-go-kit/config"
	kithttputil "github.com/rudderlabs/rudder-go-kit/httputil"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/rudderlabs/marketo-import-proxy/internal/marketo"
	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type marketoAPI interface {
	AccessToken(ctx context.Context) (string, error)
	UpsertLeads(ctx context.Context, token string, req marketo.UpsertLeadsRequest) (stdjson.RawMessage, error)
	LeadFields(ctx context.Context, token string) ([]marketo.LeadField, error)
	Programs(ctx context.Context, token string) ([]marketo.Program, error)
}

type bulkImporter interface {
	Run(ctx context.Context, req model.ImportRequest) (*model.PollOutcome, error)
}

type textGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, schema stdjson.RawMessage) (stdjson.RawMessage, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Api is the browser-facing surface. It owns the uniform JSON envelope and
// the cross-origin headers; credentials never reach the caller, payloads and
// errors from the shielded services do.
type Api struct {
	logger       logger.Logger
	statsFactory stats.Stats
	marketo      marketoAPI
	importer     bulkImporter
	genAI        textGenerator

	config struct {
		webPort           int
		readHeaderTimeout time.Duration
	}
}

func New(
	conf *config.Config,
	log logger.Logger,
	statsFactory stats.Stats,
	marketoClient marketoAPI,
	imp bulkImporter,
	generator textGenerator,
) *Api {
	a := &Api{
		logger:       log.Child("api"),
		statsFactory: statsFactory,
		marketo:      marketoClient,
		importer:     imp,
		genAI:        generator,
	}

	a.config.webPort = conf.GetInt("ImportProxy.webPort", 8080)
	a.config.readHeaderTimeout = conf.GetDuration("ImportProxy.readHeaderTimeout", 3, time.Second)

	return a
}

func (a *Api) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.webPort),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.config.readHeaderTimeout,
	}

	a.logger.Infon("starting import proxy server", logger.NewIntField("port", int64(a.config.webPort)))
	return kithttputil.ListenAndServe(ctx, srv)
}

// Handler builds the full routing surface. Unknown paths and known paths hit
// with the wrong method both answer the 404 envelope.
func (a *Api) Handler() http.Handler {
	srvMux := chi.NewRouter()
	srvMux.Use(a.corsMiddleware, a.recoverMiddleware)

	srvMux.Post("/api/import", a.stat("import", a.importHandler))
	srvMux.Post("/api/single-lead", a.stat("single_lead", a.singleLeadHandler))
	srvMux.Get("/api/fields", a.stat("fields", a.fieldsHandler))
	srvMux.Get("/api/programs", a.stat("programs", a.programsHandler))
	srvMux.Post("/api/parse-leads", a.stat("parse_leads", a.parseLeadsHandler))
	srvMux.Post("/api/describe-title", a.stat("describe_title", a.describeTitleHandler))
	srvMux.Get("/health", a.healthHandler)

	srvMux.NotFound(a.notFoundHandler)
	srvMux.MethodNotAllowed(a.notFoundHandler)

	return srvMux
}

// corsMiddleware attaches the permissive cross-origin headers to every
// response and short-circuits OPTIONS with an empty 204. The headers are
// unconditional, the browser reads them off error responses too.
func (a *Api) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400") // preflight cached for 24h

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware converts handler panics into the generic 500 envelope so
// callers never see a stack trace or a non-JSON body.
func (a *Api) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Errorn("recovered from handler panic",
					logger.NewStringField("path", r.URL.Path),
					logger.NewStringField("panic", fmt.Sprintf("%v", rec)),
					logger.NewStringField("stack", string(debug.Stack())))
				a.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// stat wraps a handler with a latency measurement per endpoint.
func (a *Api) stat(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	latency := a.statsFactory.NewTaggedStat("import_proxy_request_time", stats.TimerType, stats.Tags{
		"endpoint": endpoint,
	})
	return func(w http.ResponseWriter, r *http.Request) {
		defer latency.RecordDuration()()
		h(w, r)
	}
}

func (a *Api) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	a.writeError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

func (a *Api) healthHandler(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "server": "UP"})
}

func (a *Api) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warnn("writing response", obskit.Error(err))
	}
}

func (a *Api) writeError(w http.ResponseWriter, statusCode int, message string) {
	a.writeJSON(w, statusCode, errorResponse{Status: "error", Message: message})
}

// writeErr maps the error taxonomy onto HTTP statuses. Remote step failures
// carry the remote payload in their message; anything unrecognized, decode
// failures included, is a plain 500.
func (a *Api) writeErr(w http.ResponseWriter, err error) {
	var (
		inputErr   *model.ClientInputError
		cfgErr     *model.ConfigurationError
		authErr    *model.AuthError
		timeoutErr *model.PollTimeoutError
		jobErr     *model.JobCreationError
		uploadErr  *model.UploadError
		pollErr    *model.PollError
		remoteErr  *model.RemoteError
	)
	switch {
	case errors.As(err, &inputErr):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cfgErr), errors.As(err, &authErr), errors.As(err, &timeoutErr):
		a.writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &jobErr), errors.As(err, &uploadErr), errors.As(err, &pollErr), errors.As(err, &remoteErr):
		a.writeError(w, http.StatusBadGateway, err.Error())
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
