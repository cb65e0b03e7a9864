// Package server exposes the linchub HTTP API over chi and huma.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"linchub/internal/app"
	"linchub/internal/domain"
	"linchub/internal/hub"
	"linchub/internal/scoring"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"validation failed: sampleSize: must be a positive integer"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the linchub API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server: App is required")
	}
	basePath := cfg.BasePath
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the {code,message,details} envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	hcfg := huma.DefaultConfig("Linchub API", cfg.App.Config.Service.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &service{app: cfg.App}
	if n := cfg.App.Config.Cache.MaxEntries; n > 0 {
		s.fraudCache = expirable.NewLRU[string, domain.FraudReport](n, nil, cfg.App.Config.Cache.TTL.Std())
	}

	registerDocs(router, basePath)
	registerHealth(group, s)
	registerClaims(group, s)
	registerAudit(group, s)
	registerLearning(group, s)
	registerFraud(group, s)
	registerOrchestrate(group, s)
	registerWorkflow(group, s)
	registerActors(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type service struct {
	app        *app.App
	fraudCache *expirable.LRU[string, domain.FraudReport]
}

func (s *service) now() time.Time {
	if s.app.Now != nil {
		return s.app.Now().UTC()
	}
	return time.Now().UTC()
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	}
	var ue domain.UnknownActionError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadRequest, "unknown_action", err.Error(), map[string]any{"action": ue.Action})
	}
	var se *domain.StepFailedError
	if errors.As(err, &se) {
		return newAPIError(http.StatusUnprocessableEntity, "step_failed", err.Error(), map[string]any{
			"runId": se.RunID,
			"step":  se.Step,
		})
	}
	var oe *domain.OrchestrationError
	if errors.As(err, &oe) {
		return newAPIError(http.StatusBadGateway, "orchestration_failed", err.Error(), map[string]any{"action": oe.Action})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrRateLimited):
		return newAPIError(http.StatusTooManyRequests, "rate_limited", err.Error(), nil)
	case errors.Is(err, domain.ErrStorageUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusUnprocessableEntity:
		return "step_failed"
	case http.StatusBadGateway:
		return "orchestration_failed"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, s *service) {
	type healthBody struct {
		Status    string    `json:"status"`
		Service   string    `json:"service"`
		Version   string    `json:"version"`
		Timestamp time.Time `json:"timestamp" format:"date-time"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body healthBody `json:"body"`
	}, error) {
		return &struct {
			Body healthBody `json:"body"`
		}{Body: healthBody{
			Status:    "healthy",
			Service:   s.app.Config.Service.Name,
			Version:   s.app.Config.Service.Version,
			Timestamp: s.now(),
		}}, nil
	})
}

type rawBodyInput struct {
	RawBody []byte `contentType:"application/json"`
}

func registerClaims(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "claims-analyze",
		Method:      http.MethodPost,
		Path:        "/claims/analyze",
		Summary:     "Analyze a rejected claim",
	}, func(ctx context.Context, input *rawBodyInput) (*struct {
		Body domain.ClaimAnalysis `json:"body"`
	}, error) {
		result, err := s.app.Dispatcher.Dispatch(ctx, domain.KindClaimsAnalyzer, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		analysis, ok := result.(*domain.ClaimAnalysis)
		if !ok {
			return nil, handleError(fmt.Errorf("unexpected analyzer result %T", result))
		}
		return &struct {
			Body domain.ClaimAnalysis `json:"body"`
		}{Body: *analysis}, nil
	})
}

type auditResultBody struct {
	domain.AuditResult
	ProcessedAt time.Time `json:"processedAt" format:"date-time"`
}

func registerAudit(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-simulate",
		Method:      http.MethodPost,
		Path:        "/audit/simulate",
		Summary:     "Simulate a CHI compliance audit",
	}, func(ctx context.Context, input *rawBodyInput) (*struct {
		Body auditResultBody `json:"body"`
	}, error) {
		result, err := s.app.Dispatcher.Dispatch(ctx, domain.KindComplianceAuditor, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		res, ok := result.(*domain.AuditResult)
		if !ok {
			return nil, handleError(fmt.Errorf("unexpected auditor result %T", result))
		}
		return &struct {
			Body auditResultBody `json:"body"`
		}{Body: auditResultBody{AuditResult: *res, ProcessedAt: s.now()}}, nil
	})

	type auditListInput struct {
		ProviderID string `query:"providerId" required:"true"`
		Limit      int    `query:"limit" default:"20" minimum:"1" maximum:"200"`
	}
	type auditListBody struct {
		ProviderID  string               `json:"providerId"`
		Audits      []domain.AuditResult `json:"audits"`
		ProcessedAt time.Time            `json:"processedAt" format:"date-time"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "audit-list",
		Method:      http.MethodGet,
		Path:        "/audit/list",
		Summary:     "List recent audit results for a provider",
	}, func(ctx context.Context, input *auditListInput) (*struct {
		Body auditListBody `json:"body"`
	}, error) {
		audits := []domain.AuditResult{}
		if s.app.DB != nil {
			list, err := s.app.Repo.ListAuditResults(ctx, input.ProviderID, input.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			audits = list
		}
		return &struct {
			Body auditListBody `json:"body"`
		}{Body: auditListBody{ProviderID: input.ProviderID, Audits: audits, ProcessedAt: s.now()}}, nil
	})
}

type learningPathBody struct {
	domain.LearningPath
	ProcessedAt time.Time `json:"processedAt" format:"date-time"`
}

func registerLearning(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "learning-path",
		Method:      http.MethodPost,
		Path:        "/learning/path",
		Summary:     "Generate a certification learning path",
	}, func(ctx context.Context, input *rawBodyInput) (*struct {
		Body learningPathBody `json:"body"`
	}, error) {
		result, err := s.app.Dispatcher.Dispatch(ctx, domain.KindLearningPathGenerator, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		path, ok := result.(*domain.LearningPath)
		if !ok {
			return nil, handleError(fmt.Errorf("unexpected generator result %T", result))
		}
		return &struct {
			Body learningPathBody `json:"body"`
		}{Body: learningPathBody{LearningPath: *path, ProcessedAt: s.now()}}, nil
	})
}

// FraudClaim is one claim of a batch fraud analysis request.
type FraudClaim struct {
	ClaimID    string   `json:"claimId"`
	ErrorCodes []string `json:"errorCodes,omitempty"`
}

type fraudInput struct {
	Body struct {
		Claims []FraudClaim `json:"claims" minItems:"1"`
	} `json:"body"`
}

type fraudBody struct {
	domain.FraudReport
	ProcessedAt time.Time `json:"processedAt" format:"date-time"`
}

func registerFraud(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "fraud-analyze",
		Method:      http.MethodPost,
		Path:        "/fraud/analyze",
		Summary:     "Analyze a claim batch for fraud patterns",
	}, func(ctx context.Context, input *fraudInput) (*struct {
		Body fraudBody `json:"body"`
	}, error) {
		key := ""
		if s.fraudCache != nil {
			if data, err := json.Marshal(input.Body.Claims); err == nil {
				key = string(data)
				if report, ok := s.fraudCache.Get(key); ok {
					return &struct {
						Body fraudBody `json:"body"`
					}{Body: fraudBody{FraudReport: report, ProcessedAt: s.now()}}, nil
				}
			}
		}
		samples := make([]domain.AuditSample, 0, len(input.Body.Claims))
		for _, c := range input.Body.Claims {
			sample := domain.AuditSample{ClaimID: c.ClaimID, HasErrors: len(c.ErrorCodes) > 0}
			for _, code := range c.ErrorCodes {
				sample.Errors = append(sample.Errors, domain.AuditSampleError{Code: code})
			}
			samples = append(samples, sample)
		}
		report := scoring.AnalyzeFraud(samples)
		if s.fraudCache != nil && key != "" {
			s.fraudCache.Add(key, report)
		}
		return &struct {
			Body fraudBody `json:"body"`
		}{Body: fraudBody{FraudReport: report, ProcessedAt: s.now()}}, nil
	})
}

func registerOrchestrate(api huma.API, s *service) {
	type orchestrateBody struct {
		hub.Response
		ProcessedAt time.Time `json:"processedAt" format:"date-time"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "orchestrate",
		Method:      http.MethodPost,
		Path:        "/orchestrate",
		Summary:     "Route an action envelope through the orchestration hub",
	}, func(ctx context.Context, input *rawBodyInput) (*struct {
		Body orchestrateBody `json:"body"`
	}, error) {
		result, err := s.app.Dispatcher.Dispatch(ctx, domain.KindOrchestrator, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		resp, ok := result.(hub.Response)
		if !ok {
			return nil, handleError(fmt.Errorf("unexpected hub result %T", result))
		}
		return &struct {
			Body orchestrateBody `json:"body"`
		}{Body: orchestrateBody{Response: resp, ProcessedAt: s.now()}}, nil
	})
}

func registerWorkflow(api huma.API, s *service) {
	type workflowInput struct {
		RunID string `path:"runId"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "workflow-status",
		Method:      http.MethodGet,
		Path:        "/workflow/status/{runId}",
		Summary:     "Durable run status",
	}, func(ctx context.Context, input *workflowInput) (*struct {
		Body domain.TaskRun `json:"body"`
	}, error) {
		taskRun, err := s.app.Runs.Lookup(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskRun `json:"body"`
		}{Body: *taskRun}, nil
	})
}

func registerActors(api huma.API, s *service) {
	type actorListBody struct {
		Actors []domain.ActorInstance `json:"actors"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "actors-list",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actor instances",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body actorListBody `json:"body"`
	}, error) {
		actors, err := s.app.Actors.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if actors == nil {
			actors = []domain.ActorInstance{}
		}
		return &struct {
			Body actorListBody `json:"body"`
		}{Body: actorListBody{Actors: actors}}, nil
	})

	type actorInput struct {
		Kind string `path:"kind"`
		Key  string `path:"key"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "actor-state",
		Method:      http.MethodGet,
		Path:        "/actors/{kind}/{key}",
		Summary:     "Actor instance state",
	}, func(ctx context.Context, input *actorInput) (*struct {
		Body domain.ActorInstance `json:"body"`
	}, error) {
		kind, err := domain.ParseActorKind(input.Kind)
		if err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
		}
		inst, err := s.app.Actors.Get(ctx, kind, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActorInstance `json:"body"`
		}{Body: inst}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join("/", basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Linchub API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({url: %q, dom_id: "#swagger-ui"});
      };
    </script>
  </body>
</html>`, specURL)
}
