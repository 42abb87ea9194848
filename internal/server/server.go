package server

import (
	"bytes"
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

	"queryline/internal/config"
	"queryline/internal/domain"
	"queryline/internal/engine"
	"queryline/internal/engine/identity"
	"queryline/internal/repo"
)

// Config for the HTTP API handler. BaseContext, when set, bounds the
// lifetime of background workers such as the webhook dispatcher.
type Config struct {
	Engine      engine.Engine
	BasePath    string
	Auth        AuthConfig
	BaseContext context.Context
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid review state transition completed -> pending:toxicology"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"completed\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Queryline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Queryline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	ident := identity.Service{DB: cfg.Engine.DB}

	registerDocs(router, basePath)
	registerHealth(group)
	registerReviews(group, cfg.Engine)
	registerQueries(group, cfg.Engine, ident)
	registerEvents(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerMe(group, ident)
	registerOpenAPI(router, api, basePath)

	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	startWebhookDispatcher(baseCtx, cfg.Engine)

	return router, nil
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

// handleError maps engine errors to the API envelope. The typed domain errors
// carry the structure, so mapping is by type, not message sniffing.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var it *domain.InvalidTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": it.From.String(),
			"to":   it.To.String(),
		})
	}
	var qr *domain.QueryAlreadyResolvedError
	if errors.As(err, &qr) {
		return newAPIError(http.StatusConflict, "query_already_resolved", err.Error(), map[string]any{"query_id": qr.QueryID})
	}
	var ac *domain.AlreadyCompletedError
	if errors.As(err, &ac) {
		return newAPIError(http.StatusConflict, "already_completed", err.Error(), map[string]any{"review_id": ac.ReviewID})
	}
	if errors.Is(err, domain.ErrConcurrentModification) {
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), map[string]any{"retryable": true})
	}
	var nm identity.NotAMemberError
	if errors.As(err, &nm) {
		return newAPIError(http.StatusForbidden, "not_a_member", err.Error(), map[string]any{"team": string(nm.Team)})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

// requireTeam checks that the caller may act for the given team. A principal
// with a team claim must match it; otherwise membership rows decide. Actors
// with no recorded memberships are not restricted, which keeps single-user
// and bootstrap setups working without seeding.
func requireTeam(ctx context.Context, ident identity.Service, team domain.TeamID) error {
	principal, ok := principalFromContext(ctx)
	if !ok || principal.ActorID == "" {
		return errors.New("authentication required")
	}
	if principal.Team != "" {
		if principal.Team != string(team) {
			return identity.NotAMemberError{ActorID: principal.ActorID, Team: team}
		}
		return nil
	}
	teams, err := ident.TeamsOf(ctx, principal.ActorID)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		return nil
	}
	for _, t := range teams {
		if t == team {
			return nil
		}
	}
	return identity.NotAMemberError{ActorID: principal.ActorID, Team: team}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Queryline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-review",
		Method:        http.MethodPost,
		Path:          "/reviews",
		Summary:       "Open review",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateReviewRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rev, err := e.OpenReview(ctx, engine.OpenReviewOptions{
			ID:         input.Body.ID,
			Title:      input.Body.Title,
			Originator: input.Body.Originator,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(rev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reviews",
		Method:      http.MethodGet,
		Path:        "/reviews",
		Summary:     "List reviews",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State           string `query:"state"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		items, err := e.Repo.ListReviews(ctx, repo.ReviewFilters{
			State:           input.State,
			Limit:           limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: mapReviews(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-review",
		Method:      http.MethodGet,
		Path:        "/reviews/{review_id}",
		Summary:     "Get review",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReviewID string `path:"review_id"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		rev, err := e.Repo.GetReview(ctx, input.ReviewID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountQueriesByStatus(ctx, rev.ID)
		if err != nil {
			return nil, handleError(err)
		}
		body := reviewResponse(rev)
		body.QueryCounts = counts
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-review-owner",
		Method:      http.MethodGet,
		Path:        "/reviews/{review_id}/owner",
		Summary:     "Who must act next",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReviewID string `path:"review_id"`
	}) (*struct {
		Body OwnerResponse `json:"body"`
	}, error) {
		st, err := e.CurrentOwner(ctx, input.ReviewID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OwnerResponse `json:"body"`
		}{Body: OwnerResponse{
			ReviewID: input.ReviewID,
			Owner:    st.Owner(),
			State:    st.String(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-review",
		Method:      http.MethodPost,
		Path:        "/reviews/{review_id}/complete",
		Summary:     "Complete originator review",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ReviewID string `path:"review_id"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rev, err := e.CompleteReview(ctx, input.ReviewID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(rev)}, nil
	})
}

func registerQueries(api huma.API, e engine.Engine, ident identity.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "raise-query",
		Method:        http.MethodPost,
		Path:          "/reviews/{review_id}/queries",
		Summary:       "Raise blocking query",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ReviewID string            `path:"review_id"`
		Body     RaiseQueryRequest `json:"body"`
	}) (*struct {
		Body QueryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.AssignedTo == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assigned_to is required", nil)
		}
		if input.Body.Text == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raisedBy := input.Body.RaisedBy
		if raisedBy != "" && raisedBy != config.OriginatorName {
			if err := requireTeam(ctx, ident, domain.TeamID(raisedBy)); err != nil {
				return nil, handleError(err)
			}
		}
		q, err := e.RaiseQuery(ctx, engine.RaiseQueryOptions{
			ReviewID:   input.ReviewID,
			RaisedBy:   domain.TeamID(raisedBy),
			AssignedTo: domain.TeamID(input.Body.AssignedTo),
			Text:       input.Body.Text,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueryResponse `json:"body"`
		}{Body: queryResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-queries",
		Method:      http.MethodGet,
		Path:        "/reviews/{review_id}/queries",
		Summary:     "List queries on a review",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReviewID string `path:"review_id"`
		Status   string `query:"status" enum:"open,resolved,"`
	}) (*struct {
		Body []QueryResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetReview(ctx, input.ReviewID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListQueries(ctx, input.ReviewID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QueryResponse `json:"body"`
		}{Body: mapQueries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-query",
		Method:      http.MethodPost,
		Path:        "/queries/{query_id}/resolve",
		Summary:     "Resolve query",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		QueryID string              `path:"query_id"`
		Body    ResolveQueryRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.Repo.GetQuery(ctx, input.QueryID)
		if err != nil {
			return nil, handleError(err)
		}
		resolvedBy := input.Body.ResolvedBy
		if resolvedBy == "" {
			resolvedBy = string(q.AssignedTo)
		}
		if err := requireTeam(ctx, ident, domain.TeamID(resolvedBy)); err != nil {
			return nil, handleError(err)
		}
		rev, err := e.ResolveQuery(ctx, engine.ResolveQueryOptions{
			QueryID:    input.QueryID,
			ResolvedBy: resolvedBy,
			Resolution: input.Body.Resolution,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(rev)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit    int    `query:"limit"`
		Cursor   int64  `query:"cursor"`
		ReviewID string `query:"review_id"`
		Type     string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.ReviewID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-team-member",
		Method:        http.MethodPost,
		Path:          "/teams/{team}/members",
		Summary:       "Add team member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Team string               `path:"team"`
		Body AddTeamMemberRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if e.Config == nil || !e.Config.KnownTeam(input.Team) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown team %q", input.Team), nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		now := time.Now().UTC().Format(time.RFC3339)
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.AssignTeam(ctx, tx, input.Body.ActorID, domain.TeamID(input.Team), now); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: domain.TeamMember{
			ActorID:   input.Body.ActorID,
			Team:      domain.TeamID(input.Team),
			CreatedAt: now,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team-members",
		Method:      http.MethodGet,
		Path:        "/teams/{team}/members",
		Summary:     "List team members",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Team string `path:"team"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if e.Config == nil || !e.Config.KnownTeam(input.Team) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown team %q", input.Team), nil)
		}
		actors, err := e.Repo.TeamRoster(ctx, domain.TeamID(input.Team))
		if err != nil {
			return nil, handleError(err)
		}
		if actors == nil {
			actors = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: actors}, nil
	})
}

func registerMe(api huma.API, ident identity.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		teams, err := ident.TeamsOf(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if teams == nil {
			teams = []domain.TeamID{}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"actor_id": principal.ActorID,
			"team":     principal.Team,
			"teams":    teams,
			"source":   principal.Source,
		}}, nil
	})
}
