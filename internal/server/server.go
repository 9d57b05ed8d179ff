// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"github.com/charmbracelet/log"

	"mcp-meal-vision/internal/job"
	"mcp-meal-vision/internal/models"
	"mcp-meal-vision/internal/notify"
	"mcp-meal-vision/internal/status"
	"mcp-meal-vision/internal/storage"
)

const Version = "1.0.0"

type Config struct {
	Transport string
	Host      string
	Port      int
	// Location interprets get_meals dates. Defaults to time.Local.
	Location *time.Location
}

// Jobs is the background job surface the tools drive.
type Jobs interface {
	Submit(in job.Input) (string, error)
	Status(ctx context.Context, jobID string) (status.View, error)
	Cancel(jobID string) error
	Retry(jobID string) (string, error)
}

// Meals is the record-management side of the health store.
type Meals interface {
	Get(ctx context.Context, id string) (*models.Meal, error)
	Query(ctx context.Context, from, to time.Time, limit int) ([]*models.Meal, error)
	Update(ctx context.Context, meal models.Meal) error
	Delete(ctx context.Context, id string) error
}

// History lists past analysis jobs from the ledger.
type History interface {
	ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)
}

// Notifications lists what is currently shown to the user.
type Notifications interface {
	Active() []notify.Notification
}

type Deps struct {
	Jobs          Jobs
	Meals         Meals
	History       History
	Notifications Notifications
	Logger        *log.Logger
}

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type MealVisionServer struct {
	server     *server.Server
	httpServer *http.Server
	deps       Deps
	config     *Config
	tools      map[string]toolHandler
	logger     *log.Logger
}

func NewMealVisionServer(cfg *Config, deps Deps) (*MealVisionServer, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	s := &MealVisionServer{
		deps:   deps,
		config: cfg,
		logger: deps.Logger.WithPrefix("mcp"),
	}

	// Transport is handled below; the MCP server only carries identity.
	mcpServer, err := server.NewServer(
		nil,
		server.WithServerInfo(protocol.Implementation{
			Name:    "meal-vision",
			Version: Version,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	s.server = mcpServer

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the HTTP routing, mainly for tests.
func (s *MealVisionServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *MealVisionServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("tool failed", "tool", request.Name, "err", err)
		} else {
			s.logger.Debug("tool rejected request", "tool", request.Name, "err", err)
		}
		http.Error(w, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warn("failed to encode response", "tool", request.Name, "err", err)
	}
}

func statusFor(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, errInvalidParams), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrUnknownJob), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrNotRetryable), errors.Is(err, job.ErrDuplicateJob):
		return http.StatusConflict
	case errors.Is(err, job.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *MealVisionServer) Start(ctx context.Context) error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *MealVisionServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *MealVisionServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
