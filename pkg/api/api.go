// Package api implements the REST surface of the Kabap execution
// service: script CRUD plus inline and stored-script execution. Every
// execution gets its own engine instance, so requests never share
// variables or extensions.
package api

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/kabaplang/kabap-go/pkg/config"
	extfile "github.com/kabaplang/kabap-go/pkg/ext/file"
	extnet "github.com/kabaplang/kabap-go/pkg/ext/net"
	"github.com/kabaplang/kabap-go/pkg/runtime"
	"github.com/kabaplang/kabap-go/pkg/store"
)

// Server is the Kabap REST API server.
type Server struct {
	app   *fiber.App
	store *store.Store
	cfg   config.Config
}

// New creates a server around the given store and configuration.
func New(cfg config.Config, s *store.Store) *Server {
	srv := &Server{store: s, cfg: cfg}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(logger.New())

	app.Post("/v1/execute", srv.executeInline)

	app.Put("/v1/scripts/:script", srv.putScript)
	app.Get("/v1/scripts/:script", srv.getScript)
	app.Get("/v1/scripts", srv.listScripts)
	app.Delete("/v1/scripts/:script", srv.deleteScript)

	app.Post("/v1/scripts/:script/executions", srv.executeScript)
	app.Get("/v1/scripts/:script/executions", srv.listExecutions)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// newEngine builds an engine with the service's opted-in capability
// extensions registered. Scale and watchdog are not set here: run
// applies them after Script, which resets both to the engine defaults.
func (s *Server) newEngine() *runtime.Engine {
	e := runtime.New()
	for _, name := range s.cfg.Extensions {
		switch name {
		case "file":
			e.ExtensionAdd(extfile.New())
		case "net":
			e.ExtensionAdd(extnet.New(nil))
		}
	}
	return e
}

type executeRequest struct {
	Source    string            `json:"source"`
	Variables map[string]string `json:"variables"`
	Scale     *int              `json:"scale"`
	Watchdog  *int              `json:"watchdog"`
}

type executeResponse struct {
	Success   bool              `json:"success"`
	Stdout    string            `json:"stdout"`
	Stderr    string            `json:"stderr,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

func apiError(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

func (s *Server) executeInline(c *fiber.Ctx) error {
	var req executeRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body: "+err.Error())
	}
	if req.Source == "" {
		return apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "source is required")
	}

	resp := s.run(req)
	return c.JSON(resp)
}

func (s *Server) putScript(c *fiber.Ctx) error {
	var req struct {
		Source string `json:"source"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body: "+err.Error())
	}
	if req.Source == "" {
		return apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "source is required")
	}

	// Parse up front so a stored script is always loadable.
	probe := s.newEngine()
	if !probe.Script(req.Source) {
		return apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", probe.Stderr)
	}

	sc := s.store.PutScript(c.Params("script"), req.Source)
	return c.JSON(sc)
}

func (s *Server) getScript(c *fiber.Ctx) error {
	sc, ok := s.store.GetScript(c.Params("script"))
	if !ok {
		return apiError(c, http.StatusNotFound, "NOT_FOUND", "script not found")
	}
	return c.JSON(sc)
}

func (s *Server) listScripts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"scripts": s.store.ListScripts()})
}

func (s *Server) deleteScript(c *fiber.Ctx) error {
	if !s.store.DeleteScript(c.Params("script")) {
		return apiError(c, http.StatusNotFound, "NOT_FOUND", "script not found")
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) executeScript(c *fiber.Ctx) error {
	name := c.Params("script")
	sc, ok := s.store.GetScript(name)
	if !ok {
		return apiError(c, http.StatusNotFound, "NOT_FOUND", "script not found")
	}

	var req executeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apiError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body: "+err.Error())
		}
	}
	req.Source = sc.Source

	start := time.Now().UTC()
	resp := s.run(req)

	state := store.ExecutionSucceeded
	if !resp.Success {
		state = store.ExecutionFailed
	}
	ex := s.store.AddExecution(name, &store.Execution{
		State:     state,
		Stdout:    resp.Stdout,
		Stderr:    resp.Stderr,
		Variables: resp.Variables,
		StartTime: start,
		EndTime:   time.Now().UTC(),
	})

	return c.JSON(ex)
}

func (s *Server) listExecutions(c *fiber.Ctx) error {
	name := c.Params("script")
	if _, ok := s.store.GetScript(name); !ok {
		return apiError(c, http.StatusNotFound, "NOT_FOUND", "script not found")
	}
	return c.JSON(fiber.Map{"executions": s.store.ListExecutions(name)})
}

// run executes one request on a fresh engine.
func (s *Server) run(req executeRequest) executeResponse {
	e := s.newEngine()

	if !e.Script(req.Source) {
		return executeResponse{Stderr: e.Stderr}
	}

	if req.Scale != nil {
		e.ScaleSet(*req.Scale)
	} else if s.cfg.Scale >= 0 {
		e.ScaleSet(s.cfg.Scale)
	}
	if req.Watchdog != nil {
		e.WatchdogSet(*req.Watchdog)
	} else if s.cfg.Watchdog >= 0 {
		e.WatchdogSet(s.cfg.Watchdog)
	}
	for k, v := range req.Variables {
		e.VariableSet(k, v)
	}

	ok := e.Run()
	return executeResponse{
		Success:   ok,
		Stdout:    e.Stdout,
		Stderr:    e.Stderr,
		Variables: e.VariableStoreGet(),
	}
}
