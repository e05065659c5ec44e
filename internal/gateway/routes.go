package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/loom/internal/compile"
	"github.com/soyeahso/loom/internal/registry"
	"github.com/soyeahso/loom/internal/resolve"
)

// safeConfigPrefixes lists config path prefixes that can be read and
// written via RPC. All other paths are denied by default (allowlist).
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.mode",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.controlUi",
	"logging",
	"workflow",
	"registry.backend",
	"dispatch",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// workflowRunTimeout bounds a whole workflow.run invocation. Individual steps
// carry their own timeout through the dispatcher.
const workflowRunTimeout = 30 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
	s.Handle("compile.run", s.rpcCompileRun)
	s.Handle("workflow.run", s.rpcWorkflowRun)
	s.Handle("workflow.recent", s.rpcWorkflowRecent)
	s.Handle("agent.list", s.rpcAgentList)
	s.Handle("agent.resolve", s.rpcAgentResolve)
	s.Handle("agent.promote", s.rpcAgentPromote)
	s.Handle("agent.delete", s.rpcAgentDelete)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	})
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return
	}

	s.mu.RLock()
	raw := s.configRaw
	s.mu.RUnlock()

	path, err := parseConfigPathForRPC(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	val, ok := getValueAtPathRPC(raw, path)
	if !ok {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "cannot modify config path: "+p.Key)
		return
	}

	path, err := parseConfigPathForRPC(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	s.mu.Lock()
	setValueAtPathRPC(s.configRaw, path, p.Value)
	s.mu.Unlock()

	rc.Respond(map[string]any{"key": p.Key, "value": p.Value})
}

type compileParams struct {
	Source string `json:"source"`
}

// rpcCompileRun compiles workflow source without executing it. Used by
// editor tooling for validation; the registry is left untouched.
func (s *Server) rpcCompileRun(rc *RequestContext) {
	if s.compiler == nil {
		rc.RespondError("unavailable", "compiler not configured")
		return
	}

	var p compileParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Source == "" {
		rc.RespondError("invalid_params", "source is required")
		return
	}

	plan, err := s.compiler.Compile(p.Source)
	if err != nil {
		rc.RespondError("compile_error", err.Error())
		return
	}

	rc.Respond(map[string]any{"plan": plan})
}

type workflowRunParams struct {
	Source     string `json:"source"`
	SourcePath string `json:"sourcePath,omitempty"`
}

// rpcWorkflowRun compiles and executes workflow source, streaming a
// workflow.step event to the caller after each completed step.
func (s *Server) rpcWorkflowRun(rc *RequestContext) {
	if s.compiler == nil || s.dispatcher == nil {
		rc.RespondError("unavailable", "workflow execution not configured")
		return
	}

	var p workflowRunParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Source == "" {
		rc.RespondError("invalid_params", "source is required")
		return
	}

	plan, err := s.compiler.Compile(p.Source)
	if err != nil {
		rc.RespondError("compile_error", err.Error())
		return
	}

	var runID string
	if s.runs != nil {
		runID, err = s.runs.Start(p.SourcePath, len(plan.Steps))
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to record run start")
		}
	}

	if s.agents != nil {
		if err := compile.RecordUsage(plan, s.agents.Store()); err != nil {
			s.log.Warn().Err(err).Msg("failed to record agent usage")
		}
	}

	runner := compile.NewRunner(s.dispatcher, s.log)
	runner.OnStep = func(res compile.StepResult) {
		seq := s.eventSeq.Add(1)
		rc.Client.SendEvent("workflow.step", map[string]any{
			"requestId": rc.Frame.ID,
			"runId":     runID,
			"step":      res,
		}, seq)
	}

	ctx, cancel := context.WithTimeout(context.Background(), workflowRunTimeout)
	defer cancel()

	results, runErr := runner.Run(ctx, plan)

	if s.runs != nil && runID != "" {
		status := registry.RunComplete
		if runErr != nil {
			status = registry.RunFailed
		}
		if err := s.runs.Finish(runID, status); err != nil {
			s.log.Warn().Err(err).Str("run", runID).Msg("failed to record run finish")
		}
	}

	if runErr != nil {
		rc.RespondError("run_error", runErr.Error())
		return
	}

	rc.Respond(map[string]any{
		"runId":   runID,
		"planId":  plan.ID,
		"results": results,
	})
}

type workflowRecentParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) rpcWorkflowRecent(rc *RequestContext) {
	if s.runs == nil {
		rc.Respond(map[string]any{"runs": []any{}})
		return
	}

	var p workflowRecentParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}

	runs, err := s.runs.Recent(p.Limit)
	if err != nil {
		rc.RespondError("storage_error", err.Error())
		return
	}
	rc.Respond(map[string]any{"runs": runs})
}

func (s *Server) rpcAgentList(rc *RequestContext) {
	if s.resolver == nil {
		rc.RespondError("unavailable", "resolver not configured")
		return
	}

	agents, err := s.resolver.List()
	if err != nil {
		rc.RespondError("storage_error", err.Error())
		return
	}
	rc.Respond(map[string]any{"agents": agents})
}

type agentNameParams struct {
	Name string `json:"name"`
}

func (s *Server) rpcAgentResolve(rc *RequestContext) {
	if s.resolver == nil {
		rc.RespondError("unavailable", "resolver not configured")
		return
	}

	var p agentNameParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Name == "" {
		rc.RespondError("invalid_params", "name is required")
		return
	}

	desc, err := s.resolver.Resolve(p.Name)
	if err != nil {
		var unknown *resolve.UnknownAgentError
		if errors.As(err, &unknown) {
			rc.RespondError("not_found", err.Error())
			return
		}
		rc.RespondError("storage_error", err.Error())
		return
	}
	rc.Respond(map[string]any{"agent": desc})
}

type agentPromoteParams struct {
	Name        string `json:"name"`
	NewName     string `json:"newName,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) rpcAgentPromote(rc *RequestContext) {
	if s.agents == nil {
		rc.RespondError("unavailable", "registry not configured")
		return
	}

	var p agentPromoteParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Name == "" {
		rc.RespondError("invalid_params", "name is required")
		return
	}

	promoted, err := s.agents.Promote(p.Name, p.NewName, p.Description)
	if err != nil {
		var invalid *registry.InvalidNameError
		if errors.As(err, &invalid) {
			rc.RespondError("invalid_params", err.Error())
			return
		}
		rc.RespondError("storage_error", err.Error())
		return
	}
	if !promoted {
		rc.RespondError("not_found", "no temporary agent named "+p.Name)
		return
	}
	rc.Respond(map[string]any{"name": p.Name, "promoted": true})
}

type agentDeleteParams struct {
	Name      string `json:"name"`
	Temporary bool   `json:"temporary,omitempty"`
}

func (s *Server) rpcAgentDelete(rc *RequestContext) {
	if s.agents == nil {
		rc.RespondError("unavailable", "registry not configured")
		return
	}

	var p agentDeleteParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Name == "" {
		rc.RespondError("invalid_params", "name is required")
		return
	}

	var deleted bool
	var err error
	if p.Temporary {
		deleted, err = s.agents.DeleteTemporary(p.Name)
	} else {
		deleted, err = s.agents.Delete(p.Name)
	}
	if err != nil {
		var invalid *registry.InvalidNameError
		if errors.As(err, &invalid) {
			rc.RespondError("invalid_params", err.Error())
			return
		}
		rc.RespondError("storage_error", err.Error())
		return
	}
	if !deleted {
		rc.RespondError("not_found", "no such agent: "+p.Name)
		return
	}
	rc.Respond(map[string]any{"name": p.Name, "deleted": true})
}

// Helpers that mirror config.ParseConfigPath / GetValueAtPath without importing config
// to avoid circular dependencies — they operate on raw maps only.

func parseConfigPathForRPC(raw string) ([]string, error) {
	// Delegate to config package logic inline (simple split).
	if raw == "" {
		return nil, ErrEmptyConfigPath
	}
	var parts []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '.' {
			if i == start {
				return nil, ErrEmptyConfigPath
			}
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	return parts, nil
}

func getValueAtPathRPC(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setValueAtPathRPC(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}
