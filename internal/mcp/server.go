// Package mcp exposes read-only run status over the Model Context Protocol
// so supervising agents can inspect sessions, plans, and drift without
// touching the store directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mfinley/stepflow/internal/models"
	"github.com/mfinley/stepflow/internal/plan"
	"github.com/mfinley/stepflow/internal/store"
)

// Server wraps the stepflow data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("stepflow", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.sessionStatusTool())
	srv.AddTool(s.planStepsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// stepflow_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("stepflow_list_sessions",
		mcp.WithDescription("List orchestration sessions. Returns a JSON array with id, plan_id, status (in_progress/completed/failed), current_step, progress counts, and last_updated_at."),
		mcp.WithString("plan", mcp.Description("Filter by plan id")),
		mcp.WithString("status", mcp.Description("Status filter: in_progress, completed, failed")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionListFilter{
		PlanID: request.GetString("plan", ""),
		Status: models.SessionStatus(request.GetString("status", "")),
	}
	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID             string `json:"id"`
		PlanID         string `json:"plan_id"`
		Status         string `json:"status"`
		CurrentStep    string `json:"current_step,omitempty"`
		StepsCompleted int    `json:"steps_completed"`
		StepsRemaining int    `json:"steps_remaining"`
		LastUpdatedAt  string `json:"last_updated_at"`
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut{
			ID:             sess.ID,
			PlanID:         sess.PlanID,
			Status:         string(sess.Status),
			CurrentStep:    sess.CurrentStep,
			StepsCompleted: len(sess.StepsCompleted),
			StepsRemaining: len(sess.StepsRemaining),
			LastUpdatedAt:  sess.LastUpdatedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// stepflow_session_status
func (s *Server) sessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("stepflow_session_status",
		mcp.WithDescription("Get detailed status for one session: step sets, failure details if any, and the tracking tickets opened for its steps."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleSessionStatus
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}

	tickets, _ := s.store.ListTickets(ctx, sess.ID)
	ticketsOut := make([]map[string]any, len(tickets))
	for i, tk := range tickets {
		ticketsOut[i] = map[string]any{
			"id":          tk.ID,
			"step_anchor": tk.StepAnchor,
			"title":       tk.Title,
			"status":      string(tk.Status),
		}
	}

	result := map[string]any{
		"session": map[string]any{
			"id":              sess.ID,
			"plan_id":         sess.PlanID,
			"workspace_path":  sess.WorkspacePath,
			"status":          string(sess.Status),
			"current_step":    sess.CurrentStep,
			"steps_completed": sess.StepsCompleted,
			"steps_remaining": sess.StepsRemaining,
			"created_at":      sess.CreatedAt.Format(time.RFC3339),
			"last_updated_at": sess.LastUpdatedAt.Format(time.RFC3339),
		},
		"tickets": ticketsOut,
	}
	if sess.Status == models.SessionStatusFailed {
		result["failure"] = map[string]any{
			"at_step": sess.FailedAtStep,
			"reason":  sess.FailureReason,
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// stepflow_plan_steps
func (s *Server) planStepsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("stepflow_plan_steps",
		mcp.WithDescription("Load a plan document and return its ordered steps with anchors, dependencies, expected artifacts, and verification criteria. Reports validation problems instead of steps when the plan is malformed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the plan YAML file")),
	)
	return tool, s.handlePlanSteps
}

func (s *Server) handlePlanSteps(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}

	p, err := plan.Load(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load plan: %v", err)), nil
	}

	type stepOut struct {
		Anchor       string   `json:"anchor"`
		Title        string   `json:"title"`
		DependsOn    []string `json:"depends_on,omitempty"`
		Artifacts    []string `json:"artifacts,omitempty"`
		Verification []string `json:"verification,omitempty"`
	}

	steps := make([]stepOut, len(p.Steps))
	for i, st := range p.Steps {
		steps[i] = stepOut{
			Anchor:       st.Anchor,
			Title:        st.Title,
			DependsOn:    st.DependsOn,
			Artifacts:    st.Artifacts,
			Verification: st.Verification,
		}
	}

	result := map[string]any{
		"plan": map[string]any{
			"id":    p.ID,
			"title": p.Title,
		},
		"steps": steps,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
