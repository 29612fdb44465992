// Package handlers holds the built-in command handlers and the explicit table
// binding manifest handler keys to Go functions. New endpoints are added by
// dropping a manifest that references a table entry; the table itself is the
// only place handler code is registered.
package handlers

import (
	"context"
	"fmt"

	"github.com/lanops/lanagent/internal/executor"
	"github.com/lanops/lanagent/internal/history"
	"github.com/lanops/lanagent/internal/registry"
	"github.com/lanops/lanagent/internal/response"
	"github.com/lanops/lanagent/internal/sysinfo"
	"github.com/lanops/lanagent/pkg/logger"
)

// Deps carries the collaborators the built-in handlers close over. Injected
// once at startup; handlers hold no other state.
type Deps struct {
	Exec *executor.Executor
	Sys  *sysinfo.Provider
	Hist *history.Store

	// AgentLogFile resolves the current agent log path for read_logs.
	AgentLogFile func() string

	// ShutdownCommand and ScreenshotCommand are the host tools the respective
	// handlers spawn through the executor.
	ShutdownCommand   []string
	ScreenshotCommand []string
}

// Table returns the handler key → function map used by registry discovery.
func Table(d Deps) map[string]registry.HandlerFunc {
	return map[string]registry.HandlerFunc{
		"execute":        d.handleExecute,
		"kill":           d.handleKill,
		"list_processes": d.handleListProcesses,
		"popup":          d.handlePopup,
		"test_command":   d.handleTestCommand,
		"shutdown":       d.handleShutdown,
		"screenshot":     d.handleScreenshot,
		"get_specs":      d.handleGetSpecs,
		"read_logs":      d.handleReadLogs,
		"history":        d.handleHistory,
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// handleExecute spawns a process and returns immediately with its record in
// running state. Completion is tracked by the executor out-of-band.
func (d Deps) handleExecute(ctx context.Context, args map[string]any) (*response.Response, error) {
	name := stringArg(args, "command")
	argv := stringSliceArg(args, "args")

	rec, err := d.Exec.Execute(name, argv)
	if err != nil {
		if executor.IsNotAllowed(err) {
			return response.ValidationError("command"), nil
		}
		return nil, err
	}
	return response.ProcessInfo("Process started", []executor.ProcessRecord{rec}), nil
}

func (d Deps) handleKill(ctx context.Context, args map[string]any) (*response.Response, error) {
	pid, ok := intArg(args, "pid")
	if !ok {
		return response.ValidationError("pid"), nil
	}
	if err := d.Exec.Kill(pid); err != nil {
		if executor.IsNotFound(err) {
			return response.NotFound(fmt.Sprintf("process %d", pid)), nil
		}
		return nil, err
	}
	return response.Success(fmt.Sprintf("Kill signal sent to pid %d", pid), nil), nil
}

func (d Deps) handleListProcesses(ctx context.Context, args map[string]any) (*response.Response, error) {
	procs := d.Exec.List()
	return response.ProcessInfo(fmt.Sprintf("%d process(es) tracked", len(procs)), procs), nil
}

// handlePopup acknowledges the message; the actual window rendering belongs to
// the host-side presentation tool, outside this core.
func (d Deps) handlePopup(ctx context.Context, args map[string]any) (*response.Response, error) {
	msg := stringArg(args, "message")
	logger.WithField("message", msg).Info("popup requested")
	return response.Success("Command executed", map[string]any{"message": msg}), nil
}

func (d Deps) handleTestCommand(ctx context.Context, args map[string]any) (*response.Response, error) {
	msg := stringArg(args, "message")
	return response.Success("Command executed", map[string]any{"echo": msg}), nil
}

func (d Deps) handleShutdown(ctx context.Context, args map[string]any) (*response.Response, error) {
	cmd := d.ShutdownCommand
	if len(cmd) == 0 {
		cmd = []string{"shutdown", "-h", "now"}
	}
	rec, err := d.Exec.Execute(cmd[0], cmd[1:])
	if err != nil {
		return nil, err
	}
	return response.ProcessInfo("Shutdown initiated", []executor.ProcessRecord{rec}), nil
}

func (d Deps) handleScreenshot(ctx context.Context, args map[string]any) (*response.Response, error) {
	if len(d.ScreenshotCommand) == 0 {
		return nil, fmt.Errorf("no screenshot tool configured")
	}
	rec, err := d.Exec.Execute(d.ScreenshotCommand[0], d.ScreenshotCommand[1:])
	if err != nil {
		return nil, err
	}
	return response.ProcessInfo("Screenshot capture started", []executor.ProcessRecord{rec}), nil
}

func (d Deps) handleGetSpecs(ctx context.Context, args map[string]any) (*response.Response, error) {
	return response.SystemInfo("System specs retrieved", d.Sys.Snapshot()), nil
}

func (d Deps) handleReadLogs(ctx context.Context, args map[string]any) (*response.Response, error) {
	path := ""
	if d.AgentLogFile != nil {
		path = d.AgentLogFile()
	}
	if path == "" {
		return response.Logs([]string{}), nil
	}
	n := 200
	if v, ok := intArg(args, "tail"); ok && v > 0 && v <= 5000 {
		n = v
	}
	lines, err := TailLines(path, n, 256*1024)
	if err != nil {
		return nil, fmt.Errorf("read agent log: %w", err)
	}
	return response.Logs(lines), nil
}

func (d Deps) handleHistory(ctx context.Context, args map[string]any) (*response.Response, error) {
	if d.Hist == nil {
		return response.Success("Dispatch history disabled", nil), nil
	}
	n, _ := intArg(args, "limit")
	entries, err := d.Hist.Recent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return response.Success("Dispatch history retrieved", map[string]any{"entries": entries}), nil
}
