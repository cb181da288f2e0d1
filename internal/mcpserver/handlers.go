package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func handleGetTelemetry(state StateProvider) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		totals := state.StatsTotals()
		k := state.KnobSnapshot()

		summary := map[string]interface{}{
			"dispatches":         totals.Dispatches,
			"enqueue_shared":     totals.EnqueueShared,
			"preemptions":        totals.Preemptions,
			"hard_kicks":         totals.HardKicks,
			"soft_kicks":         totals.SoftKicks,
			"wakeup_events":      totals.WakeupEvents,
			"reenqueue_events":   totals.ReEnqueueEvents,
			"guard_clamps":       totals.GuardClamps,
			"avg_wake_to_run_ns": totals.AvgLatency().Nanoseconds(),
			"slice_ns":           k.SliceNS.Nanoseconds(),
			"preempt_thresh_ns":  k.PreemptThreshNS.Nanoseconds(),
			"batch_slice_ns":     k.BatchSliceNS.Nanoseconds(),
			"timer_interval_ns":  k.TimerIntervalNS.Nanoseconds(),
			"demote_thresh_ns":   k.DemoteThreshNS.Nanoseconds(),
		}

		jsonData, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

func handleGetRegime(state StateProvider) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		k := state.KnobSnapshot()
		summary := map[string]interface{}{
			"regime":         state.Regime().String(),
			"hibernating":    state.Hibernating(),
			"slice_ns":       k.SliceNS.Nanoseconds(),
			"batch_slice_ns": k.BatchSliceNS.Nanoseconds(),
		}
		jsonData, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

func handleGetProfileCacheStats(state StateProvider) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := getArgs(request)
		detail := stringArg(args, "detail", "summary")

		summary := map[string]interface{}{
			"total_entries":     state.ProfileCacheLen(),
			"confident_entries": state.ProfileCacheConfident(),
		}
		if detail == "full" {
			summary["entries"] = state.ProfileCacheEntries()
		}

		jsonData, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
