// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/replication"
)

// OutputFormat defines the output format type.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// OperationResult holds the result of an operation.
type OperationResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// FormatOperationResult formats an operation result in the specified format.
func FormatOperationResult(result *OperationResult, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(result)
	case FormatYAML:
		return formatYAML(result)
	default:
		return formatResultText(result)
	}
}

// FormatError formats an error message in the specified format.
func FormatError(err error, format OutputFormat) string {
	return FormatOperationResult(&OperationResult{Success: false, Error: err.Error()}, format)
}

// Format renders a command result. JSON and YAML marshal v directly; text
// uses a readable layout for the types commands return.
func Format(v any, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(v)
	case FormatYAML:
		return formatYAML(v)
	default:
		return formatText(v)
	}
}

func formatResultText(result *OperationResult) string {
	if result.Success {
		if result.Message != "" {
			return result.Message + "\n"
		}
		return "Operation completed successfully\n"
	}
	return fmt.Sprintf("Error: %s\n", result.Error)
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": \"failed to marshal JSON: %s\"}\n", err)
	}
	return string(data) + "\n"
}

func formatYAML(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: failed to marshal YAML: %s\n", err)
	}
	return string(data)
}

func formatText(v any) string {
	var b strings.Builder
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return "No stores found\n"
		}
		for _, s := range t {
			b.WriteString(s + "\n")
		}
	case *common.StoreInfo:
		fmt.Fprintf(&b, "Created store '%s' (%s)\n", t.Name, t.ID)
	case *replication.PullResult:
		mode := "full"
		if t.Patch {
			mode = "patch"
		}
		fmt.Fprintf(&b, "Pulled '%s': %s, %d chunk(s), %d record(s)", t.Store, mode, t.Chunks, t.Records)
		if t.MetaChanged {
			b.WriteString(", metadata updated")
		}
		b.WriteString("\n")
	case []PullStatus:
		if len(t) == 0 {
			return "No stores found\n"
		}
		for _, r := range t {
			if r.Error == "" {
				fmt.Fprintf(&b, "%s: %d record(s)\n", r.Store, r.Records)
			} else {
				fmt.Fprintf(&b, "%s: failed: %s\n", r.Store, r.Error)
			}
		}
	case *replication.PushResult:
		if t.Actions == 0 {
			fmt.Fprintf(&b, "Nothing to push for '%s'\n", t.Store)
			break
		}
		fmt.Fprintf(&b, "Pushed '%s': %d action(s), %d record(s), %d file(s) written, %d deleted, %s",
			t.Store, t.Actions, t.Records, t.Uploaded, t.Deleted, formatSize(t.Bytes))
		if t.Pulled > 0 {
			fmt.Fprintf(&b, ", %d remote record(s) pulled first", t.Pulled)
		}
		if t.Overlap {
			b.WriteString(", rebuilt")
		}
		b.WriteString("\n")
	case *StageResult:
		fmt.Fprintf(&b, "Staged %d action(s) for '%s'\n", len(t.Staged), t.Store)
		if t.Push != nil {
			b.WriteString(formatText(t.Push))
		}
	case []common.Item:
		if len(t) == 0 {
			return "No items found\n"
		}
		for _, item := range t {
			b.WriteString(compactJSON(item) + "\n")
		}
	case common.Item:
		return formatJSON(t)
	case map[string]any:
		return formatJSON(t)
	case []common.FullAction:
		if len(t) == 0 {
			return "No pending actions\n"
		}
		for _, a := range t {
			marker := ""
			if a.Overlap {
				marker = " (rebuild)"
			}
			fmt.Fprintf(&b, "%s %s %-6s %s%s\n", a.ID,
				time.UnixMilli(a.Timestamp).UTC().Format(time.RFC3339), a.Type, a.Identity(), marker)
		}
	case *common.StoreStructure:
		return formatStructureText(t)
	case *common.Account:
		fmt.Fprintf(&b, "%s (%s)\n", t.Name, t.ID)
	case []common.Collaborator:
		if len(t) == 0 {
			return "No collaborators found\n"
		}
		for _, c := range t {
			fmt.Fprintf(&b, "%s (%s) %s\n", c.Name, c.ID, c.Permission)
		}
	case replication.MetricsSnapshot:
		fmt.Fprintf(&b, "Pulls: %d (%d records)\n", t.Pulls, t.RecordsPulled)
		fmt.Fprintf(&b, "Pushes: %d (%d records, %s)\n", t.Pushes, t.RecordsPushed, formatSize(t.BytesUploaded))
		fmt.Fprintf(&b, "Errors: %d\n", t.TotalErrors)
	default:
		return formatJSON(v)
	}
	return b.String()
}

func formatStructureText(st *common.StoreStructure) string {
	if st == nil {
		return "No structure cached\n"
	}
	var b strings.Builder
	if st.Meta != nil {
		fmt.Fprintf(&b, "meta    %s  %s\n", st.Meta.Path, st.Meta.ContentHash)
	}
	for _, c := range st.Chunks {
		fmt.Fprintf(&b, "chunk   %s  %s  start=%d\n", c.Path, c.ContentHash, c.StartIndex)
	}
	assets := append([]common.FileRef(nil), st.Assets...)
	sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })
	for _, a := range assets {
		fmt.Fprintf(&b, "asset   %s  %s\n", a.Path, a.ContentHash)
	}
	if b.Len() == 0 {
		return "Store is empty\n"
	}
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

// formatSize formats a byte size in human-readable format.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
