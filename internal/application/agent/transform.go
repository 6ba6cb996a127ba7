package agent

import (
	"encoding/json"
	"strings"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/domain/pipeline"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// Transform is the per-agent hook applied to every freshly matched record.
// It reads the record's match dict and returns the mapping the runtime stores
// as either query bind parameters (query flow) or the outgoing payload
// (direct flow).  Implementations must not mutate the working set or schedule
// work of their own.
type Transform func(rec *pipeline.WorkingRecord) (map[string]any, error)

// TransformFactory builds a Transform from the agent configuration, typically
// reading type-specific settings from cfg.Options.
type TransformFactory func(cfg config.AgentConfig) (Transform, error)

// ─────────────────────────────────────────────────────────────────────────────
// Built-in agent types
// ─────────────────────────────────────────────────────────────────────────────

// Option keys consumed by the jsonfield transform.
const (
	// OptionJSONSource names the capture group whose value is a JSON object.
	OptionJSONSource = "json_source"

	// OptionJSONFields is a comma-separated list of keys to project from the
	// parsed object.  Empty keeps the whole object.
	OptionJSONFields = "json_fields"
)

// NewPassthroughTransform forwards the capture groups unchanged.  It is the
// right type for patterns whose named groups already are the payload.
func NewPassthroughTransform(_ config.AgentConfig) (Transform, error) {
	return func(rec *pipeline.WorkingRecord) (map[string]any, error) {
		match := rec.Match()
		out := make(map[string]any, len(match))
		for k, v := range match {
			out[k] = v
		}
		return out, nil
	}, nil
}

// NewJSONFieldTransform parses one JSON-encoded capture group and projects a
// configured subset of its keys.  This covers application logs that embed a
// JSON response body in an otherwise line-oriented format.
func NewJSONFieldTransform(cfg config.AgentConfig) (Transform, error) {
	source := cfg.Options[OptionJSONSource]
	if source == "" {
		return nil, errors.ConfigInvalid("jsonfield agent requires the json_source option").WithDetail(cfg.Name)
	}
	var fields []string
	if raw := cfg.Options[OptionJSONFields]; raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}

	return func(rec *pipeline.WorkingRecord) (map[string]any, error) {
		raw, ok := rec.Match()[source]
		if !ok {
			return nil, errors.Newf(errors.CodeTransform, "capture group %q missing from match", source)
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, errors.Wrap(err, errors.CodeTransform, "capture group is not a JSON object").WithDetail(source)
		}
		if len(fields) == 0 {
			return parsed, nil
		}
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := parsed[f]; ok {
				out[f] = v
			}
		}
		return out, nil
	}, nil
}
