// Package intake turns free-form emergency reports into structured case
// candidates using an LLM provider. The grouping core never depends on this
// package; it only sees the validated candidate.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/casework"
)

// responseTokens bounds the extraction reply; the payload is small JSON.
const responseTokens = 1024

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Extractor builds extraction prompts, calls the provider, and parses the
// reply into a validated case candidate.
type Extractor struct {
	provider Provider
	logger   log.Logger
}

// New creates an extractor on the given provider.
func New(provider Provider, logger log.Logger) *Extractor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Extractor{provider: provider, logger: logger}
}

// payload is the JSON shape the model is instructed to produce. The location
// comes from the report's GPS fix, never from the model.
type payload struct {
	Description     string   `json:"description"`
	PeopleCount     *int     `json:"people_count"`
	MobilityStatus  string   `json:"mobility_status"`
	Vulnerabilities []string `json:"vulnerability_factors"`
	Urgency         string   `json:"urgency"`
	DangerLevel     string   `json:"danger_level"`
}

// Extract produces a validated case candidate from a raw report. Malformed
// model output is ErrInvalidInput; it is never papered over with defaults.
func (x *Extractor) Extract(ctx context.Context, rep *casework.Report) (*casework.CaseCandidate, error) {
	raw, err := x.provider.Complete(ctx, systemPrompt, buildPrompt(rep), responseTokens)
	if err != nil {
		return nil, fmt.Errorf("intake provider: %w", err)
	}

	var p payload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		x.logger.Warn(ctx, "unparseable intake reply", "reply_len", len(raw))
		return nil, fmt.Errorf("%w: intake reply is not valid JSON: %v", casework.ErrInvalidInput, err)
	}

	cand := &casework.CaseCandidate{
		CallerID:    rep.CallerID,
		ReporterID:  rep.ReporterID,
		Location:    rep.Location,
		Description: p.Description,
		Narrative:   rep.Narrative,
		PeopleCount: p.PeopleCount,
		Mobility:    casework.MobilityStatus(p.MobilityStatus),
		Urgency:     casework.Urgency(p.Urgency),
		Danger:      casework.DangerLevel(p.DangerLevel),
	}
	for _, v := range p.Vulnerabilities {
		cand.Vulnerabilities = append(cand.Vulnerabilities, casework.VulnerabilityFactor(v))
	}
	if cand.Mobility == "" {
		cand.Mobility = casework.MobilityUnknown
	}

	if err := cand.Validate(); err != nil {
		return nil, err
	}
	return cand, nil
}

const systemPrompt = `You are Beacon's intake analyst. You read a single emergency report and
produce one JSON object describing the case, nothing else.

Fields:
  description: one factual sentence summarizing the need for help
  people_count: integer number of people involved, or null if unknown
  mobility_status: one of "mobile", "injured", "trapped", "unknown"
  vulnerability_factors: array drawn only from "elderly", "children_present",
    "medical_needs", "disability", "pregnant"
  urgency: one of "low", "medium", "high", "critical"
  danger_level: one of "safe", "moderate", "severe", "life_threatening"

Reply with the JSON object only. Do not invent facts absent from the report.`

func buildPrompt(rep *casework.Report) string {
	return fmt.Sprintf(`Emergency report received at latitude %v, longitude %v:

%s

Produce the case JSON.`, rep.Location.Lat, rep.Location.Lng, rep.Narrative)
}

// stripFences removes a markdown code fence if the model wrapped its reply
// in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
