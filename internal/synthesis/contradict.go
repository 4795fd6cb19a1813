package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/llm"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const defaultConfidence = 0.6

const contradictionPromptTemplate = `You are reviewing two technical approaches retrieved for the query %q.

Approach A:
%s

Approach B:
%s

Decide whether the two approaches give contradicting guidance for this query.
Contradiction means following one approach would violate the other, not merely
that they differ in scope, detail, or emphasis.

Respond with ONLY a JSON object, no prose before or after it:
{
  "contradiction": true or false,
  "severity": "high" or "medium" or "low",
  "description": "one sentence naming the disagreement",
  "confidence": 0.0 to 1.0
}

RULES:
- "contradiction" is false when the approaches are complementary or cover different subjects.
- "severity" is "high" only when following both approaches at once would break something.
- Weigh source quality and verification dates: a conflict between two official, recently verified sources matters more.
- Keep "description" under 200 characters.`

// verdict is the JSON object the model is instructed to return.
type verdict struct {
	Contradiction bool    `json:"contradiction"`
	Severity      string  `json:"severity"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
}

type pairCandidate struct {
	a, b    int
	overlap float64
	rank    float64
}

// detectConflicts asks the model whether the most promising approach
// pairs contradict each other. It returns whatever it has collected when
// the context is cancelled, and a failed check only skips its own pair.
func (e *Engine) detectConflicts(ctx context.Context, query string, collectionID uuid.UUID, groups []group) []Conflict {
	if e.completer == nil || !e.config.ContradictionDetection || len(groups) < 2 {
		return nil
	}
	if e.runtime != nil && e.runtime.Snapshot().DisableContradictions {
		e.logger.Debug().Msg("contradiction detection disabled by cost fallback")
		return nil
	}

	var conflicts []Conflict
	for _, p := range e.candidatePairs(groups) {
		if ctx.Err() != nil {
			break
		}
		conflict, ok := e.checkPair(ctx, query, collectionID, groups[p.a], groups[p.b])
		if ok {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts
}

// candidatePairs selects the approach pairs worth a model call. The
// summary token overlap must fall inside the configured band: below the
// floor the approaches discuss different subjects, above the ceiling
// they already agree. Within the band, pairs that disagree most on
// consensus rank first.
func (e *Engine) candidatePairs(groups []group) []pairCandidate {
	tokens := make([]map[string]struct{}, len(groups))
	for i, g := range groups {
		tokens[i] = tokenize(g.approach.Summary)
	}

	var pairs []pairCandidate
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			overlap := jaccard(tokens[i], tokens[j])
			if overlap < e.config.MinOverlap || overlap > e.config.MaxOverlap {
				continue
			}
			pairs = append(pairs, pairCandidate{
				a:       i,
				b:       j,
				overlap: overlap,
				rank:    overlap + math.Abs(groups[i].approach.Consensus-groups[j].approach.Consensus),
			})
		}
	}

	sort.SliceStable(pairs, func(x, y int) bool { return pairs[x].rank > pairs[y].rank })
	if len(pairs) > e.config.MaxPairs {
		pairs = pairs[:e.config.MaxPairs]
	}
	return pairs
}

func (e *Engine) checkPair(ctx context.Context, query string, collectionID uuid.UUID, a, b group) (Conflict, bool) {
	prompt := fmt.Sprintf(contradictionPromptTemplate, query, approachSection(a), approachSection(b))

	completion, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("topic_a", a.approach.Topic).
			Str("topic_b", b.approach.Topic).
			Msg("contradiction check failed, skipping pair")
		return Conflict{}, false
	}
	e.trackCompletion(ctx, collectionID, completion)

	v, err := parseVerdict(completion.Text)
	if err != nil {
		e.logger.Debug().Err(err).Msg("unparseable contradiction verdict, skipping pair")
		return Conflict{}, false
	}
	if !v.Contradiction {
		return Conflict{}, false
	}

	conflict := Conflict{
		SourceA:     primarySource(a),
		SourceB:     primarySource(b),
		Severity:    normalizeSeverity(v.Severity),
		Description: strings.TrimSpace(v.Description),
		Confidence:  clampConfidence(v.Confidence),
	}
	if conflict.Description == "" {
		conflict.Description = fmt.Sprintf("%s and %s give conflicting guidance.", a.approach.Topic, b.approach.Topic)
	}
	return conflict, true
}

func (e *Engine) trackCompletion(ctx context.Context, collectionID uuid.UUID, completion *llm.Completion) {
	if e.tracker == nil {
		return
	}
	e.tracker.Track(ctx, cost.Usage{
		Provider:     "anthropic",
		Operation:    storage.CostOpGenerate,
		Tokens:       completion.InputTokens + completion.OutputTokens,
		Model:        e.completer.Model(),
		CollectionID: &collectionID,
	})
}

// approachSection renders one approach for the prompt, including the
// quality and verification date of its primary source.
func approachSection(g group) string {
	primary := g.approach.Sources[0]
	meta := g.results[0].Metadata

	title := primary.Title
	if title == "" {
		title = "untitled source"
	}
	quality := meta.SourceQuality()
	if quality == "" {
		quality = "unknown"
	}
	verified := "unknown"
	if ts, ok := meta.LastVerified(); ok {
		verified = ts.Format("2006-01-02")
	}

	return fmt.Sprintf("- Topic: %s\n- Method: %s\n- Summary: %s\n- Primary source: %s (quality %s, last verified %s)",
		g.approach.Topic, g.approach.Method, g.approach.Summary, title, quality, verified)
}

func primarySource(g group) ConflictSource {
	primary := g.approach.Sources[0]
	return ConflictSource{Title: primary.Title, URL: primary.URL}
}

// parseVerdict pulls the first JSON object out of the completion text.
// Models occasionally wrap the object in prose or a code fence despite
// instructions, so the parser scans for balanced braces instead of
// unmarshalling the whole response.
func parseVerdict(text string) (verdict, error) {
	raw, ok := extractObject(text)
	if !ok {
		return verdict{}, fmt.Errorf("no JSON object in completion")
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return v, nil
}

func extractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func clampConfidence(c float64) float64 {
	if c <= 0 {
		return defaultConfidence
	}
	if c > 1 {
		return 1
	}
	return c
}
