// Package contextmgr owns the conversation of one case and keeps its
// estimated token cost within a fixed budget.
package contextmgr

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// messageOverhead is the fixed cost charged per message for role framing.
const messageOverhead = 3

// minBudget leaves room for the framing of every kept message.
const minBudget = 64

const (
	truncatedMarker = "\n...[truncated]"
	digestHeader    = "[Earlier analysis condensed]"
	maxDigestLines  = 8
)

// Options sizes a Manager.
type Options struct {
	// Budget is the hard ceiling on the rendered conversation.
	Budget int
	// Threshold triggers compression; compression aims below it.
	Threshold int
	// ToolResultBudget caps a single tool result on entry.
	ToolResultBudget int
	KeepFirst        int
	KeepRecent       int
	SynopsisChars    int
}

// OptionsFrom derives Manager options from the run configuration.
func OptionsFrom(cfg *config.Config) Options {
	budget := cfg.ContextBudget()
	return Options{
		Budget:           budget,
		Threshold:        int(float64(budget) * cfg.Context.CompressAt),
		ToolResultBudget: cfg.ToolResultBudget(),
		KeepFirst:        cfg.Context.KeepFirst,
		KeepRecent:       cfg.Context.KeepRecent,
		SynopsisChars:    cfg.Context.SynopsisChars,
	}
}

// Manager holds one case's conversation. It is owned by a single runner
// and is not safe for concurrent use.
type Manager struct {
	opts    Options
	est     Estimator
	metrics *telemetry.Metrics
	log     zerolog.Logger

	msgs []models.ChatMessage

	// digest is set when msgs[KeepFirst] is the folded-history message.
	digest      bool
	digestLines []string
	folded      int
}

// New returns an empty Manager.
func New(opts Options, est Estimator, metrics *telemetry.Metrics, log zerolog.Logger) *Manager {
	if opts.Budget < minBudget {
		opts.Budget = minBudget
	}
	if opts.KeepFirst < 1 {
		opts.KeepFirst = 1
	}
	if opts.KeepRecent < 1 {
		opts.KeepRecent = 1
	}
	if opts.Threshold <= 0 || opts.Threshold > opts.Budget {
		opts.Threshold = opts.Budget
	}
	if opts.SynopsisChars <= 0 {
		opts.SynopsisChars = 400
	}
	return &Manager{opts: opts, est: est, metrics: metrics, log: log}
}

// ── Conversation ─────────────────────────────────────────────

// Append adds a message at the end of the conversation.
func (m *Manager) Append(msg models.ChatMessage) {
	msg.Tokens = m.cost(msg.Content)
	m.msgs = append(m.msgs, msg)
}

// Render compresses the conversation if needed and returns a copy of it.
// The result never exceeds the budget.
func (m *Manager) Render() []models.ChatMessage {
	m.Compress()
	out := make([]models.ChatMessage, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Tokens is the current estimated cost.
func (m *Manager) Tokens() int {
	total := 0
	for _, msg := range m.msgs {
		total += msg.Tokens
	}
	return total
}

func (m *Manager) Len() int    { return len(m.msgs) }
func (m *Manager) Budget() int { return m.opts.Budget }

// TrimToolResult shrinks a tool result to the per-result budget. The
// header lines and lines that carry errors or data markers are kept.
func (m *Manager) TrimToolResult(text string) string {
	limit := m.opts.ToolResultBudget
	if limit <= 0 || m.est.Estimate(text) <= limit {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, 16)
	for i, line := range lines {
		if i < 5 || hasKeyIndicator(line) {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n") + fmt.Sprintf("\n...[result trimmed from %d tokens]", m.est.Estimate(text))
	return m.truncateTo(out, limit)
}

var keyIndicators = []string{"error", "failed", "exception", "timeout", "success", "shape", "rows", "anomal"}

func hasKeyIndicator(line string) bool {
	l := strings.ToLower(line)
	for _, k := range keyIndicators {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}

// ── Compression ──────────────────────────────────────────────

// Compress brings the conversation under the threshold if it is above it.
// The first KeepFirst and last KeepRecent messages stay verbatim while
// older middle messages are condensed to synopses and then folded into a
// digest. If that is not enough the kept messages are truncated so the
// budget holds. Compress is deterministic and a second call on its output
// is a no-op. It reports whether anything changed.
func (m *Manager) Compress() bool {
	before := m.Tokens()
	if before <= m.opts.Threshold {
		return false
	}

	changed := m.condense()
	if m.Tokens() > m.opts.Threshold {
		changed = m.fold() || changed
	}
	if m.Tokens() > m.opts.Budget {
		changed = m.enforce() || changed
	}

	if changed {
		m.log.Info().
			Int("before", before).
			Int("after", m.Tokens()).
			Int("messages", len(m.msgs)).
			Msg("Context compressed")
	}
	return changed
}

// CompressAggressive keeps only the system message and the last two
// messages. It is used after the model rejects a request as too long.
func (m *Manager) CompressAggressive() bool {
	if len(m.msgs) <= 3 {
		return false
	}
	before := m.Tokens()
	kept := []models.ChatMessage{m.msgs[0]}
	kept = append(kept, m.msgs[len(m.msgs)-2:]...)
	m.msgs = kept
	m.digest = false
	m.digestLines = nil
	m.folded = 0
	m.enforce()

	m.metrics.Compression("aggressive")
	m.log.Warn().
		Int("before", before).
		Int("after", m.Tokens()).
		Msg("Context aggressively compressed")
	return true
}

// middle returns the bounds of the compressible region.
func (m *Manager) middle() (lo, hi int) {
	lo = m.opts.KeepFirst
	if m.digest {
		lo++
	}
	hi = len(m.msgs) - m.opts.KeepRecent
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// condense replaces bulky middle messages with a prefix synopsis.
func (m *Manager) condense() bool {
	lo, hi := m.middle()
	changed := false
	for i := lo; i < hi; i++ {
		msg := &m.msgs[i]
		if msg.Condensed || msg.Role == models.RoleSystem {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) <= m.opts.SynopsisChars+64 {
			continue
		}
		msg.Content = string(runes[:m.opts.SynopsisChars]) +
			fmt.Sprintf("\n...[condensed from %d chars]", len(runes))
		msg.Tokens = m.cost(msg.Content)
		msg.Condensed = true
		changed = true
	}
	if changed {
		m.metrics.Compression("condense")
	}
	return changed
}

// fold moves the oldest middle messages into the digest until the
// conversation, digest included, is under the threshold or the middle is
// empty.
func (m *Manager) fold() bool {
	lo, hi := m.middle()
	if lo >= hi {
		return false
	}
	base := m.Tokens()
	if m.digest {
		base -= m.msgs[m.opts.KeepFirst].Tokens
	}

	lines := make([]string, len(m.digestLines), len(m.digestLines)+hi-lo)
	copy(lines, m.digestLines)
	n := hi - lo
	for k := 1; k <= hi-lo; k++ {
		lines = append(lines, digestLine(m.msgs[lo+k-1]))
		projected := base - m.span(lo, lo+k) + m.cost(renderDigest(m.folded+k, lines))
		if projected <= m.opts.Threshold {
			n = k
			break
		}
	}

	m.digestLines = lines[:len(m.digestLines)+n]
	m.folded += n
	m.msgs = append(m.msgs[:lo], m.msgs[lo+n:]...)

	d := models.ChatMessage{Role: models.RoleAssistant, Content: renderDigest(m.folded, m.digestLines), Condensed: true}
	d.Tokens = m.cost(d.Content)
	at := m.opts.KeepFirst
	if m.digest {
		m.msgs[at] = d
	} else {
		m.msgs = append(m.msgs[:at], append([]models.ChatMessage{d}, m.msgs[at:]...)...)
		m.digest = true
	}
	m.metrics.Compression("fold")
	return true
}

func (m *Manager) span(lo, hi int) int {
	total := 0
	for _, msg := range m.msgs[lo:hi] {
		total += msg.Tokens
	}
	return total
}

func renderDigest(folded int, lines []string) string {
	var b strings.Builder
	b.WriteString(digestHeader)
	fmt.Fprintf(&b, " %d earlier messages folded.", folded)
	if len(lines) > maxDigestLines {
		lines = lines[len(lines)-maxDigestLines:]
	}
	for _, l := range lines {
		b.WriteString("\n- ")
		b.WriteString(l)
	}
	return b.String()
}

func digestLine(msg models.ChatMessage) string {
	first := msg.Content
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	r := []rune(strings.TrimSpace(first))
	if len(r) > 80 {
		r = r[:80]
	}
	return fmt.Sprintf("%s: %s", msg.Role, string(r))
}

// enforce truncates, and as a last resort drops, messages until the hard
// budget holds. The system message is truncated last.
func (m *Manager) enforce() bool {
	excess := m.Tokens() - m.opts.Budget
	if excess <= 0 {
		return false
	}
	for i := 1; i < len(m.msgs) && excess > 0; i++ {
		excess -= m.shrink(i, excess)
	}
	if excess > 0 && len(m.msgs) > 0 {
		excess -= m.shrink(0, excess)
	}
	// The digest goes first; after it the oldest message behind the
	// system prompt. The digest flag only clears when the digest itself
	// is dropped.
	for excess > 0 && len(m.msgs) > 1 {
		drop := 1
		dropsDigest := m.digest && m.opts.KeepFirst < len(m.msgs)
		if dropsDigest {
			drop = m.opts.KeepFirst
		}
		excess -= m.msgs[drop].Tokens
		m.msgs = append(m.msgs[:drop], m.msgs[drop+1:]...)
		if dropsDigest {
			m.digest = false
		}
	}
	m.metrics.Compression("truncate")
	return true
}

// shrink truncates message i by up to excess tokens and returns the
// tokens saved.
func (m *Manager) shrink(i, excess int) int {
	msg := &m.msgs[i]
	target := msg.Tokens - messageOverhead - excess
	if target < 0 {
		target = 0
	}
	content := m.truncateTo(msg.Content, target)
	if content == msg.Content {
		return 0
	}
	old := msg.Tokens
	msg.Content = content
	msg.Tokens = m.cost(content)
	msg.Condensed = true
	return old - msg.Tokens
}

// truncateTo returns the longest rune prefix of s that, with the
// truncation marker appended, costs at most limit tokens.
func (m *Manager) truncateTo(s string, limit int) string {
	if m.est.Estimate(s) <= limit {
		return s
	}
	runes := []rune(s)
	best := -1
	lo, hi := 0, len(runes)
	for lo <= hi {
		mid := (lo + hi) / 2
		if m.est.Estimate(string(runes[:mid])+truncatedMarker) <= limit {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < 0 {
		return ""
	}
	return string(runes[:best]) + truncatedMarker
}

func (m *Manager) cost(content string) int {
	return m.est.Estimate(content) + messageOverhead
}
