package dialog

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// fuzzyActivationThreshold is the Jaro-Winkler similarity at or above which
// a word window counts as a keyword hit. Tolerates ASR mis-hearings like
// "hello a system" for "hello assistant".
const fuzzyActivationThreshold = 0.84

// GateAction describes what the activation gate decided for one input.
type GateAction int

const (
	// GateForward passes the utterance to the LLM unchanged.
	GateForward GateAction = iota

	// GateActivated opens the gate; the scripted activation reply is emitted
	// and any remainder after the keyword is processed as the utterance.
	GateActivated

	// GateDeactivated closes the gate; the scripted deactivation reply is
	// emitted and the input is consumed.
	GateDeactivated

	// GateRejected drops the input; the scripted prompt (if configured) is
	// emitted. The LLM is not called.
	GateRejected
)

// GateDecision is the outcome of [Gate.Evaluate].
type GateDecision struct {
	Action GateAction

	// Utterance is the text to forward to the LLM. Empty when nothing
	// should be forwarded (a bare wake phrase, a rejection).
	Utterance string

	// Reply is the scripted response to emit, if any.
	Reply string
}

// GateSettings configures a [Gate].
type GateSettings struct {
	// Enabled turns the gate on. A disabled gate forwards everything.
	Enabled bool

	// ActivationKeywords are the wake phrases.
	ActivationKeywords []string

	// DeactivationKeywords put the session back to sleep.
	DeactivationKeywords []string

	// IdleTimeout deactivates after this much inactivity. Zero disables.
	IdleTimeout time.Duration

	// ActivationReply, DeactivationReply, and PromptIfNotActivated are the
	// scripted responses. Empty strings suppress the respective reply.
	ActivationReply      string
	DeactivationReply    string
	PromptIfNotActivated string
}

// Gate is the wake-keyword activation gate. While inactive, input that does
// not contain an activation keyword never reaches the LLM. Keyword matching
// is case-insensitive substring plus fuzzy word-window comparison, so the
// gate survives small ASR errors.
//
// Not safe for concurrent use; it belongs to the session's turn loop.
type Gate struct {
	settings     GateSettings
	active       bool
	lastActivity time.Time
}

// NewGate creates a gate. A gate starts inactive when enabled.
func NewGate(settings GateSettings) *Gate {
	return &Gate{settings: settings}
}

// Active reports whether the gate is currently open (or disabled).
func (g *Gate) Active() bool {
	return !g.settings.Enabled || g.active
}

// Settings returns the current gate settings.
func (g *Gate) Settings() GateSettings {
	return g.settings
}

// UpdateSettings replaces the gate configuration at runtime. Disabling the
// gate also clears the active flag so a later re-enable starts gated.
func (g *Gate) UpdateSettings(settings GateSettings) {
	g.settings = settings
	if !settings.Enabled {
		g.active = false
	}
}

// Evaluate runs one input through the gate and returns the decision. now is
// injected for testability.
func (g *Gate) Evaluate(text string, now time.Time) GateDecision {
	if !g.settings.Enabled {
		return GateDecision{Action: GateForward, Utterance: text}
	}

	if g.active {
		if matchKeyword(text, g.settings.DeactivationKeywords) != nil {
			g.active = false
			return GateDecision{Action: GateDeactivated, Reply: g.settings.DeactivationReply}
		}
		g.lastActivity = now
		return GateDecision{Action: GateForward, Utterance: text}
	}

	if hit := matchKeyword(text, g.settings.ActivationKeywords); hit != nil {
		g.active = true
		g.lastActivity = now
		return GateDecision{
			Action:    GateActivated,
			Utterance: hit.remainder,
			Reply:     g.settings.ActivationReply,
		}
	}

	return GateDecision{Action: GateRejected, Reply: g.settings.PromptIfNotActivated}
}

// CheckTimeout deactivates the gate when the idle timeout has elapsed.
// Returns the deactivation reply to emit, and whether a deactivation
// happened.
func (g *Gate) CheckTimeout(now time.Time) (string, bool) {
	if !g.settings.Enabled || !g.active || g.settings.IdleTimeout <= 0 {
		return "", false
	}
	if now.Sub(g.lastActivity) < g.settings.IdleTimeout {
		return "", false
	}
	g.active = false
	return g.settings.DeactivationReply, true
}

// keywordHit records where a keyword matched and what follows it.
type keywordHit struct {
	remainder string
}

// matchKeyword looks for any of the keywords inside text. Exact
// case-insensitive substring match is tried first; failing that, every
// word window of the keyword's length is compared with Jaro-Winkler.
// Returns nil when nothing matches.
func matchKeyword(text string, keywords []string) *keywordHit {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}

	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		if kwLower == "" {
			continue
		}
		if idx := strings.Index(lower, kwLower); idx >= 0 {
			rest := strings.TrimSpace(trimLeadingPunct(text[idx+len(kwLower):]))
			return &keywordHit{remainder: rest}
		}
	}

	// Fuzzy pass over word windows.
	words := strings.Fields(lower)
	origWords := strings.Fields(text)
	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		kwWords := len(strings.Fields(kwLower))
		if kwWords == 0 || kwWords > len(words) {
			continue
		}
		for i := 0; i+kwWords <= len(words); i++ {
			window := strings.Join(words[i:i+kwWords], " ")
			if matchr.JaroWinkler(window, kwLower, false) >= fuzzyActivationThreshold {
				rest := strings.TrimSpace(trimLeadingPunct(strings.Join(origWords[i+kwWords:], " ")))
				return &keywordHit{remainder: rest}
			}
		}
	}
	return nil
}

// trimLeadingPunct strips separator punctuation left over when a keyword is
// cut out of a longer transcript ("hello assistant, tell me a joke").
func trimLeadingPunct(s string) string {
	return strings.TrimLeft(s, ",.;:!?，。；：！？ ")
}
