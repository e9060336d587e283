package dialog

import (
	"testing"
	"time"
)

func testGateSettings() GateSettings {
	return GateSettings{
		Enabled:              true,
		ActivationKeywords:   []string{"hello assistant"},
		DeactivationKeywords: []string{"goodbye assistant"},
		IdleTimeout:          30 * time.Second,
		ActivationReply:      "I'm listening.",
		DeactivationReply:    "Going to sleep.",
		PromptIfNotActivated: "Say the wake phrase first.",
	}
}

func TestGateDisabledForwardsEverything(t *testing.T) {
	t.Parallel()

	g := NewGate(GateSettings{})
	d := g.Evaluate("anything at all", time.Now())
	if d.Action != GateForward || d.Utterance != "anything at all" {
		t.Errorf("disabled gate decision = %+v", d)
	}
	if !g.Active() {
		t.Error("disabled gate reports inactive")
	}
}

func TestGateRejectsWithoutKeyword(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	d := g.Evaluate("what time is it", time.Now())
	if d.Action != GateRejected {
		t.Fatalf("action = %v, want GateRejected", d.Action)
	}
	if d.Reply != "Say the wake phrase first." {
		t.Errorf("reply = %q", d.Reply)
	}
	if g.Active() {
		t.Error("gate active after rejection")
	}
}

func TestGateActivatesOnBareKeyword(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	d := g.Evaluate("Hello Assistant", time.Now())
	if d.Action != GateActivated {
		t.Fatalf("action = %v, want GateActivated", d.Action)
	}
	if d.Utterance != "" {
		t.Errorf("bare wake phrase left utterance %q", d.Utterance)
	}
	if d.Reply != "I'm listening." {
		t.Errorf("reply = %q", d.Reply)
	}
	if !g.Active() {
		t.Error("gate inactive after activation")
	}
}

func TestGateExtractsUtteranceAfterKeyword(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	d := g.Evaluate("hello assistant, tell me a joke", time.Now())
	if d.Action != GateActivated {
		t.Fatalf("action = %v, want GateActivated", d.Action)
	}
	if d.Utterance != "tell me a joke" {
		t.Errorf("utterance = %q, want %q", d.Utterance, "tell me a joke")
	}
}

// ASR rarely hears the wake phrase perfectly. Near misses must still open
// the gate.
func TestGateFuzzyMatch(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	d := g.Evaluate("hello assistand please help", time.Now())
	if d.Action != GateActivated {
		t.Fatalf("action = %v, want GateActivated for a near miss", d.Action)
	}
	if d.Utterance != "please help" {
		t.Errorf("utterance = %q, want %q", d.Utterance, "please help")
	}
}

func TestGateForwardsWhileActive(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	g.Evaluate("hello assistant", time.Now())
	d := g.Evaluate("what time is it", time.Now())
	if d.Action != GateForward || d.Utterance != "what time is it" {
		t.Errorf("active gate decision = %+v", d)
	}
}

func TestGateDeactivationKeyword(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	g.Evaluate("hello assistant", time.Now())
	d := g.Evaluate("goodbye assistant", time.Now())
	if d.Action != GateDeactivated {
		t.Fatalf("action = %v, want GateDeactivated", d.Action)
	}
	if d.Reply != "Going to sleep." {
		t.Errorf("reply = %q", d.Reply)
	}
	if g.Active() {
		t.Error("gate active after deactivation")
	}
}

func TestGateIdleTimeout(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	now := time.Now()
	g.Evaluate("hello assistant", now)

	if _, done := g.CheckTimeout(now.Add(10 * time.Second)); done {
		t.Fatal("gate timed out before the idle bound")
	}
	reply, done := g.CheckTimeout(now.Add(31 * time.Second))
	if !done {
		t.Fatal("gate did not time out past the idle bound")
	}
	if reply != "Going to sleep." {
		t.Errorf("timeout reply = %q", reply)
	}
	if g.Active() {
		t.Error("gate active after timeout")
	}
}

func TestGateForwardRefreshesIdleClock(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	now := time.Now()
	g.Evaluate("hello assistant", now)
	g.Evaluate("still here", now.Add(20*time.Second))
	if _, done := g.CheckTimeout(now.Add(40 * time.Second)); done {
		t.Error("forwarded input did not refresh the idle clock")
	}
}

func TestGateUpdateSettingsDisableClearsActive(t *testing.T) {
	t.Parallel()

	g := NewGate(testGateSettings())
	g.Evaluate("hello assistant", time.Now())

	s := testGateSettings()
	s.Enabled = false
	g.UpdateSettings(s)
	if !g.Active() {
		t.Error("disabled gate should report active (pass-through)")
	}

	s.Enabled = true
	g.UpdateSettings(s)
	if g.Active() {
		t.Error("re-enabled gate did not start gated")
	}
}
