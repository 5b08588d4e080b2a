package orchestrator

import "testing"

func TestStateMaskHasIsMonotonic(t *testing.T) {
	var m StateMask
	if m.Has(StateInit) {
		t.Fatal("zero-value mask should not have any bit set")
	}

	m |= StateInit
	if !m.Has(StateInit) {
		t.Fatal("expected StateInit to be set")
	}
	if m.Has(StateWSOpen) {
		t.Fatal("StateWSOpen should not be set yet")
	}

	m |= StateWSOpen
	if !m.Has(StateInit | StateWSOpen) {
		t.Fatal("setting StateWSOpen must not clear StateInit")
	}
}

func TestStateMaskStringJoinsSetBitsInDeclarationOrder(t *testing.T) {
	m := StateCreated | StateInit
	got := m.String()
	want := "INIT|CREATED"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestStateMaskStringNoneWhenEmpty(t *testing.T) {
	var m StateMask
	if got := m.String(); got != "NONE" {
		t.Errorf("String() = %q, want NONE", got)
	}
}

func TestConsoleGenPlatform(t *testing.T) {
	if got := ConsoleGen4.Platform(); got != "PS4" {
		t.Errorf("ConsoleGen4.Platform() = %q, want PS4", got)
	}
	if got := ConsoleGen5.Platform(); got != "PS5" {
		t.Errorf("ConsoleGen5.Platform() = %q, want PS5", got)
	}
}

func TestPortKindString(t *testing.T) {
	if got := PortCtrl.String(); got != "CTRL" {
		t.Errorf("PortCtrl.String() = %q, want CTRL", got)
	}
	if got := PortData.String(); got != "DATA" {
		t.Errorf("PortData.String() = %q, want DATA", got)
	}
}

func TestRequireStateAndRejectIfState(t *testing.T) {
	s := &Session{state: StateInit | StateCreated}

	if err := s.requireState("Start", StateCreated); err != nil {
		t.Errorf("requireState should succeed: %v", err)
	}
	if err := s.requireState("Start", StateStarted); err == nil {
		t.Error("requireState should fail: StateStarted not set")
	}
	if err := s.rejectIfState("Start", StateStarted); err != nil {
		t.Errorf("rejectIfState should succeed: %v", err)
	}
	if err := s.rejectIfState("Start", StateCreated); err == nil {
		t.Error("rejectIfState should fail: StateCreated already set")
	}
}
