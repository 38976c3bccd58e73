package token

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"boson/types"
)

func TestIssueThenValidateSameGeneration(t *testing.T) {
	mclock := clock.NewMock()
	m, err := NewManager(5*time.Minute, mclock)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	remote, target := types.RandomId(), types.RandomId()
	tok := m.Issue("1.2.3.4:6881", remote, target)
	if !m.Validate(tok, "1.2.3.4:6881", remote, target) {
		t.Fatal("expected freshly issued token to validate")
	}
}

func TestValidateRejectsWrongBinding(t *testing.T) {
	mclock := clock.NewMock()
	m, err := NewManager(5*time.Minute, mclock)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	remote, target := types.RandomId(), types.RandomId()
	tok := m.Issue("1.2.3.4:6881", remote, target)

	other := types.RandomId()
	if m.Validate(tok, "1.2.3.4:6881", other, target) {
		t.Fatal("token bound to a different remoteId must not validate")
	}
	if m.Validate(tok, "5.6.7.8:6881", remote, target) {
		t.Fatal("token bound to a different remoteAddr must not validate")
	}
}

func TestPreviousGenerationStillValidates(t *testing.T) {
	mclock := clock.NewMock()
	m, err := NewManager(5*time.Minute, mclock)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	remote, target := types.RandomId(), types.RandomId()
	tok := m.Issue("1.2.3.4:6881", remote, target)

	mclock.Add(5 * time.Minute) // forces one rotation on next access
	if !m.Validate(tok, "1.2.3.4:6881", remote, target) {
		t.Fatal("token from the prior generation must still validate once")
	}
}

func TestTokenInvalidAfterTwoRotations(t *testing.T) {
	mclock := clock.NewMock()
	m, err := NewManager(5*time.Minute, mclock)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	remote, target := types.RandomId(), types.RandomId()
	tok := m.Issue("1.2.3.4:6881", remote, target)

	mclock.Add(5 * time.Minute)
	m.Validate(tok, "1.2.3.4:6881", remote, target) // forces rotation #1
	mclock.Add(5 * time.Minute)
	if m.Validate(tok, "1.2.3.4:6881", remote, target) {
		t.Fatal("token must expire once it falls out of both generations")
	}
}

func TestTokenInvalidAfterSingleLongGapWithNoInterveningValidate(t *testing.T) {
	mclock := clock.NewMock()
	m, err := NewManager(5*time.Minute, mclock)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	remote, target := types.RandomId(), types.RandomId()
	tok := m.Issue("1.2.3.4:6881", remote, target)

	// A single Validate call ten minutes and change later must catch up both
	// elapsed rotation intervals in one go, not just one.
	mclock.Add(10*time.Minute + time.Second)
	if m.Validate(tok, "1.2.3.4:6881", remote, target) {
		t.Fatal("token older than two rotation intervals must not validate, even with no intervening access")
	}
}
