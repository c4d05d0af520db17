package usecase

import (
	"formcopilot/internal/domain"
)

// Caller runs a closure on the event loop and waits for it.
type Caller interface {
	Call(fn func()) error
}

// Copilot is the goroutine-safe entry point used by the desktop shell and
// the HTTP API.
type Copilot struct {
	loop         Caller
	orchestrator *Orchestrator
}

func NewCopilot(loop Caller, orchestrator *Orchestrator) *Copilot {
	return &Copilot{loop: loop, orchestrator: orchestrator}
}

func (c *Copilot) Start() error {
	return c.loop.Call(c.orchestrator.Start)
}

func (c *Copilot) Shutdown() error {
	return c.loop.Call(c.orchestrator.Shutdown)
}

// Send submits a typed message and reports whether it was accepted.
func (c *Copilot) Send(text string) (bool, error) {
	var accepted bool
	err := c.loop.Call(func() {
		accepted = c.orchestrator.Submit(text)
	})
	return accepted, err
}

func (c *Copilot) SwitchFeature(feature domain.Feature) error {
	var switchErr error
	if err := c.loop.Call(func() {
		switchErr = c.orchestrator.SwitchFeature(feature)
	}); err != nil {
		return err
	}
	return switchErr
}

func (c *Copilot) Reset() error {
	return c.loop.Call(c.orchestrator.Reset)
}

func (c *Copilot) SetSidebarOpen(open bool) error {
	return c.loop.Call(func() {
		c.orchestrator.SetSidebarOpen(open)
	})
}

func (c *Copilot) SetVoiceEnabled(enabled bool) error {
	var toggleErr error
	if err := c.loop.Call(func() {
		toggleErr = c.orchestrator.SetVoiceEnabled(enabled)
	}); err != nil {
		return err
	}
	return toggleErr
}

func (c *Copilot) Snapshot() (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := c.loop.Call(func() {
		snapshot = c.orchestrator.Snapshot()
	})
	return snapshot, err
}
