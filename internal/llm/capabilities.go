package llm

import "sync"

// ToolSupport is what the client has learned about the backend's
// tool-calling support.
type ToolSupport int

const (
	// ToolSupportUnknown means no call with tools has completed yet.
	ToolSupportUnknown ToolSupport = iota
	// ToolSupportYes means a call carrying tools succeeded.
	ToolSupportYes
	// ToolSupportNo means the backend rejected tools. Terminal until Reset.
	ToolSupportNo
)

// String returns the state name used in logs and MQTT sensors.
func (t ToolSupport) String() string {
	switch t {
	case ToolSupportYes:
		return "supported"
	case ToolSupportNo:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Capabilities is the per-configuration record of what the backend can
// do. One instance is shared by every client built from the same
// configuration and replaced (or Reset) when the configuration changes.
type Capabilities struct {
	mu     sync.Mutex
	tools  ToolSupport
	reason string
}

// NewCapabilities returns capabilities in the unknown state.
func NewCapabilities() *Capabilities {
	return &Capabilities{}
}

// ToolsAllowed reports whether tool schemas may be sent.
func (c *Capabilities) ToolsAllowed() bool {
	return c.Tools() != ToolSupportNo
}

// Tools returns the current tool support state.
func (c *Capabilities) Tools() ToolSupport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Reason returns the backend message that caused a downgrade, if any.
func (c *Capabilities) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// markToolsSupported records a successful call with tools. A downgrade
// is never undone this way.
func (c *Capabilities) markToolsSupported() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tools == ToolSupportUnknown {
		c.tools = ToolSupportYes
	}
}

// markToolsUnsupported downgrades permanently and reports whether this
// call changed the state.
func (c *Capabilities) markToolsUnsupported(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tools == ToolSupportNo {
		return false
	}
	c.tools = ToolSupportNo
	c.reason = reason
	return true
}

// Reset returns to the unknown state. Only call on reconfiguration.
func (c *Capabilities) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = ToolSupportUnknown
	c.reason = ""
}
