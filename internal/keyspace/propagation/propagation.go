// Package propagation defines the sink the keyspace core emits replication
// effects to. Keyspace-notification events do not pass through it (the
// keyspace package delivers those via Config.Notify). The core never writes
// replication/AOF bytes itself (spec.md §4.8) — it calls this interface and
// lets whatever sits above (a real AOF writer, a replication link, a test
// spy) decide what to do with the effect.
package propagation

// Sink receives propagation effects produced by command execution.
type Sink interface {
	// Feed appends argv as a command to propagate for database dbID.
	Feed(dbID int, argv []string)

	// AlsoPropagate additionally propagates command against targets (each a
	// distinct argv), used when one client command must fan out into
	// several propagated ones — SPOP's rewrite into multiple SREMs, for
	// instance.
	AlsoPropagate(dbID int, targets [][]string)
}

// Context is threaded through command handlers so they can suppress the
// default propagation of the command they were invoked with when they've
// already called AlsoPropagate with a rewritten form (spec.md §4.8).
type Context struct {
	sink              Sink
	dbID              int
	preventedDefault  bool
}

// New returns a propagation context bound to sink and dbID.
func New(sink Sink, dbID int) *Context {
	return &Context{sink: sink, dbID: dbID}
}

// Feed propagates argv verbatim.
func (c *Context) Feed(argv []string) {
	if c.sink != nil {
		c.sink.Feed(c.dbID, argv)
	}
}

// AlsoPropagate fans out to targets instead of (or in addition to) the
// original command.
func (c *Context) AlsoPropagate(targets [][]string) {
	if c.sink != nil {
		c.sink.AlsoPropagate(c.dbID, targets)
	}
}

// PreventSelfPropagation suppresses the default propagation of the command
// this context was created for — used by commands that rewrite themselves
// via AlsoPropagate (e.g. SPOP -> SREM*).
func (c *Context) PreventSelfPropagation() { c.preventedDefault = true }

// DefaultPrevented reports whether PreventSelfPropagation was called.
func (c *Context) DefaultPrevented() bool { return c.preventedDefault }
