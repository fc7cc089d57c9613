package knotes

// Command is a discrete application operation selected on the command line.
// Each implementation carries the options for its operation; Main routes on
// the concrete type.
type Command interface {
	// Name returns the CLI sub-command identifier.
	Name() string
}

// RunCommand starts the HTTP server.
type RunCommand struct{}

func (c *RunCommand) Name() string { return "run" }

// MigrateCommand applies store schema setup. It is safe to run repeatedly:
// SurrealDB creates tables implicitly, so this only defines indexes.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string { return "migrate" }
