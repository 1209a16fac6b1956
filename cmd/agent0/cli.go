package main

import "github.com/alecthomas/kong"

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" default:"agent0.toml" help:"TOML config file (skipped when missing)"`
	Env    string `default:".env" help:"dotenv file loaded before the config (skipped when missing)"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run    RunCmd    `cmd:"" default:"1" help:"Run the agent loop"`
	Tools  ToolsCmd  `cmd:"" help:"Refresh the tool pool once and print the import lines"`
	Events EventsCmd `cmd:"" help:"Print the event tree from the state database"`
}

// RunCmd runs the agent loop for this generation.
type RunCmd struct {
	MaxTurns int    `help:"Stop after this many turns (overrides config)"`
	Provider string `help:"Model provider: openai or dummy (overrides config)"`
}

// ToolsCmd runs one registry refresh.
type ToolsCmd struct {
	Stubs bool `help:"Print signature and docstring stubs instead of import lines"`
}

// EventsCmd prints persisted events.
type EventsCmd struct {
	DB        string `help:"SQLite database path (defaults to storage.db_path)"`
	ID        int64  `help:"Show subtree of a specific event ID"`
	Depth     int    `short:"L" help:"Limit display depth (0 = unlimited)"`
	JSON      bool   `help:"Output JSON"`
	NoPayload bool   `help:"Hide payload details"`
}

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("agent0"),
		kong.Description("A self-extending agent loop that runs model-written code."),
		kong.UsageOnError(),
	)
}
