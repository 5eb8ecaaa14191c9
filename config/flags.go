package config

import (
	"flag"

	"github.com/pkg/errors"
)

const defaultConfigPath = "config.yaml"

// Flags command line options.
type Flags struct {
	ConfigPath string
	// Preview prints the ladder of every configured bot and exits.
	Preview bool
	// History prints closed deals and exits.
	History bool
	// StopBot deactivates the bot with this id and exits.
	StopBot string
	// Setup runs the interactive bot wizard.
	Setup bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("dcaladder", flag.ContinueOnError)

	var f Flags
	fs.StringVar(&f.ConfigPath, "config", defaultConfigPath, "path to yaml config")
	fs.BoolVar(&f.Preview, "preview", false, "print the ladder of every bot without trading")
	fs.BoolVar(&f.History, "history", false, "print closed deals")
	fs.StringVar(&f.StopBot, "stop-bot", "", "stop the bot with the given id after its current deal")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive setup wizard")

	if err := fs.Parse(args); err != nil {
		return Flags{}, errors.Wrap(err, "parse flags")
	}

	return f, nil
}
