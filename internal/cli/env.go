// Package cli holds flag helpers shared by the dronewatch subcommands.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVariable names an env file that takes precedence over --env.
const EnvFileVariable = "DRONEWATCH_ENV_FILE"

// EnvFile is the --env flag of one subcommand.
type EnvFile struct {
	fs          *flag.FlagSet
	path        *string
	defaultPath string
}

// AddEnvFlag registers --env on fs.
func AddEnvFlag(fs *flag.FlagSet, defaultPath string) *EnvFile {
	if fs == nil {
		fs = flag.CommandLine
	}
	return &EnvFile{
		fs:          fs,
		path:        fs.String("env", defaultPath, "Path to the .env file"),
		defaultPath: defaultPath,
	}
}

// Apply loads the env file into the process environment once flags are
// parsed. Values in the file override the environment. A file named by
// DRONEWATCH_ENV_FILE or passed explicitly with --env must exist; the default
// one may be missing. Apply returns the path it loaded, or "" if none.
func (e *EnvFile) Apply() (string, error) {
	if override := strings.TrimSpace(os.Getenv(EnvFileVariable)); override != "" {
		if err := godotenv.Overload(override); err != nil {
			return "", fmt.Errorf("load %s from %s: %w", override, EnvFileVariable, err)
		}
		return override, nil
	}

	path := strings.TrimSpace(*e.path)
	if path == "" {
		return "", nil
	}
	err := godotenv.Overload(path)
	switch {
	case err == nil:
		return path, nil
	case os.IsNotExist(err) && !e.explicit():
		return "", nil
	default:
		return "", fmt.Errorf("load env file %s: %w", path, err)
	}
}

func (e *EnvFile) explicit() bool {
	set := false
	e.fs.Visit(func(f *flag.Flag) {
		if f.Name == "env" {
			set = true
		}
	})
	return set || *e.path != e.defaultPath
}
