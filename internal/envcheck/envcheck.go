// Package envcheck inspects a source tree's .env file for a development
// NODE_ENV setting.
package envcheck

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/subosito/gotenv"
)

// EnvFileName is the file looked up in the target directory
const EnvFileName = ".env"

// DevelopmentMarker is the literal whose presence marks a development tree
const DevelopmentMarker = "NODE_ENV=development"

// ErrEnvFileMissing is returned when the directory has no .env file
var ErrEnvFileMissing = errors.New(".env file not found in the specified directory")

// Result is the outcome of checking one directory
type Result struct {
	Path     string
	Present  bool   // file existed and was readable
	Detected bool   // verdict
	NodeEnv  string // parsed NODE_ENV value, diagnostics only
	Err      error  // ErrEnvFileMissing or a read error
}

// CheckEnvMarker reports whether contents is present and contains
// NODE_ENV=development.
func CheckEnvMarker(contents *string) bool {
	if contents == nil {
		return false
	}
	return strings.Contains(*contents, DevelopmentMarker)
}

// ReadEnvFile reads the .env file in dir. A missing file yields
// ErrEnvFileMissing; other failures are wrapped.
func ReadEnvFile(dir string) (*string, error) {
	path := filepath.Join(dir, EnvFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrEnvFileMissing
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	contents := string(data)
	return &contents, nil
}

// Check reads and classifies the .env file in dir. It never fails; an
// absent or unreadable file gives Detected=false with Err set.
func Check(dir string) Result {
	result := Result{Path: filepath.Join(dir, EnvFileName)}

	contents, err := ReadEnvFile(dir)
	if err != nil {
		result.Err = err
		return result
	}

	result.Present = true
	result.Detected = CheckEnvMarker(contents)
	result.NodeEnv = parseNodeEnv(*contents)
	return result
}

// parseNodeEnv resolves NODE_ENV the way a dotenv loader would. It can
// differ from the literal check (quotes, spacing, export prefix).
func parseNodeEnv(contents string) string {
	env, err := gotenv.StrictParse(strings.NewReader(contents))
	if err != nil {
		return ""
	}
	return env["NODE_ENV"]
}
