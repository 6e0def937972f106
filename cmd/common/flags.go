package common

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CommonFlags contains flags that are shared across commands
type CommonFlags struct {
	EnvFile    *string
	ConfigFile *string
	Verbose    *bool
	Version    *bool
}

// RegisterCommonFlags registers the shared flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile:    fs.String("env", ".env", "Environment file path"),
		ConfigFile: fs.String("config", "", "YAML config file (defaults and env overrides apply without one)"),
		Verbose:    fs.Bool("verbose", false, "Enable debug logging"),
		Version:    fs.Bool("version", false, "Show version information"),
	}
}

// FlagValidator collects flag validation errors
type FlagValidator struct {
	errors []string
}

// NewFlagValidator creates a new flag validator
func NewFlagValidator() *FlagValidator {
	return &FlagValidator{
		errors: make([]string, 0),
	}
}

// ValidateInt validates an int flag value
func (v *FlagValidator) ValidateInt(name string, value int, min, max int) *FlagValidator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d, got: %d", name, min, max, value))
	}
	return v
}

// ValidateDuration validates that a duration flag is not negative
func (v *FlagValidator) ValidateDuration(name string, value time.Duration) *FlagValidator {
	if value < 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must not be negative, got: %s", name, value))
	}
	return v
}

// ValidateFile validates that a file exists
func (v *FlagValidator) ValidateFile(name, path string, required bool) *FlagValidator {
	if path == "" {
		if required {
			v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
		}
		return v
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.errors = append(v.errors, fmt.Sprintf("%s file does not exist: %s", name, path))
	}
	return v
}

// ValidateExtension validates that path, when set, ends in ext
func (v *FlagValidator) ValidateExtension(name, path, ext string) *FlagValidator {
	if path != "" && !strings.EqualFold(filepath.Ext(path), ext) {
		v.errors = append(v.errors, fmt.Sprintf("%s must be a %s file, got: %s", name, ext, path))
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *FlagValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// GetError returns a formatted error message with all validation errors
func (v *FlagValidator) GetError() error {
	if len(v.errors) == 0 {
		return nil
	}

	if len(v.errors) == 1 {
		return fmt.Errorf("validation error: %s", v.errors[0])
	}

	return fmt.Errorf("validation errors:\n  - %s", strings.Join(v.errors, "\n  - "))
}

// UsageFormatter prints usage with examples
type UsageFormatter struct {
	AppName        string
	AppDescription string
	Examples       []UsageExample
}

// UsageExample represents a usage example
type UsageExample struct {
	Command     string
	Description string
}

// NewUsageFormatter creates a new usage formatter
func NewUsageFormatter(appName, description string) *UsageFormatter {
	return &UsageFormatter{
		AppName:        appName,
		AppDescription: description,
	}
}

// AddExample adds a usage example
func (u *UsageFormatter) AddExample(command, description string) *UsageFormatter {
	u.Examples = append(u.Examples, UsageExample{
		Command:     command,
		Description: description,
	})
	return u
}

// Usage returns a flag.FlagSet Usage func
func (u *UsageFormatter) Usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "%s - %s\n\n", u.AppName, u.AppDescription)
		fmt.Fprintf(out, "USAGE:\n  %s [OPTIONS]\n\n", filepath.Base(os.Args[0]))

		if len(u.Examples) > 0 {
			fmt.Fprintf(out, "EXAMPLES:\n")
			for _, example := range u.Examples {
				fmt.Fprintf(out, "  # %s\n  %s\n\n", example.Description, example.Command)
			}
		}

		fmt.Fprintf(out, "OPTIONS:\n")
		fs.PrintDefaults()
	}
}
