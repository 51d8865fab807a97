package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/livedoc/internal/logging"
)

// normalizeFlagName accepts --allowed_origin as well as --allowed-origin.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// AddFlagValidation makes a flag reject values the validator refuses at parse time.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(flagName)
	}
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: flag.Value.Set,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// ValidatePort checks a port flag value.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel checks a log level flag value.
func ValidateLogLevel(level string) error {
	_, err := logging.ParseLevel(level)
	return err
}

// ValidateLogFormat checks a log format flag value.
func ValidateLogFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format %s, must be one of: text, json", format)
	}
	return nil
}
