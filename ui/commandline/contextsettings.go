// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ParseContextSettings from settings, typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "fno_modes=12;batch_size=20".
//
// All the parameters must be already set with default values in the root of ctx: the default values
// define the type to which the string values are parsed.
//
// A setting can be scoped, e.g. "/model/block_0/fno_modes=8", as long as a default "fno_modes" is defined
// in the root scope. A setting "file:<path>" reads settings from the file, one or more per line, with lines
// starting with "#" ignored.
//
// For integer types, "_" is removed, so large numbers can be written as in Go, e.g.: "train_samples=10_000".
//
// It returns the list of parameters set, in the order they were set.
func ParseContextSettings(ctx *context.Context, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseContextSetting(ctx, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseContextSetting(ctx *context.Context, setting string, paramsSet []string) ([]string, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		return parseContextSettingsFile(ctx, filePath, paramsSet)
	}

	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found || strings.Contains(valueStr, "=") {
		return paramsSet, errors.Errorf("can't parse setting %q: it requires the format \"<param>=<value>\"", setting)
	}
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		return paramsSet, errors.Errorf("can't set parameter %q: its scope must be absolute (start with %q)",
			paramPath, context.ScopeSeparator)
	}
	defaultValue, found := ctx.GetParam(paramName)
	if !found {
		return paramsSet, errors.Errorf("can't set parameter %q: %q is not a known parameter", paramPath, paramName)
	}
	value, err := parseValueAs(defaultValue, valueStr)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)",
			valueStr, paramPath, defaultValue)
	}

	ctxInScope := ctx
	if paramScope != "" {
		ctxInScope = ctx.InAbsPath(paramScope)
	}
	ctxInScope.SetParam(paramName, value)
	return append(paramsSet, paramPath), nil
}

func parseContextSettingsFile(ctx *context.Context, filePath string, paramsSet []string) ([]string, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return paramsSet, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, setting := range strings.Split(line, ";") {
			paramsSet, err = parseContextSetting(ctx, setting, paramsSet)
			if err != nil {
				return paramsSet, err
			}
		}
	}
	return paramsSet, nil
}

// parseValueAs parses valueStr to the type of defaultValue.
func parseValueAs(defaultValue any, valueStr string) (any, error) {
	switch defaultValue.(type) {
	case int:
		return parseJSON[int](strings.ReplaceAll(valueStr, "_", ""))
	case int64:
		return parseJSON[int64](strings.ReplaceAll(valueStr, "_", ""))
	case float64:
		return parseJSON[float64](valueStr)
	case float32:
		return parseJSON[float32](valueStr)
	case bool:
		return parseJSON[bool](valueStr)
	case string:
		return valueStr, nil
	case []string:
		return strings.Split(valueStr, ","), nil
	case []int:
		var err error
		values := xslices.Map(strings.Split(valueStr, ","), func(str string) int {
			v, parseErr := parseJSON[int](strings.ReplaceAll(str, "_", ""))
			if parseErr != nil {
				err = parseErr
			}
			return v
		})
		return values, err
	}
	return nil, errors.Errorf("don't know how to parse type %T", defaultValue)
}

func parseJSON[T any](valueStr string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(valueStr), &v)
	return v, err
}

// CreateContextSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") with a description listing the parameters defined in the root scope of ctx, sorted by name.
//
// The flag should be created before the call to flag.Parse(). Example usage:
//
//	func main() {
//		ctx := poisson1d.CreateDefaultContext()
//		settings := commandline.CreateContextSettingsFlag(ctx, "")
//		flag.Parse()
//		paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
//		...
//	}
func CreateContextSettingsFlag(ctx *context.Context, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	defaults := make(map[string]any)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			defaults[key] = value
		}
	})
	parts := []string{fmt.Sprintf(
		`Set context parameters defining the model and the training. `+
			`It should be a list of elements "param=value" separated by ";". `+
			`Scoped settings are allowed, by using %q to separate scopes. `+
			`An entry like "file:settings.txt" reads the settings from the file, one or more per line, `+
			`and lines starting with "#" are ignored. `+
			`Parameters that can be set:`,
		context.ScopeSeparator)}
	for _, key := range xslices.SortedKeys(defaults) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, defaults[key]))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintContextSettings pretty-prints the current hyperparameters of all scopes.
func SprintContextSettings(ctx *context.Context) string {
	var parts []string
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			scope = ""
		}
		parts = append(parts, fmt.Sprintf("\t\"%s/%s\": (%T) %v", scope, key, value, value))
	})
	return strings.Join(parts, "\n")
}

// SprintModifiedContextSettings pretty-prints the values of the parameters in paramsSet (as returned by
// ParseContextSettings), sorted and without duplicates.
func SprintModifiedContextSettings(ctx *context.Context, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, paramPath := range paramsSet {
		paramScope, paramName := context.SplitScope(paramPath)
		if paramScope == "" {
			paramScope = context.RootScope
		}
		value, found := ctx.InAbsPath(paramScope).GetParam(paramName)
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", paramPath, value, value))
	}
	return strings.Join(parts, "\n")
}
