package metadata

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// CompileGuard checks that a guard expression parses. An empty guard always matches.
func CompileGuard(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	if _, err := goja.Compile("guard", expression, true); err != nil {
		return fmt.Errorf("invalid guard %q: %w", expression, err)
	}
	return nil
}

// EvaluateGuard runs expression with the application attributes bound to $ and
// returns its truthiness.
func EvaluateGuard(expression string, attributes map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}
	prg, err := goja.Compile("guard", expression, true)
	if err != nil {
		return false, fmt.Errorf("invalid guard %q: %w", expression, err)
	}
	if attributes == nil {
		attributes = map[string]any{}
	}
	vm := goja.New()
	if err := vm.Set("$", attributes); err != nil {
		return false, err
	}
	val, err := vm.RunProgram(prg)
	if err != nil {
		return false, fmt.Errorf("error executing guard %w", err)
	}
	return val.ToBoolean(), nil
}
