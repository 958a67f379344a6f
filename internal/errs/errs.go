// Package errs holds the error taxonomy shared by the ingredient analysis pipeline.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInputValidation           = errors.New("input validation failed")
	ErrKnowledgeBaseProvisioning = errors.New("knowledge base provisioning failed")
	ErrPollingTimeout            = errors.New("no answer after polling")
	ErrResponseFormat            = errors.New("response is not in the expected format")
	ErrUpstreamService           = errors.New("upstream service failed")

	// ErrFallbackUnavailable marks a failure to create the shared fallback knowledge base.
	// Without it no ingredient can be analyzed safely, so the whole batch fails.
	ErrFallbackUnavailable = errors.New("fallback knowledge base unavailable")
)

// IngredientError attaches the pipeline step and ingredient to an error.
type IngredientError struct {
	Op         string
	Ingredient string
	Err        error
}

func (e *IngredientError) Error() string {
	if e.Ingredient != "" {
		return fmt.Sprintf("%s [ingredient=%s]: %v", e.Op, e.Ingredient, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IngredientError) Unwrap() error {
	return e.Err
}

func Wrap(op, ingredient string, err error) error {
	if err == nil {
		return nil
	}
	return &IngredientError{Op: op, Ingredient: ingredient, Err: err}
}
