package probes

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// AddRequest is the schema-validated parameter record: both addends must be
// present in the payload.
type AddRequest struct {
	X *int64 `json:"x" validate:"required"`
	Y *int64 `json:"y" validate:"required"`
}

// AddResult is the schema-validated result record.
type AddResult struct {
	Result *int64 `json:"result" validate:"required"`
}

// AddRequestAlias exercises validation through a type alias of the request
// record.
type AddRequestAlias = AddRequest

var schemaValidator = validator.New()

// AddValidated adds two numbers with the parameter and result records
// validated at the task boundary, never inside the body.
func AddValidated(payload string) (string, error) {
	var req AddRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", fmt.Errorf("add_validated: decode request: %w", err)
	}
	if err := schemaValidator.Struct(req); err != nil {
		return "", fmt.Errorf("add_validated: invalid request: %w", err)
	}

	sum := *req.X + *req.Y
	res := AddResult{Result: &sum}
	if err := schemaValidator.Struct(res); err != nil {
		return "", fmt.Errorf("add_validated: invalid result: %w", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("add_validated: encode result: %w", err)
	}
	return string(b), nil
}

// AddValidatedAlias is AddValidated through the aliased request type.
func AddValidatedAlias(payload string) (string, error) {
	var req AddRequestAlias
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", fmt.Errorf("add_validated_alias: decode request: %w", err)
	}
	if err := schemaValidator.Struct(req); err != nil {
		return "", fmt.Errorf("add_validated_alias: invalid request: %w", err)
	}

	sum := *req.X + *req.Y
	res := AddResult{Result: &sum}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("add_validated_alias: encode result: %w", err)
	}
	return string(b), nil
}
