// Package validation provides input validation for flux configuration and
// operator options.
//
// It supports both struct tag validation (using the validator library) and
// programmatic validation with error collection. Both return an
// *errors.AppError with code INVALID_INPUT.
//
// # Struct Tag Validation
//
//	type Config struct {
//	    DefaultConcurrency int `mapstructure:"default_concurrency" validate:"gte=0"`
//	}
//	err := validation.Validate(cfg)
//
// # Programmatic Validation
//
//	err := validation.New().
//	    NonNegative("concurrency", k).
//	    Name("name", name).
//	    Err()
package validation
