// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Loading applies defaults before validation, so a minimal file only needs
// instance.id and stream.endpoint.
package config
