package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator.Validate caches struct metadata and is safe for
// concurrent use.
var validate = validator.New()

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields, valid values and
// contradictory replication set definitions.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, structErrors(c)...)

	if len(c.ReplicationSets) == 0 {
		errs = append(errs, ValidationError{
			Field:   "replication_sets",
			Message: "at least one replication set must be defined",
		})
	}

	seen := make(map[string]bool)
	for i := range c.ReplicationSets {
		rs := &c.ReplicationSets[i]
		prefix := fmt.Sprintf("replication_sets[%d]", i)
		if rs.Name != "" {
			if seen[rs.Name] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".name",
					Message: fmt.Sprintf("duplicate replication set name %q", rs.Name),
				})
			}
			seen[rs.Name] = true
		}
		errs = append(errs, c.validateSet(prefix, rs)...)
	}

	errs = append(errs, c.validateInit()...)
	errs = append(errs, c.validateLogging()...)

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_address",
			Message: "listen_address is required when metrics are enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateSet(prefix string, rs *ReplicationSet) ValidationErrors {
	var errs ValidationErrors

	if rs.Source.DriverName() != DriverSQLServer {
		errs = append(errs, ValidationError{
			Field:   prefix + ".source.driver",
			Message: "source must be a sqlserver database (change tracking)",
		})
	}

	destKeys := make(map[string]string)
	for j, dst := range rs.Destinations {
		field := fmt.Sprintf("%s.destinations[%d]", prefix, j)
		if dst.ConnectionString != "" && dst.Key() == rs.Source.Key() {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "destination must not be the source database",
			})
		}
		if other, dup := destKeys[dst.Key()]; dup && dst.ConnectionString != "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("destination duplicates %q", other),
			})
		}
		destKeys[dst.Key()] = dst.Name
	}

	for j, tc := range rs.TableColumns {
		field := fmt.Sprintf("%s.table_columns[%d]", prefix, j)
		if len(rs.Tables) > 0 && !containsFold(rs.Tables, tc.TableName) {
			errs = append(errs, ValidationError{
				Field:   field + ".table_name",
				Message: fmt.Sprintf("table %q is not listed in tables", tc.TableName),
			})
		}
		if len(tc.Columns) > 0 {
			for _, key := range tc.Keys {
				if !containsFold(tc.Columns, key) {
					errs = append(errs, ValidationError{
						Field:   field + ".keys",
						Message: fmt.Sprintf("key %q must also be listed in columns", key),
					})
				}
			}
		}
	}

	return errs
}

func (c *Config) validateInit() ValidationErrors {
	var errs ValidationErrors
	for i, code := range c.Init {
		if code < 1 || code > 4 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("init[%d]", i),
				Message: fmt.Sprintf("unknown bootstrap stage %d (valid stages are 1-4)", code),
			})
		}
	}
	return errs
}

func (c *Config) validateLogging() ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errs
}

// structErrors runs the struct tag rules and converts their failures into
// ValidationErrors keyed by the yaml field path.
func structErrors(c *Config) ValidationErrors {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "config", Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   yamlPath(fe.Namespace()),
			Message: tagMessage(fe),
		})
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "value is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// yamlPath turns "Config.ReplicationSets[0].Source.ConnectionString" into
// "replication_sets[0].source.connection_string".
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		idx := ""
		if b := strings.IndexByte(p, '['); b >= 0 {
			p, idx = p[:b], p[b:]
		}
		parts[i] = snakeCase(p) + idx
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
