package compatibility

import (
	"github.com/axonops/kafka-schema-registry/internal/storage"
)

// SchemaWithRefs bundles a schema string with its resolved references.
type SchemaWithRefs struct {
	Schema     string
	References []storage.Reference
}

// SchemaChecker checks one schema type. Reader and writer follow the Avro
// convention: the reader decodes data the writer wrote.
type SchemaChecker interface {
	Check(reader, writer SchemaWithRefs) *Result
}

// Checker orchestrates compatibility checking across schema types.
type Checker struct {
	checkers map[storage.SchemaType]SchemaChecker
}

// NewChecker creates a checker with no types registered.
func NewChecker() *Checker {
	return &Checker{checkers: make(map[storage.SchemaType]SchemaChecker)}
}

// Register installs a type-specific checker.
func (c *Checker) Register(schemaType storage.SchemaType, checker SchemaChecker) {
	c.checkers[schemaType] = checker
}

// Check verifies candidate against previous versions under the given level.
// previous must be ordered oldest to newest; non-transitive levels check
// only the newest entry.
func (c *Checker) Check(level Level, schemaType storage.SchemaType, candidate SchemaWithRefs, previous []SchemaWithRefs) *Result {
	if level == LevelNone || len(previous) == 0 {
		return Compatible()
	}

	checker, ok := c.checkers[schemaType]
	if !ok {
		return Incompatible("no compatibility checker for schema type: " + string(schemaType))
	}

	toCheck := previous
	if !level.IsTransitive() {
		toCheck = previous[len(previous)-1:]
	}

	result := Compatible()
	for i, prev := range toCheck {
		if level.RequiresBackward() {
			if r := checker.Check(candidate, prev); !r.IsCompatible {
				for _, msg := range r.Messages {
					result.Fail("backward check failed against version %d: %s", i+1, msg)
				}
			}
		}
		if level.RequiresForward() {
			if r := checker.Check(prev, candidate); !r.IsCompatible {
				for _, msg := range r.Messages {
					result.Fail("forward check failed against version %d: %s", i+1, msg)
				}
			}
		}
	}
	return result
}
