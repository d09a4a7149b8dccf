// Package compatibility provides schema compatibility checking.
package compatibility

// Level is a compatibility level configured globally or per subject.
type Level string

const (
	// LevelNone disables compatibility checking.
	LevelNone Level = "NONE"

	// LevelBackward means the new schema can read data written by the
	// latest schema.
	LevelBackward Level = "BACKWARD"

	// LevelBackwardTransitive means the new schema can read data written
	// by every previous schema.
	LevelBackwardTransitive Level = "BACKWARD_TRANSITIVE"

	// LevelForward means the latest schema can read data written by the
	// new schema.
	LevelForward Level = "FORWARD"

	// LevelForwardTransitive means every previous schema can read data
	// written by the new schema.
	LevelForwardTransitive Level = "FORWARD_TRANSITIVE"

	// LevelFull requires both backward and forward compatibility with the
	// latest schema.
	LevelFull Level = "FULL"

	// LevelFullTransitive requires both directions against every previous
	// schema.
	LevelFullTransitive Level = "FULL_TRANSITIVE"
)

// IsValid reports whether the level is recognized.
func (l Level) IsValid() bool {
	switch l {
	case LevelNone, LevelBackward, LevelBackwardTransitive,
		LevelForward, LevelForwardTransitive, LevelFull, LevelFullTransitive:
		return true
	}
	return false
}

// IsTransitive reports whether every previous version must be checked.
func (l Level) IsTransitive() bool {
	switch l {
	case LevelBackwardTransitive, LevelForwardTransitive, LevelFullTransitive:
		return true
	}
	return false
}

// RequiresBackward reports whether the new schema must read old data.
func (l Level) RequiresBackward() bool {
	switch l {
	case LevelBackward, LevelBackwardTransitive, LevelFull, LevelFullTransitive:
		return true
	}
	return false
}

// RequiresForward reports whether old schemas must read new data.
func (l Level) RequiresForward() bool {
	switch l {
	case LevelForward, LevelForwardTransitive, LevelFull, LevelFullTransitive:
		return true
	}
	return false
}

// ParseLevel parses a level string.
func ParseLevel(s string) (Level, bool) {
	l := Level(s)
	return l, l.IsValid()
}
