package directive

import "fmt"

// Note codes for non-fatal canonicalization actions. Fatal violations carry
// the taxonomy kind tokens from pkg/errors.
const (
	NoteMigrated  = "MIGRATED"
	NoteRelocated = "RELOCATED"
)

// Violation is one structured finding from canonicalization. Fatal findings
// halt the pipeline; notes record migrations and relocations that changed
// the document shape.
type Violation struct {
	Code   string
	Path   string
	Detail string
	Fatal  bool
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Code, v.Detail, v.Path)
}

func note(code, path, detail string) Violation {
	return Violation{Code: code, Path: path, Detail: detail, Fatal: false}
}

func fatal(code, path, detail string) Violation {
	return Violation{Code: code, Path: path, Detail: detail, Fatal: true}
}
