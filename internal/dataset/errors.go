package dataset

import "errors"

// Validation errors. They are returned to the caller and shown as a
// short-lived dataset message.
var (
	ErrDuplicateColumn = errors.New("dataset: duplicate column name")
	ErrEmptyColumn     = errors.New("dataset: column name is empty")
	ErrFixedColumn     = errors.New("dataset: only user-added columns can be removed")
	ErrUnknownColumn   = errors.New("dataset: unknown column")
	ErrNoColumns       = errors.New("dataset: no columns defined")
	ErrLastRow         = errors.New("dataset: the last row cannot be removed")
	ErrRowOutOfRange   = errors.New("dataset: row out of range")
	ErrEmptyDataset    = errors.New("dataset: dataset is empty")
	ErrUnknownMode     = errors.New("dataset: unknown mode")
	ErrWrongMode       = errors.New("dataset: operation not available in this mode")
	ErrInvalidValue    = errors.New("dataset: cell value must be a string or a number")
	ErrInvalidFile     = errors.New("file format invalid")
)

var (
	// ErrLoadInFlight rejects mutations while a load, import or save is
	// outstanding.
	ErrLoadInFlight = errors.New("dataset: a load or save is in progress")
	// ErrSuperseded is returned by an import or save whose result was
	// discarded because the dataset was reset, switched or closed meanwhile.
	ErrSuperseded = errors.New("dataset: operation superseded")
)

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrDuplicateColumn, ErrEmptyColumn, ErrFixedColumn, ErrUnknownColumn, ErrNoColumns,
		ErrLastRow, ErrRowOutOfRange, ErrEmptyDataset, ErrUnknownMode, ErrWrongMode, ErrInvalidValue, ErrInvalidFile,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
