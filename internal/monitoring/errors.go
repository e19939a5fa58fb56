package monitoring

import (
	"errors"
	"fmt"

	"github.com/John-MustangGT/sentinel/internal/database"
)

var (
	ErrWrongMonitorType    = errors.New("monitor type does not accept this signal")
	ErrMissingValue        = errors.New("metric value is required")
	ErrNonFiniteValue      = fmt.Errorf("%w: metric value must be finite", database.ErrInvalid)
	ErrSelfDependency      = errors.New("a service cannot depend on itself")
	ErrDependencyCycle     = errors.New("dependency would create a cycle")
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")
)
