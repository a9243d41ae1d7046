package deployment

import (
	"errors"
	"fmt"

	"github.com/atlanticdynamic/customjwt/internal/store"
)

var (
	// ErrDeployment is the base error for deployment failures.
	ErrDeployment = errors.New("deployment error")

	// ErrCustomizerNotFound wraps store.ErrNotFound so status mapping treats it as a missing record.
	ErrCustomizerNotFound = fmt.Errorf("%w: customizer not found", store.ErrNotFound)

	ErrEmptyScript        = fmt.Errorf("%w: script is empty", ErrDeployment)
	ErrUnsupportedRuntime = fmt.Errorf("%w: runtime cannot be deployed to the remote host", ErrDeployment)
	ErrPublish            = fmt.Errorf("%w: publish failed", ErrDeployment)
	ErrTeardown           = fmt.Errorf("%w: teardown failed", ErrDeployment)
	ErrPersist            = fmt.Errorf("%w: persist failed", ErrDeployment)
	ErrLock               = fmt.Errorf("%w: could not acquire tenant lock", ErrDeployment)
)
