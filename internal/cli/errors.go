package cli

import (
	"errors"

	"github.com/roach88/treesync/internal/auth"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/progress"
)

// report prints err with the CLI error code that matches it and returns an
// ExitError carrying the exit code.
func report(f *OutputFormatter, err error) error {
	var exitErr *ExitError
	var saveErr *engine.SaveError
	switch {
	case errors.As(err, &exitErr):
		code := ErrCodeGeneric
		if exitErr.Code == ExitCommandError {
			code = ErrCodeConfig
		}
		_ = f.Error(code, err.Error(), nil)
		return err
	case errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrStopped):
		return f.Fail(ExitFailure, ErrCodeNotReady, err, nil)
	case errors.Is(err, progress.ErrHabitNotFound):
		return f.Fail(ExitFailure, ErrCodeNotFound, err, nil)
	case errors.Is(err, progress.ErrInvalidName),
		errors.Is(err, progress.ErrHabitLimit),
		errors.Is(err, progress.ErrMaxLevel),
		errors.Is(err, progress.ErrInvalidLevel),
		errors.Is(err, progress.ErrAlreadyChecked):
		return f.Fail(ExitFailure, ErrCodeInvalid, err, nil)
	case errors.As(err, &saveErr):
		return f.Fail(ExitFailure, ErrCodeSave, err, map[string]string{"remote": saveErr.Remote.String()})
	case auth.Code(err) != "":
		return f.Fail(ExitFailure, ErrCodeAuth, err, map[string]string{"code": auth.Code(err)})
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, err, nil)
	}
}

// usage reports a bad argument.
func usage(f *OutputFormatter, err error) error {
	return f.Fail(ExitCommandError, ErrCodeInvalid, err, nil)
}
