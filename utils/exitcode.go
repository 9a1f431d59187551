package utils

import "errors"

const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitUsage      = 3
	ExitAPI        = 4
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

// WithCode はエラーに終了コードを付与します
func WithCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// ExitCode はエラーに付与された終了コードを返します
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ExitFailure
}
