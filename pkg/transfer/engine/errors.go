package engine

import "github.com/transloadr/transloader/pkg/errx"

var engineErrors = errx.NewRegistry("ENGINE")

var (
	// ErrUnsupportedSource: no configured engine can service the reference.
	ErrUnsupportedSource = engineErrors.Register("UNSUPPORTED_SOURCE", errx.TypeValidation, 400, "No download engine supports this source")

	// ErrPrimaryRequired: the reference needs the primary engine and the
	// primary is unavailable. Permanent for the job.
	ErrPrimaryRequired = engineErrors.Register("PRIMARY_REQUIRED", errx.TypeBusiness, 422, "Source requires the primary engine, which is unavailable")

	// ErrHandleNotFound: a poll or cancel referenced an unknown handle.
	ErrHandleNotFound = engineErrors.Register("HANDLE_NOT_FOUND", errx.TypeNotFound, 404, "Unknown transfer handle")
)

// Errors returns the engine error registry, for adapters in subpackages.
func Errors() *errx.Registry { return engineErrors }
