package transfer

import "github.com/transloadr/transloader/pkg/errx"

var transferErrors = errx.NewRegistry("TRANSFER")

var (
	// Submission and validation.
	ErrInvalidSource   = transferErrors.Register("INVALID_SOURCE", errx.TypeValidation, 400, "Source is not a valid URL or magnet link")
	ErrSchemeBlocked   = transferErrors.Register("SCHEME_BLOCKED", errx.TypeValidation, 400, "Source scheme is not allowed")
	ErrAddressBlocked  = transferErrors.Register("ADDRESS_BLOCKED", errx.TypeValidation, 400, "Source resolves to a blocked address")
	ErrSourceTooLarge  = transferErrors.Register("SOURCE_TOO_LARGE", errx.TypeValidation, 413, "Source exceeds the maximum allowed size")
	ErrInvalidStatus   = transferErrors.Register("INVALID_STATUS", errx.TypeValidation, 400, "Unknown status filter")
	ErrInvalidLimit    = transferErrors.Register("INVALID_LIMIT", errx.TypeValidation, 400, "Limit must be a positive integer")

	// Lookup and lifecycle.
	ErrJobNotFound       = transferErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Transfer job not found")
	ErrJobExists         = transferErrors.Register("JOB_EXISTS", errx.TypeConflict, 409, "Transfer job already exists")
	ErrIllegalTransition = transferErrors.Register("ILLEGAL_TRANSITION", errx.TypeInternal, 500, "Illegal job status transition")

	// Pipeline outcomes.
	ErrRetriesExhausted = transferErrors.Register("RETRIES_EXHAUSTED", errx.TypeBusiness, 422, "All fetch attempts failed")
	ErrFetchFailed      = transferErrors.Register("FETCH_FAILED", errx.TypeExternal, 502, "Fetching the source failed")
	ErrFetchTimeout     = transferErrors.Register("FETCH_TIMEOUT", errx.TypeExternal, 504, "Fetch did not finish within the allowed time")
	ErrUploadFailed     = transferErrors.Register("UPLOAD_FAILED", errx.TypeExternal, 502, "Relaying to remote storage failed")
	ErrUploadRejected   = transferErrors.Register("UPLOAD_REJECTED", errx.TypeBusiness, 422, "Remote storage rejected the object")
	ErrStagingMissing   = transferErrors.Register("STAGING_MISSING", errx.TypeInternal, 500, "Staged file disappeared before relay")

	// Cooperative cancellation observed mid-pipeline.
	ErrCancelRequested = transferErrors.Register("CANCEL_REQUESTED", errx.TypeBusiness, 409, "Cancellation was requested for this job")

	// Infrastructure. Returned from the queue handler so delivery retries.
	ErrStoreUnavailable = transferErrors.Register("STORE_UNAVAILABLE", errx.TypeExternal, 503, "Job record store is unreachable")
)

// Errors returns the transfer error registry, for infrastructure
// adapters in subpackages.
func Errors() *errx.Registry { return transferErrors }

// IsNotFound reports whether err is the missing-record error.
func IsNotFound(err error) bool { return errx.IsCode(err, ErrJobNotFound) }
