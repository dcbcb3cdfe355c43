package transferinfra

import "github.com/transloadr/transloader/pkg/errx"

var infraErrors = errx.NewRegistry("TRANSFER_REDIS")

var (
	ErrGet       = infraErrors.Register("GET", errx.TypeExternal, 503, "Reading a job record failed")
	ErrPut       = infraErrors.Register("PUT", errx.TypeExternal, 503, "Writing a job record failed")
	ErrIndex     = infraErrors.Register("INDEX", errx.TypeExternal, 503, "Updating the job index failed")
	ErrFlag      = infraErrors.Register("FLAG", errx.TypeExternal, 503, "Accessing the cancel flag failed")
	ErrMarshal   = infraErrors.Register("MARSHAL", errx.TypeInternal, 500, "Encoding a job record failed")
	ErrUnmarshal = infraErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Decoding a job record failed")
)
