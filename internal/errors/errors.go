package errors

import "errors"

var (
	ErrModelArchiveNotFound     = errors.New("model archive not found")
	ErrBucketOutputMissing      = errors.New("stack did not report a model bucket")
	ErrStackNotFound            = errors.New("stack not found")
	ErrTemplateParamNotDeclared = errors.New("template does not declare parameter")
	ErrRegistryTokenUnavailable = errors.New("registry authorization token unavailable")
)
