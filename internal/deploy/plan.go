package deploy

import "fmt"

// UploadTiming says when the model archive is uploaded relative to the
// stack deployment.
type UploadTiming int

const (
	// UploadBeforeDeploy uploads to an operator-supplied bucket before the
	// stack is applied.
	UploadBeforeDeploy UploadTiming = iota

	// UploadAfterDeploy defers the upload until the stack reports the
	// bucket it created.
	UploadAfterDeploy
)

func (t UploadTiming) String() string {
	switch t {
	case UploadBeforeDeploy:
		return "before-deploy"
	case UploadAfterDeploy:
		return "after-deploy"
	default:
		return "unknown"
	}
}

// UploadPlan is the upload-timing decision, resolved once at the start of a
// run. Bucket is set only when the operator supplied a pre-existing bucket;
// an empty Bucket is passed to the stack so the template creates one.
type UploadPlan struct {
	Timing UploadTiming
	Bucket string
}

// ResolveUploadPlan decides the upload timing from the optional
// pre-existing bucket name.
func ResolveUploadPlan(existingBucket string) UploadPlan {
	if existingBucket != "" {
		return UploadPlan{Timing: UploadBeforeDeploy, Bucket: existingBucket}
	}
	return UploadPlan{Timing: UploadAfterDeploy}
}

// PreExisting reports whether the operator supplied a bucket, and its name.
func (p UploadPlan) PreExisting() (string, bool) {
	return p.Bucket, p.Timing == UploadBeforeDeploy
}

// LocalImageRef is the tag applied to the locally built image.
func LocalImageRef(repository, tag string) string {
	return fmt.Sprintf("%s:%s", repository, tag)
}

// RemoteImageRef is the fully-qualified registry reference the image is
// pushed as.
func RemoteImageRef(repositoryURI, tag string) string {
	return fmt.Sprintf("%s:%s", repositoryURI, tag)
}
