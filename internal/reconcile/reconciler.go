// Package reconcile computes and applies the plan that brings a remote
// backup prefix in line with the current kept set of local backup files.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/fingerprint"
	"github.com/UoA-eResearch/s3backupdb/internal/logging"
	"github.com/UoA-eResearch/s3backupdb/internal/rotation"
	"github.com/UoA-eResearch/s3backupdb/internal/storage"
)

// UploadReason explains why a file is in the upload set
type UploadReason string

const (
	// ReasonMissing means no remote object exists at the key
	ReasonMissing UploadReason = "missing"
	// ReasonSizeMismatch means the remote object's size differs
	ReasonSizeMismatch UploadReason = "size-mismatch"
	// ReasonFingerprintMismatch means sizes match but fingerprints differ
	ReasonFingerprintMismatch UploadReason = "fingerprint-mismatch"
)

// Upload is a single planned upload
type Upload struct {
	File   rotation.File
	Key    string
	Reason UploadReason
	// LocalFingerprint is filled during planning when the comparison
	// required computing it; otherwise it is computed at apply time
	LocalFingerprint string
}

// Plan is the set of actions that reconciles remote state with the kept
// local set. It is computed fresh each run and never persisted.
type Plan struct {
	Uploads   []Upload
	Deletions []storage.ObjectInfo
	// Unchanged are keys whose size and fingerprint already match
	Unchanged []string
	// Failed records files that could not be compared during planning
	Failed []string
}

// IsEmpty reports whether the plan requires no mutations
func (p *Plan) IsEmpty() bool {
	return len(p.Uploads) == 0 && len(p.Deletions) == 0
}

// Result summarizes an applied plan
type Result struct {
	Uploaded      int
	Reuploaded    int
	Unchanged     int
	RemoteDeleted int
	Failed        []string
	Duration      time.Duration
}

// Reconciler compares kept local files against the remote listing and
// applies the resulting plan. One instance serves one run; runs against the
// same prefix must be serialized externally.
type Reconciler struct {
	store  storage.ObjectStore
	prefix string
	logger *logging.Logger
}

// New creates a reconciler for the given store and destination prefix
func New(store storage.ObjectStore, prefix string, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Reconciler{
		store:  store,
		prefix: prefix,
		logger: logger,
	}
}

// Key returns the destination key for a local base name
func (r *Reconciler) Key(name string) string {
	if r.prefix == "" {
		return name
	}
	return strings.TrimSuffix(r.prefix, "/") + "/" + name
}

// baseName strips the destination prefix from a remote key
func (r *Reconciler) baseName(key string) string {
	if r.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(r.prefix, "/")+"/")
}

// Plan lists the remote prefix once and computes the action sets. A kept
// file uploads when its object is missing, its size differs, or its
// fingerprint differs; a remote object with no kept counterpart is deleted.
// Files that cannot be read are recorded as failed and skipped.
func (r *Reconciler) Plan(ctx context.Context, kept []rotation.File) (*Plan, error) {
	spec := r.store.Fingerprints()

	listing, err := r.store.List(ctx, r.Key(""))
	if err != nil {
		return nil, err
	}

	remote := make(map[string]storage.ObjectInfo, len(listing))
	for _, obj := range listing {
		remote[r.baseName(obj.Key)] = obj
	}

	plan := &Plan{}

	for _, file := range kept {
		obj, exists := remote[file.Name]
		delete(remote, file.Name)

		if !exists {
			r.logger.Debugf("plan: %s missing remotely, will upload", file.Name)
			plan.Uploads = append(plan.Uploads, Upload{File: file, Key: r.Key(file.Name), Reason: ReasonMissing})
			continue
		}

		if obj.Size != file.Size {
			r.logger.Debugf("plan: %s size mismatch (local %d, remote %d), will re-upload",
				file.Name, file.Size, obj.Size)
			plan.Uploads = append(plan.Uploads, Upload{File: file, Key: r.Key(file.Name), Reason: ReasonSizeMismatch})
			continue
		}

		localFP, err := fingerprint.Compute(file.Path, spec)
		if err != nil {
			r.logger.Errorf("plan: cannot fingerprint %s: %v", file.Path, err)
			plan.Failed = append(plan.Failed, fmt.Sprintf("fingerprint %s: %v", file.Name, err))
			continue
		}

		if localFP != obj.ETag {
			r.logger.Debugf("plan: %s fingerprint mismatch (local %s, remote %s), will re-upload",
				file.Name, localFP, obj.ETag)
			plan.Uploads = append(plan.Uploads, Upload{
				File:             file,
				Key:              r.Key(file.Name),
				Reason:           ReasonFingerprintMismatch,
				LocalFingerprint: localFP,
			})
			continue
		}

		r.logger.Debugf("plan: %s unchanged", file.Name)
		plan.Unchanged = append(plan.Unchanged, file.Name)
	}

	// Whatever is left under the prefix has no kept counterpart: either
	// rotation retired the file locally, or it never belonged there.
	for _, obj := range remote {
		r.logger.Debugf("plan: %s has no kept local file, will delete", obj.Key)
		plan.Deletions = append(plan.Deletions, obj)
	}

	return plan, nil
}

// Apply performs the plan's uploads, verifies each by re-fetching the remote
// fingerprint, then performs the deletions. Per-file failures are collected
// rather than aborting the batch; deletions run regardless of upload
// outcomes since a stale object's removal depends on nothing else.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) *Result {
	start := time.Now()
	result := &Result{
		Unchanged: len(plan.Unchanged),
		Failed:    append([]string{}, plan.Failed...),
	}

	for _, upload := range plan.Uploads {
		if err := r.applyUpload(ctx, upload); err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("upload %s: %v", upload.Key, err))
			continue
		}
		result.Uploaded++
		if upload.Reason != ReasonMissing {
			result.Reuploaded++
		}
	}

	for _, obj := range plan.Deletions {
		err := r.store.Delete(ctx, obj.Key)
		r.logger.LogDelete(obj.Key, err)
		if err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("delete %s: %v", obj.Key, err))
			continue
		}
		result.RemoteDeleted++
	}

	result.Duration = time.Since(start)
	return result
}

// applyUpload uploads one file and verifies the stored fingerprint matches
// the locally computed one
func (r *Reconciler) applyUpload(ctx context.Context, upload Upload) error {
	localFP := upload.LocalFingerprint
	if localFP == "" {
		var err error
		localFP, err = fingerprint.Compute(upload.File.Path, r.store.Fingerprints())
		if err != nil {
			return err
		}
	}

	start := time.Now()
	_, err := r.store.Upload(ctx, upload.Key, upload.File.Path)
	r.logger.LogUpload(upload.Key, upload.File.Size, time.Since(start), err)
	if err != nil {
		return err
	}

	head, err := r.store.Head(ctx, upload.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return apperrors.NewVerificationError("uploaded object not found on verification", err).
				WithContext("key", upload.Key)
		}
		return err
	}

	match := head.ETag == localFP
	r.logger.LogVerification(upload.Key, localFP, head.ETag, match)
	if !match {
		return apperrors.NewVerificationError("fingerprint mismatch after upload", nil).
			WithContext("key", upload.Key).
			WithContext("local_etag", localFP).
			WithContext("remote_etag", head.ETag)
	}

	return nil
}
