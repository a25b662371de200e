// Package glacier implements the archive upload transport against AWS
// S3 Glacier vaults. Small archives go up in a single call; larger ones use
// a multipart upload with concurrent part workers and SHA-256 tree hashing.
package glacier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

const (
	// DefaultPartSize is the multipart part size used when none is configured.
	DefaultPartSize int64 = 4 << 20
	// maxParts is the service limit on parts per multipart upload.
	maxParts int64 = 10000
	// DefaultWorkers is the number of concurrent part uploads.
	DefaultWorkers = 5
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	// KindUnknown covers failures with no specific classification.
	KindUnknown ErrorKind = iota
	// KindUnavailable marks transient service conditions worth retrying on
	// a later run (throttling, timeouts, 5xx).
	KindUnavailable
	// KindRejected marks requests the service refused outright (bad
	// parameters, missing vault, denied access).
	KindRejected
)

var errorKindToString = map[ErrorKind]string{
	KindUnknown:     "unknown",
	KindUnavailable: "unavailable",
	KindRejected:    "rejected",
}

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	if str, ok := errorKindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_error_kind(%d)", k)
}

// TransportError is the per-candidate failure of an upload. The executor
// records it in the report and leaves the ledger untouched so the candidate
// is retried on the next run.
type TransportError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("glacier %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify maps an SDK error onto the transport error taxonomy.
func classify(err error) ErrorKind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}
	switch apiErr.ErrorCode() {
	case "ServiceUnavailableException", "ThrottlingException", "RequestTimeoutException":
		return KindUnavailable
	case "InvalidParameterValueException", "MissingParameterValueException",
		"ResourceNotFoundException", "AccessDeniedException", "LimitExceededException":
		return KindRejected
	default:
		return KindUnknown
	}
}

func transportErr(op string, err error) *TransportError {
	return &TransportError{Kind: classify(err), Op: op, Err: err}
}

// NewClient builds a Glacier client from the ambient AWS configuration.
// region overrides the resolved region when non-empty.
func NewClient(ctx context.Context, region string) (*glacier.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return glacier.NewFromConfig(awsCfg), nil
}

// api is the subset of the Glacier client the uploader calls. It exists so
// tests can substitute a fake.
type api interface {
	UploadArchive(ctx context.Context, params *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
	InitiateMultipartUpload(ctx context.Context, params *glacier.InitiateMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.InitiateMultipartUploadOutput, error)
	UploadMultipartPart(ctx context.Context, params *glacier.UploadMultipartPartInput, optFns ...func(*glacier.Options)) (*glacier.UploadMultipartPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *glacier.CompleteMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *glacier.AbortMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.AbortMultipartUploadOutput, error)
}

// Uploader uploads archives into one vault.
type Uploader struct {
	client    api
	accountID string
	vault     string
	partSize  int64
	workers   int
}

// NewUploader creates an Uploader for the given vault. partSize must be a
// power-of-two number of MiB per the service rules (enforced by config
// validation); zero values fall back to the defaults.
func NewUploader(client *glacier.Client, accountID, vault string, partSize int64, workers int) *Uploader {
	return newUploader(client, accountID, vault, partSize, workers)
}

func newUploader(client api, accountID, vault string, partSize int64, workers int) *Uploader {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Uploader{
		client:    client,
		accountID: accountID,
		vault:     vault,
		partSize:  partSize,
		workers:   workers,
	}
}

// Upload transmits size bytes of r as one archive and returns the archive id
// assigned by the service. Archives no larger than one part go up in a
// single call; anything larger uses a multipart upload that is aborted on
// failure so no dangling upload is left behind.
func (u *Uploader) Upload(ctx context.Context, r io.ReaderAt, size int64, description string) (string, error) {
	if size <= u.partSize {
		return u.uploadSingle(ctx, r, size, description)
	}
	return u.uploadMultipart(ctx, r, size, description)
}

func (u *Uploader) uploadSingle(ctx context.Context, r io.ReaderAt, size int64, description string) (string, error) {
	body := io.NewSectionReader(r, 0, size)
	checksum, _, err := treeHash(io.NewSectionReader(r, 0, size))
	if err != nil {
		return "", transportErr("checksum", err)
	}

	out, err := u.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId:          aws.String(u.accountID),
		VaultName:          aws.String(u.vault),
		ArchiveDescription: aws.String(description),
		Checksum:           aws.String(checksum),
		Body:               body,
	})
	if err != nil {
		return "", transportErr("upload archive", err)
	}
	return aws.ToString(out.ArchiveId), nil
}

func (u *Uploader) uploadMultipart(ctx context.Context, r io.ReaderAt, size int64, description string) (string, error) {
	totalParts := (size + u.partSize - 1) / u.partSize
	if totalParts > maxParts {
		return "", &TransportError{
			Kind: KindRejected,
			Op:   "initiate multipart upload",
			Err:  fmt.Errorf("archive of %d bytes needs %d parts, exceeding the %d part limit", size, totalParts, maxParts),
		}
	}

	initOut, err := u.client.InitiateMultipartUpload(ctx, &glacier.InitiateMultipartUploadInput{
		AccountId:          aws.String(u.accountID),
		VaultName:          aws.String(u.vault),
		ArchiveDescription: aws.String(description),
		PartSize:           aws.String(strconv.FormatInt(u.partSize, 10)),
	})
	if err != nil {
		return "", transportErr("initiate multipart upload", err)
	}
	uploadID := aws.ToString(initOut.UploadId)
	plog.Debug("Multipart upload initiated", "uploadID", uploadID, "parts", totalParts, "partSize", u.partSize)

	// Per-part tree hash digests, in part order, for the final checksum.
	partDigests := make([][]byte, totalParts)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for part := int64(0); part < totalParts; part++ {
		part := part
		g.Go(func() error {
			offset := part * u.partSize
			length := min(u.partSize, size-offset)

			digest, err := u.uploadPart(gctx, r, uploadID, offset, length)
			if err != nil {
				return err
			}

			mu.Lock()
			partDigests[part] = digest
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		u.abort(uploadID)
		if _, ok := err.(*TransportError); ok {
			return "", err
		}
		return "", transportErr("upload part", err)
	}

	completeOut, err := u.client.CompleteMultipartUpload(ctx, &glacier.CompleteMultipartUploadInput{
		AccountId:   aws.String(u.accountID),
		VaultName:   aws.String(u.vault),
		UploadId:    aws.String(uploadID),
		ArchiveSize: aws.String(strconv.FormatInt(size, 10)),
		Checksum:    aws.String(combineTreeHashes(partDigests)),
	})
	if err != nil {
		u.abort(uploadID)
		return "", transportErr("complete multipart upload", err)
	}
	return aws.ToString(completeOut.ArchiveId), nil
}

// uploadPart reads one part into memory, hashes it and transmits it.
// The part buffer doubles as the retry-free upload body; parts are at most
// partSize bytes, so memory use is bounded by partSize * workers.
func (u *Uploader) uploadPart(ctx context.Context, r io.ReaderAt, uploadID string, offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, transportErr("read part", err)
	}

	hashes, err := chunkHashes(bytes.NewReader(buf))
	if err != nil {
		return nil, transportErr("checksum part", err)
	}
	digest := reduceTreeHash(hashes)

	rangeHeader := fmt.Sprintf("bytes %d-%d/*", offset, offset+length-1)
	plog.Debug("Uploading part", "uploadID", uploadID, "range", rangeHeader)

	_, err = u.client.UploadMultipartPart(ctx, &glacier.UploadMultipartPartInput{
		AccountId: aws.String(u.accountID),
		VaultName: aws.String(u.vault),
		UploadId:  aws.String(uploadID),
		Range:     aws.String(rangeHeader),
		Checksum:  aws.String(fmt.Sprintf("%x", digest)),
		Body:      bytes.NewReader(buf),
	})
	if err != nil {
		return nil, transportErr("upload part", err)
	}
	return digest, nil
}

// abort is best effort. An upload that cannot be aborted expires on the
// service side after its idle window.
func (u *Uploader) abort(uploadID string) {
	_, err := u.client.AbortMultipartUpload(context.Background(), &glacier.AbortMultipartUploadInput{
		AccountId: aws.String(u.accountID),
		VaultName: aws.String(u.vault),
		UploadId:  aws.String(uploadID),
	})
	if err != nil {
		plog.Warn("Failed to abort multipart upload", "uploadID", uploadID, "error", err)
	}
}
