package fileops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kestrelfs/blockstored/internal/blockerr"
)

// S3API is the subset of the AWS S3 client the blob FileOps needs. Narrowed
// to an interface so tests can substitute a fake without a real bucket.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Blob is a FileOps backed by an S3-compatible object store, for an
// optional cold archival tier. Object keys are the block/temp paths
// produced by the meta package, with slashes already in place.
//
// Rename has no atomic primitive in the S3 API: it is implemented as
// CopyObject followed by DeleteObject, so a crash between the two leaves
// the object present at both keys until the next reconciliation pass.
// Callers relying on atomic temp-to-commit rename should keep committed
// blocks on a Local tier and reserve Blob for tiers the evictor only ever
// moves into, never races concurrent writers against.
type Blob struct {
	s3     S3API
	bucket string
}

// NewBlob constructs a Blob file-ops implementation over an existing S3
// client and bucket.
func NewBlob(s3api S3API, bucket string) *Blob {
	return &Blob{s3: s3api, bucket: bucket}
}

// isNotFoundErr reports whether err is S3's typed 404 response for
// HeadObject. HeadObject responses carry no body to parse an
// error code from, so the SDK surfaces this case as *types.NotFound
// rather than a generic API error.
func isNotFoundErr(err error) bool {
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}

func (b *Blob) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &path})
	if err == nil {
		return true, nil
	}
	if isNotFoundErr(err) {
		return false, nil
	}
	return false, blockerr.IOErrorf(err, "checking existence of %s", path)
}

func (b *Blob) Size(ctx context.Context, path string) (int64, error) {
	out, err := b.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &path})
	if err != nil {
		if isNotFoundErr(err) {
			return 0, blockerr.NotFoundf("no object at %s", path)
		}
		return 0, blockerr.IOErrorf(err, "checking size of %s", path)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

func (b *Blob) CreateWriter(ctx context.Context, path string) (WriteCloser, error) {
	return &blobWriter{ctx: ctx, client: b, path: path}, nil
}

func (b *Blob) Rename(ctx context.Context, oldPath, newPath string) error {
	source := fmt.Sprintf("%s/%s", b.bucket, oldPath)
	if _, err := b.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &b.bucket,
		Key:        &newPath,
		CopySource: &source,
	}); err != nil {
		return blockerr.IOErrorf(err, "copying %s to %s", oldPath, newPath)
	}
	if _, err := b.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &oldPath}); err != nil {
		return blockerr.IOErrorf(err, "deleting source %s after copy", oldPath)
	}
	return nil
}

func (b *Blob) Delete(ctx context.Context, path string) error {
	if _, err := b.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &path}); err != nil {
		return blockerr.IOErrorf(err, "deleting %s", path)
	}
	return nil
}

// List implements fileops.Lister over an S3 prefix. dirPath is used as the
// ListObjectsV2 prefix with a trailing slash, non-recursive via Delimiter.
func (b *Blob) List(ctx context.Context, dirPath string) ([]Entry, error) {
	prefix := dirPath
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	var out []Entry
	var token *string
	for {
		resp, err := b.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &b.bucket,
			Prefix:            &prefix,
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, blockerr.IOErrorf(err, "listing %s", prefix)
		}
		for _, obj := range resp.Contents {
			name := (*obj.Key)[len(prefix):]
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			out = append(out, Entry{Name: name, Size: size})
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

// blobWriter buffers writes in memory and uploads on Close, since S3 has
// no append primitive. Acceptable for block sizes this store deals in;
// not suitable for unbounded streams.
type blobWriter struct {
	ctx    context.Context
	client *Blob
	path   string
	buf    bytes.Buffer
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *blobWriter) Close() error {
	_, err := w.client.s3.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      &w.client.bucket,
		Key:         &w.path,
		Body:        bytes.NewReader(w.buf.Bytes()),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return blockerr.IOErrorf(err, "uploading %s", w.path)
	}
	return nil
}

var _ io.WriteCloser = (*blobWriter)(nil)
var _ Lister = (*Blob)(nil)
