package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/netx"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newRemoteID = uuid.NewString
	now         = time.Now
)

// S3API is the subset of *s3.Client used by the gateway.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Presigner is the subset of *s3.PresignClient used by the gateway.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicBaseURL prefixes object keys to form stable media URLs. When
	// empty, URLs use the s3://bucket/key form.
	PublicBaseURL string
	UsePathStyle  bool
	PresignTTL    time.Duration
	PageSize      int32
}

// S3Gateway stores each media item as one object whose user metadata holds
// the descriptive fields. Uploads and downloads go through presigned URLs.
//
//	blogs/<blog>/media/<remoteID>    media bytes
//	blogs/<blog>/posters/<remoteID>  optional video poster (JPEG)
type S3Gateway struct {
	api       S3API
	presigner Presigner
	http      *http.Client
	cfg       S3Config
}

var _ Gateway = (*S3Gateway)(nil)

func NewS3Gateway(api S3API, presigner Presigner, httpClient *http.Client, cfg S3Config) *S3Gateway {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &S3Gateway{api: api, presigner: presigner, http: httpClient, cfg: cfg}
}

// NewS3GatewayFromConfig builds the SDK clients with static credentials.
func NewS3GatewayFromConfig(ctx context.Context, cfg S3Config, httpClient *http.Client) (*S3Gateway, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3Gateway(client, s3.NewPresignClient(client), httpClient, cfg), nil
}

func mediaPrefix(blogID string) string { return path.Join("blogs", blogID, "media") + "/" }

func mediaKey(blogID, remoteID string) string { return mediaPrefix(blogID) + remoteID }

func posterKey(blogID, remoteID string) string {
	return path.Join("blogs", blogID, "posters", remoteID)
}

func (g *S3Gateway) objectURL(key string) string {
	if g.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(g.cfg.PublicBaseURL, "/") + "/" + key
	}
	return "s3://" + g.cfg.Bucket + "/" + key
}

func (g *S3Gateway) CreateMedia(ctx context.Context, req UploadRequest, progress ProgressFunc) (*models.RemoteMedia, error) {
	remoteID := newRemoteID()
	key := mediaKey(req.BlogID, remoteID)

	rm := models.RemoteMedia{
		RemoteID:  remoteID,
		BlogID:    req.BlogID,
		PostID:    req.PostID,
		URL:       g.objectURL(key),
		MediaType: req.MediaType,
		MIMEType:  req.MIMEType,
		Filename:  req.Filename,
		Size:      req.Size,
		Width:     req.Width,
		Height:    req.Height,
		Metadata:  req.Metadata,
		CreatedAt: now().UTC().Truncate(time.Second),
	}
	if rm.MIMEType == "" {
		rm.MIMEType = "application/octet-stream"
	}

	signed, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(rm.MIMEType),
		Metadata:    encodeMetadata(rm),
	}, s3.WithPresignExpires(g.cfg.PresignTTL))
	if err != nil {
		return nil, wrapErr("presign put", err)
	}

	if err := netx.Put(ctx, g.http, signed.URL, signed.SignedHeader, req.Body, req.Size, netx.ProgressFunc(progress)); err != nil {
		return nil, wrapErr("upload media", err)
	}

	return &rm, nil
}

// PutPoster uploads a JPEG poster image for an existing video.
func (g *S3Gateway) PutPoster(ctx context.Context, blogID, remoteID string, body io.Reader, size int64) error {
	signed, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.cfg.Bucket),
		Key:         aws.String(posterKey(blogID, remoteID)),
		ContentType: aws.String("image/jpeg"),
	}, s3.WithPresignExpires(g.cfg.PresignTTL))
	if err != nil {
		return wrapErr("presign poster", err)
	}
	return wrapErr("upload poster", netx.Put(ctx, g.http, signed.URL, signed.SignedHeader, body, size, nil))
}

func (g *S3Gateway) UpdateMedia(ctx context.Context, blogID, remoteID string, md models.Metadata) error {
	key := mediaKey(blogID, remoteID)
	head, err := g.head(ctx, key)
	if err != nil {
		return wrapErr("update media", err)
	}

	rm := remoteFromHead(blogID, remoteID, g.objectURL(key), head)
	rm.Metadata = md

	_, err = g.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(g.cfg.Bucket),
		Key:               aws.String(key),
		CopySource:        aws.String((&url.URL{Path: g.cfg.Bucket + "/" + key}).EscapedPath()),
		ContentType:       head.ContentType,
		Metadata:          encodeMetadata(rm),
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	return wrapErr("update media", err)
}

func (g *S3Gateway) ListMedia(ctx context.Context, blogID, pageToken string) (*models.RemotePage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(g.cfg.Bucket),
		Prefix:  aws.String(mediaPrefix(blogID)),
		MaxKeys: aws.Int32(g.cfg.PageSize),
	}
	if pageToken != "" {
		in.ContinuationToken = aws.String(pageToken)
	}

	out, err := g.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, wrapErr("list media", err)
	}

	page := &models.RemotePage{Items: make([]models.RemoteMedia, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		remoteID := strings.TrimPrefix(key, mediaPrefix(blogID))
		if remoteID == "" || strings.Contains(remoteID, "/") {
			continue
		}

		head, err := g.head(ctx, key)
		if err != nil {
			werr := wrapErr("list media", err)
			if isNotFound(werr) {
				// deleted between list and head
				continue
			}
			return nil, werr
		}
		page.Items = append(page.Items, remoteFromHead(blogID, remoteID, g.objectURL(key), head))
	}

	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (g *S3Gateway) GetMedia(ctx context.Context, blogID, remoteID string) (*models.RemoteMedia, error) {
	key := mediaKey(blogID, remoteID)
	head, err := g.head(ctx, key)
	if err != nil {
		return nil, wrapErr("get media", err)
	}
	rm := remoteFromHead(blogID, remoteID, g.objectURL(key), head)
	return &rm, nil
}

func (g *S3Gateway) DeleteMedia(ctx context.Context, blogID, remoteID string) error {
	key := mediaKey(blogID, remoteID)
	if _, err := g.head(ctx, key); err != nil {
		return wrapErr("delete media", err)
	}

	for _, k := range []string{key, posterKey(blogID, remoteID)} {
		if _, err := g.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(g.cfg.Bucket),
			Key:    aws.String(k),
		}); err != nil {
			return wrapErr("delete media", err)
		}
	}
	return nil
}

// ResolveVideo returns presigned URLs for a video and, when one exists, its
// poster.
func (g *S3Gateway) ResolveVideo(ctx context.Context, blogID, videoID string) (*models.VideoReference, error) {
	key := mediaKey(blogID, videoID)
	head, err := g.head(ctx, key)
	if err != nil {
		return nil, wrapErr("resolve video", err)
	}
	if rm := remoteFromHead(blogID, videoID, "", head); rm.MediaType != models.MediaTypeVideo {
		return nil, fmt.Errorf("%w: media %s is %s, not video", common.ErrInvalidState, videoID, rm.MediaType)
	}

	ref := &models.VideoReference{}
	if ref.VideoURL, err = g.presignGet(ctx, key); err != nil {
		return nil, wrapErr("resolve video", err)
	}

	pk := posterKey(blogID, videoID)
	if _, err := g.head(ctx, pk); err != nil {
		if werr := wrapErr("resolve video", err); !isNotFound(werr) {
			return nil, werr
		}
		return ref, nil
	}
	if ref.PosterURL, err = g.presignGet(ctx, pk); err != nil {
		return nil, wrapErr("resolve video", err)
	}
	return ref, nil
}

func (g *S3Gateway) Download(ctx context.Context, blogID, remoteID string, w io.Writer) (int64, error) {
	u, err := g.presignGet(ctx, mediaKey(blogID, remoteID))
	if err != nil {
		return 0, wrapErr("download media", err)
	}
	n, err := netx.Get(ctx, g.http, u, w)
	if err != nil {
		return n, wrapErr("download media", err)
	}
	return n, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (g *S3Gateway) Ping(ctx context.Context) error {
	_, err := g.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.cfg.Bucket)})
	return wrapErr("ping", err)
}

func (g *S3Gateway) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return g.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.cfg.Bucket),
		Key:    aws.String(key),
	})
}

func (g *S3Gateway) presignGet(ctx context.Context, key string) (string, error) {
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(g.cfg.PresignTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

// Object user metadata keys. S3 lowercases them on read.
const (
	metaBlog        = "blog"
	metaPost        = "post"
	metaFilename    = "filename"
	metaMediaType   = "media-type"
	metaWidth       = "width"
	metaHeight      = "height"
	metaCaption     = "caption"
	metaAlt         = "alt"
	metaTitle       = "title"
	metaDescription = "description"
	metaCreated     = "created"
)

// encodeMetadata escapes values since S3 user metadata must be ASCII.
func encodeMetadata(rm models.RemoteMedia) map[string]string {
	m := map[string]string{
		metaBlog:        rm.BlogID,
		metaPost:        rm.PostID,
		metaFilename:    rm.Filename,
		metaMediaType:   string(rm.MediaType),
		metaWidth:       strconv.Itoa(rm.Width),
		metaHeight:      strconv.Itoa(rm.Height),
		metaCaption:     rm.Metadata.Caption,
		metaAlt:         rm.Metadata.Alt,
		metaTitle:       rm.Metadata.Title,
		metaDescription: rm.Metadata.Description,
		metaCreated:     rm.CreatedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range m {
		m[k] = url.QueryEscape(v)
	}
	return m
}

func decodeMeta(meta map[string]string, key string) string {
	v := meta[key]
	if v == "" {
		// some S3 implementations keep the original casing
		for k, val := range meta {
			if strings.EqualFold(k, key) {
				v = val
				break
			}
		}
	}
	s, err := url.QueryUnescape(v)
	if err != nil {
		return v
	}
	return s
}

func remoteFromHead(blogID, remoteID, objectURL string, head *s3.HeadObjectOutput) models.RemoteMedia {
	meta := head.Metadata
	rm := models.RemoteMedia{
		RemoteID: remoteID,
		BlogID:   blogID,
		PostID:   decodeMeta(meta, metaPost),
		URL:      objectURL,
		MIMEType: aws.ToString(head.ContentType),
		Filename: decodeMeta(meta, metaFilename),
		Size:     aws.ToInt64(head.ContentLength),
		Metadata: models.Metadata{
			Caption:     decodeMeta(meta, metaCaption),
			Alt:         decodeMeta(meta, metaAlt),
			Title:       decodeMeta(meta, metaTitle),
			Description: decodeMeta(meta, metaDescription),
		},
	}
	rm.Width, _ = strconv.Atoi(decodeMeta(meta, metaWidth))
	rm.Height, _ = strconv.Atoi(decodeMeta(meta, metaHeight))

	rm.MediaType = models.MediaType(decodeMeta(meta, metaMediaType))
	if rm.MediaType == "" {
		rm.MediaType = models.MediaTypeFromMIME(rm.MIMEType)
	}

	if created, err := time.Parse(time.RFC3339, decodeMeta(meta, metaCreated)); err == nil {
		rm.CreatedAt = created
	} else if head.LastModified != nil {
		rm.CreatedAt = head.LastModified.UTC().Truncate(time.Second)
	}
	return rm
}
