package store

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"

	"github.com/pachyderm/durachunk/src/internal/cmdutil"
	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/pachyderm/durachunk/src/internal/log"
	"github.com/pachyderm/durachunk/src/internal/pacherr"
)

var s3RequestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "durachunk",
	Subsystem: "object_storage",
	Name:      "s3_requests_total",
	Help:      "Number of HTTP requests made to S3, by response code and method.",
}, []string{"code", "method"})

// AmazonConfiguration tunes the HTTP client used for s3:// stores.
type AmazonConfiguration struct {
	Retries     int           `env:"AMAZON_RETRIES,default=10"`
	Timeout     time.Duration `env:"AMAZON_TIMEOUT,default=5m"`
	NoVerifySSL bool          `env:"AMAZON_NO_VERIFY_SSL,default=false"`
}

func amazonHTTPClient() (*http.Client, int, error) {
	advancedConfig := &AmazonConfiguration{}
	if err := cmdutil.Populate(advancedConfig); err != nil {
		return nil, -1, errors.Wrap(err, "creating amazon http client")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if advancedConfig.NoVerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	httpClient := &http.Client{
		Timeout:   advancedConfig.Timeout,
		Transport: promhttp.InstrumentRoundTripperCounter(s3RequestsMetric, transport),
	}
	return httpClient, advancedConfig.Retries, nil
}

func amazonSession(ctx context.Context, u *url.URL) (*session.Session, error) {
	params := u.Query()
	endpoint := params.Get("endpoint")
	// if unset, disableSSL will be false.
	disableSSL, _ := strconv.ParseBool(params.Get("disableSSL"))
	httpClient, retries, err := amazonHTTPClient()
	if err != nil {
		return nil, errors.Wrap(err, "creating amazon session")
	}
	awsConfig := &aws.Config{
		Region:     aws.String(params.Get("region")),
		MaxRetries: aws.Int(retries),
		HTTPClient: httpClient,
		DisableSSL: aws.Bool(disableSSL),
		Logger:     log.NewAmazonLogger(ctx),
	}
	// Set custom endpoint for a custom deployment.
	if endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating amazon session")
	}
	return sess, nil
}

// NewAmazonBucket opens the bucket named by an s3:// URL.  The URL may carry
// region, endpoint, and disableSSL query parameters; credentials come from the
// usual AWS environment.
func NewAmazonBucket(ctx context.Context, u *url.URL) (*blob.Bucket, error) {
	sess, err := amazonSession(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "amazon bucket")
	}
	bucket, err := s3blob.OpenBucket(ctx, sess, u.Host, nil)
	if err != nil {
		return nil, errors.Wrap(err, "amazon bucket")
	}
	return bucket, nil
}

// OpenBucket opens the bucket named by storageURL: mem:// for an in-memory
// bucket, file:///path for a directory, or s3://bucket.
func OpenBucket(ctx context.Context, storageURL string) (*blob.Bucket, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return nil, pacherr.NewConfigError("storage URL", "%v", err)
	}
	switch u.Scheme {
	case "mem":
		return memblob.OpenBucket(nil), nil
	case "file":
		if u.Path == "" {
			return nil, pacherr.NewConfigError("storage URL", "%q has no path", storageURL)
		}
		if err := os.MkdirAll(u.Path, 0o755); err != nil {
			return nil, errors.EnsureStack(err)
		}
		bucket, err := fileblob.OpenBucket(u.Path, nil)
		return bucket, errors.EnsureStack(err)
	case "s3":
		return NewAmazonBucket(ctx, u)
	default:
		return nil, pacherr.NewConfigError("storage URL", "unrecognized scheme %q", u.Scheme)
	}
}

// Open returns a Store over the bucket named by storageURL, and a function
// that closes the bucket.
func Open(ctx context.Context, storageURL string) (Store, func() error, error) {
	bucket, err := OpenBucket(ctx, storageURL)
	if err != nil {
		return nil, nil, err
	}
	log.Debug(ctx, "opened object storage", log.StorageURL(storageURL))
	return NewBucketStore(bucket), bucket.Close, nil
}
