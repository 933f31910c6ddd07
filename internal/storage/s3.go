package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tpsparking/api/internal/util"
)

// S3Config holds the endpoint and credentials of an S3 compatible bucket (AWS S3 or Cloudflare R2).
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	PublicDomain string
	HTTPClient   *http.Client
}

// S3Uploader PUTs objects signed with AWS SigV4.
type S3Uploader struct {
	cfg    S3Config
	client *http.Client
	now    func() time.Time
}

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &S3Uploader{cfg: cfg, client: client, now: util.Now}, nil
}

// Upload stores input.Body under input.Key. The returned URL uses PublicDomain when set.
func (u *S3Uploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	key := strings.TrimLeft(strings.TrimSpace(input.Key), "/")
	if key == "" {
		return nil, errors.New("storage: object key is required")
	}
	if len(input.Body) == 0 {
		return nil, errors.New("storage: empty body")
	}

	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = http.DetectContentType(input.Body)
	}

	escapedKey, target := u.objectURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(input.Body))
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(input.Body)
	payloadHash := hex.EncodeToString(sum[:])

	req.ContentLength = int64(len(input.Body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	if cc := strings.TrimSpace(input.CacheControl); cc != "" {
		req.Header.Set("Cache-Control", cc)
	}
	u.sign(req, payloadHash, u.now())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: put %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("storage: upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	publicURL := target
	if domain := strings.TrimSpace(u.cfg.PublicDomain); domain != "" {
		publicURL = strings.TrimRight(domain, "/") + "/" + escapedKey
	}
	return &UploadResult{Key: key, URL: publicURL, ETag: strings.Trim(resp.Header.Get("ETag"), `"`)}, nil
}

// Delete removes key from the bucket. A missing object is not an error.
func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("storage: object key is required")
	}
	_, target := u.objectURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(nil)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("x-amz-content-sha256", payloadHash)
	u.sign(req, payloadHash, u.now())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage: delete failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (u *S3Uploader) objectURL(key string) (escapedKey, target string) {
	escapedKey = (&url.URL{Path: key}).EscapedPath()
	return escapedKey, fmt.Sprintf("%s/%s/%s", strings.TrimRight(u.cfg.Endpoint, "/"), u.cfg.Bucket, escapedKey)
}

func (cfg S3Config) validate() error {
	required := []struct{ name, value string }{
		{"endpoint", cfg.Endpoint},
		{"region", cfg.Region},
		{"bucket", cfg.Bucket},
		{"access key", cfg.AccessKey},
		{"secret key", cfg.SecretKey},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("storage: %s is required", f.name)
		}
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return errors.New("storage: endpoint must start with http:// or https://")
	}
	return nil
}

// sign adds x-amz-date and the SigV4 Authorization header. Every header already set on
// req, plus host, is signed.
func (u *S3Uploader) sign(req *http.Request, payloadHash string, now time.Time) {
	amzDate := now.UTC().Format("20060102T150405Z")
	day := now.UTC().Format("20060102")
	req.Header.Set("x-amz-date", amzDate)

	headers := map[string]string{"host": req.URL.Host}
	for k, vals := range req.Header {
		headers[strings.ToLower(k)] = strings.TrimSpace(strings.Join(vals, ","))
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, k := range names {
		canonicalHeaders.WriteString(k + ":" + headers[k] + "\n")
	}
	signedHeaders := strings.Join(names, ";")

	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		req.URL.RawQuery,
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := day + "/" + u.cfg.Region + "/s3/aws4_request"
	crHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{"AWS4-HMAC-SHA256", amzDate, scope, hex.EncodeToString(crHash[:])}, "\n")

	key := hmacSHA256([]byte("AWS4"+u.cfg.SecretKey), []byte(day))
	for _, part := range []string{u.cfg.Region, "s3", "aws4_request"} {
		key = hmacSHA256(key, []byte(part))
	}
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		u.cfg.AccessKey, scope, signedHeaders, signature))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
