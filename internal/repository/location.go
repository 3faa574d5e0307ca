package repository

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/unixtransport"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backend/local"
	"github.com/rustic-rs/rustic-sub001/internal/backend/rest"
	"github.com/rustic-rs/rustic-sub001/internal/backend/s3"
	"github.com/rustic-rs/rustic-sub001/internal/backend/sftp"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
)

// OpenLocation parses repo, a location string of the form
// "<scheme>:<spec>" (local:/path, sftp:user@host:/path, rest:https://host/,
// s3:endpoint/bucket/prefix), and opens the matching transport. A bare path
// with no recognized scheme is treated as a local directory, matching the
// common case of just pointing at a path.
func OpenLocation(repo string) (backend.Backend, error) {
	scheme, spec, ok := strings.Cut(repo, ":")
	if !ok {
		return local.Open(repo), nil
	}

	switch scheme {
	case "local":
		return local.Open(spec), nil
	case "sftp":
		host, dir, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, errors.Errorf("invalid sftp location %q, expected user@host:/path", spec)
		}
		return sftp.Dial("ssh", []string{host, "-s", "sftp"}, dir)
	case "rest":
		u, err := url.Parse(spec)
		if err != nil {
			return nil, errors.Wrapf(err, "parse rest location %q", spec)
		}
		return rest.Open(u, httpTransport()), nil
	case "s3":
		endpoint, bucket, prefix, useSSL, err := parseS3(spec)
		if err != nil {
			return nil, err
		}
		return s3.Open(endpoint, os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), bucket, prefix, useSSL)
	default:
		// Not a recognized scheme: likely a Windows-style drive letter or a
		// path that happens to contain a colon. Treat the whole string as a
		// local path.
		return local.Open(repo), nil
	}
}

// httpTransport builds the RoundTripper the rest backend issues its
// requests through, with support for unix-socket REST servers layered on
// top (http+unix:// and https+unix:// URLs) the same way a local restic
// REST server is commonly exposed.
func httpTransport() http.RoundTripper {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	unixtransport.Register(tr)
	return tr
}

// parseS3 splits an s3 location spec of the form "endpoint/bucket/prefix"
// (optionally prefixed with "http://" to disable TLS) into its parts.
func parseS3(spec string) (endpoint, bucket, prefix string, useSSL bool, err error) {
	useSSL = true
	if strings.HasPrefix(spec, "http://") {
		useSSL = false
		spec = strings.TrimPrefix(spec, "http://")
	} else {
		spec = strings.TrimPrefix(spec, "https://")
	}
	parts := strings.SplitN(spec, "/", 3)
	if len(parts) < 2 {
		return "", "", "", false, errors.Errorf("invalid s3 location %q, expected endpoint/bucket[/prefix]", spec)
	}
	endpoint = parts[0]
	bucket = parts[1]
	if len(parts) == 3 {
		prefix = parts[2]
	}
	return endpoint, bucket, prefix, useSSL, nil
}
