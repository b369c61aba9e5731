// Package httpclient provides basic http functions
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotModified is returned by FetchRemote when the server reports the resource unchanged
var ErrNotModified = errors.New("remote resource not modified")

// RemoteFileInfo contains information
type RemoteFileInfo struct {
	ETag                  string
	LastModifiedTimestamp int64
	Path                  string
}

func getRemoteFileInfo(url string, resp *http.Response) RemoteFileInfo {
	result := RemoteFileInfo{
		Path: url,
	}
	result.ETag = resp.Header.Get("ETag")

	lastModifiedString := resp.Header.Get("Last-Modified")

	if len(lastModifiedString) > 0 {
		parsedTime, err := time.Parse(time.RFC1123, lastModifiedString)
		if err == nil {
			result.LastModifiedTimestamp = parsedTime.Unix()
		}
	}
	return result

}

// IsDifferent returns true if etag and lastModifiedTimestamp describe a different version than df
func (df *RemoteFileInfo) IsDifferent(etag string, lastModifiedTimestamp int64) bool {
	if len(df.ETag) > 0 {
		return df.ETag != etag
	}
	return df.LastModifiedTimestamp != lastModifiedTimestamp
}

// RemoteContent is the body of a remote resource along with its version information
type RemoteContent struct {
	RemoteFileInfo RemoteFileInfo
	Body           []byte
	RetrievedAt    time.Time
}

// FetchRemote retrieves url using a GET request bound to ctx.
// When previous is provided the request is conditional and ErrNotModified is returned if the server answers 304
func FetchRemote(ctx context.Context, client *http.Client, url string, previous *RemoteFileInfo) (*RemoteContent, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		if len(previous.ETag) > 0 {
			req.Header.Set("If-None-Match", previous.ETag)
		} else if previous.LastModifiedTimestamp != 0 {
			req.Header.Set("If-Modified-Since",
				time.Unix(previous.LastModifiedTimestamp, 0).UTC().Format(http.TimeFormat))
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	remoteFileInfo := getRemoteFileInfo(url, resp)
	// a server that ignores conditional requests may still return the same version
	if previous != nil && (len(remoteFileInfo.ETag) > 0 || remoteFileInfo.LastModifiedTimestamp != 0) &&
		!previous.IsDifferent(remoteFileInfo.ETag, remoteFileInfo.LastModifiedTimestamp) {
		return nil, ErrNotModified
	}
	return &RemoteContent{
		RemoteFileInfo: remoteFileInfo,
		Body:           body,
		RetrievedAt:    time.Now(),
	}, nil
}
