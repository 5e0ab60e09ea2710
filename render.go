package pyroxy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiliczsh/pyroxy/cache"
)

// rendered is the final output of a request: the body bytes together
// with the content type and status code to send.
type rendered struct {
	body        []byte
	contentType string
	statusCode  int
}

// statusObject is the metadata block of json and info responses.
type statusObject struct {
	URL           string  `json:"url"`
	ContentType   string  `json:"content_type"`
	ContentLength int64   `json:"content_length"`
	HTTPCode      int     `json:"http_code"`
	ResponseTime  float64 `json:"response_time"`
}

// jsonObject is the body of a json response.
// The info format never includes contents; it serializes the
// statusObject alone.
type jsonObject struct {
	Contents string       `json:"contents"`
	Status   statusObject `json:"status"`
	Warning  string       `json:"warning,omitempty"`
}

// render transforms a cache entry (cached or freshly fetched) into the
// requested representation. responseTime is reported as float seconds
// with sub-second precision.
func render(opts *RequestOptions, entry cache.Entry, responseTime time.Duration) (rendered, error) {
	switch opts.Format {
	case FormatRaw:
		return rendered{
			body:        entry.Body,
			contentType: entry.ContentType,
			statusCode:  entry.StatusCode,
		}, nil
	case FormatInfo:
		return renderJSON(statusFor(entry, responseTime), opts.Callback, opts.Charset)
	case FormatJSON:
		body := jsonObject{Status: statusFor(entry, responseTime)}
		contents, err := decodeCharset(entry.Body, opts.Charset)
		if err != nil {
			// degrade to the raw bytes rather than failing the request
			body.Contents = string(entry.Body)
			body.Warning = err.Error()
		} else {
			body.Contents = contents
			// decoded byte count once charset conversion is applied
			body.Status.ContentLength = int64(len(contents))
		}
		return renderJSON(body, opts.Callback, opts.Charset)
	}
	return rendered{}, fmt.Errorf("unknown format %q", opts.Format)
}

func statusFor(entry cache.Entry, responseTime time.Duration) statusObject {
	contentLength := entry.ContentLength
	if len(entry.Body) > 0 {
		contentLength = int64(len(entry.Body))
	}
	return statusObject{
		URL:           entry.FinalURL,
		ContentType:   entry.ContentType,
		ContentLength: contentLength,
		HTTPCode:      entry.StatusCode,
		ResponseTime:  responseTime.Seconds(),
	}
}

// renderJSON marshals v, wrapping it as a JSONP call when a callback
// name is given. Callback names are validated at parse time.
func renderJSON(v interface{}, callback, charset string) (rendered, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return rendered{}, err
	}
	if callback != "" {
		return rendered{
			body:        []byte(callback + "(" + string(b) + ");"),
			contentType: "application/javascript",
			statusCode:  200,
		}, nil
	}
	return rendered{
		body:        b,
		contentType: "application/json; charset=" + charset,
		statusCode:  200,
	}, nil
}
