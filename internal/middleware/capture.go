package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roastedbeans/certification-authority/internal/util"
)

// maxCapture bounds how much of a body is kept for logs.
const maxCapture = 64 << 10

// captureWriter records the status and a bounded copy of the response body.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	if room := maxCapture - w.body.Len(); room > 0 {
		if len(b) > room {
			w.body.Write(b[:room])
		} else {
			w.body.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// readBody reads the request body and puts an identical reader back.
func readBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCapture+1))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if err != nil {
		return nil
	}
	if len(body) > maxCapture {
		return body[:maxCapture]
	}
	return body
}

// maskBody renders body for logs with personal and secret fields masked.
// JSON objects and form bodies are masked field by field; anything else is
// returned as is.
func maskBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err == nil {
		out, err := json.Marshal(util.MaskPersonal(m))
		if err == nil {
			return string(out)
		}
	}
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		vals, err := url.ParseQuery(string(body))
		if err == nil {
			fm := make(map[string]any, len(vals))
			for k := range vals {
				fm[k] = vals.Get(k)
			}
			out, err := json.Marshal(util.MaskPersonal(fm))
			if err == nil {
				return string(out)
			}
		}
	}
	return string(body)
}

// rspCode extracts rsp_code from a rendered envelope.
func rspCode(body []byte) string {
	var env struct {
		RspCode string `json:"rsp_code"`
	}
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.RspCode
}
