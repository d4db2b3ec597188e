package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxLoggedArgLen truncates long string arguments in MCP logs.
const maxLoggedArgLen = 200

// MCPRequestLogger logs the tool name, redacted arguments and outcome of MCP tools/call requests.
// A nil logger disables it.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var req rpcRequest
			_ = json.Unmarshal(body, &req)
			tool := req.Params.Name

			logger.Debug("MCP request",
				zap.String("method", req.Method),
				zap.String("tool", tool),
				zap.Any("arguments", redactArguments(req.Params.Arguments)))

			rec := &bodyRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			var resp rpcResponse
			if err := json.Unmarshal(rec.body.Bytes(), &resp); err != nil {
				return
			}
			if resp.Error != nil {
				logger.Info("MCP request failed",
					zap.String("tool", tool),
					zap.Int("code", resp.Error.Code),
					zap.String("message", resp.Error.Message),
					zap.Duration("duration", time.Since(start)))
				return
			}
			logger.Debug("MCP request succeeded", zap.String("tool", tool), zap.Duration("duration", time.Since(start)))
		})
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type bodyRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var sensitiveArgKeys = []string{"token", "secret", "password", "key", "credential"}

// redactArguments hides values whose key looks secret and truncates long strings.
func redactArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		lower := strings.ToLower(k)
		redacted := false
		for _, s := range sensitiveArgKeys {
			if strings.Contains(lower, s) {
				redacted = true
				break
			}
		}
		switch {
		case redacted:
			out[k] = "[REDACTED]"
		case isLongString(v):
			out[k] = v.(string)[:maxLoggedArgLen] + "..."
		default:
			out[k] = v
		}
	}
	return out
}

func isLongString(v any) bool {
	s, ok := v.(string)
	return ok && len(s) > maxLoggedArgLen
}
