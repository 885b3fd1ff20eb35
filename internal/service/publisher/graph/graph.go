// Package graph holds the Graph API conventions shared by the Facebook and Instagram providers.
package graph

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

// APIError is the error object returned by the Graph API.
type APIError struct {
	Message     string `json:"message"`
	Type        string `json:"type"`
	Code        int    `json:"code"`
	Subcode     int    `json:"error_subcode"`
	IsTransient bool   `json:"is_transient"`
	UserTitle   string `json:"error_user_title"`
	UserMessage string `json:"error_user_msg"`
	FBTraceID   string `json:"fbtrace_id"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Retryable codes: unknown/service errors, throttling, and media that is still processing.
var retryableCodes = map[int]bool{
	1:    true,
	2:    true,
	4:    true,
	17:   true,
	32:   true,
	341:  true,
	613:  true,
	9007: true,
}

var retryableSubcodes = map[int]bool{
	2207001: true,
	2207027: true,
	2207032: true,
}

const (
	codeInvalidParameter = 100
	codeInvalidToken     = 190
	codePermission       = 10
)

// Classify normalizes a Graph API error response.
func Classify(platform models.Platform, status int, body []byte) *publisher.Error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return publisher.ClassifyHTTP(platform, status, body)
	}
	return FromAPIError(platform, status, env.Error)
}

func FromAPIError(platform models.Platform, status int, e *APIError) *publisher.Error {
	pe := &publisher.Error{
		Platform: platform,
		Code:     strconv.Itoa(e.Code),
		Type:     e.Type,
		Message:  e.Message,
	}
	if e.Subcode != 0 {
		pe.Subcode = strconv.Itoa(e.Subcode)
	}
	if e.UserMessage != "" {
		pe.With("user_message", e.UserMessage)
	}
	if e.FBTraceID != "" {
		pe.With("fbtrace_id", e.FBTraceID)
	}

	switch {
	case e.IsTransient, retryableCodes[e.Code], retryableSubcodes[e.Subcode],
		status == http.StatusTooManyRequests, status >= 500:
		pe.Kind = publisher.KindTransient
		pe.Retryable = true
	case e.Code == codeInvalidToken, e.Code == codePermission, e.Code >= 200 && e.Code <= 299:
		pe.Kind = publisher.KindConfiguration
	default:
		pe.Kind = publisher.KindValidation
	}
	return pe
}

// Version joins a Graph base URL and API version.
func Version(baseURL, version string) string {
	if version == "" {
		return baseURL
	}
	return baseURL + "/" + version
}
