package tiktok

import (
	"encoding/json"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

// apiError is the error object present on every TikTok response. Code "ok" means success.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

const codeOK = "ok"

var retryableCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"internal_error":      true,
}

var configurationCodes = map[string]bool{
	"access_token_invalid":    true,
	"scope_not_authorized":    true,
	"scope_permission_missed": true,
}

func classify(platform models.Platform, status int, body []byte) *publisher.Error {
	var env struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		return publisher.ClassifyHTTP(platform, status, body)
	}
	pe := fromAPIError(platform, env.Error)
	if status == 429 || status >= 500 {
		pe.Kind = publisher.KindTransient
		pe.Retryable = true
	}
	return pe
}

func fromAPIError(platform models.Platform, e apiError) *publisher.Error {
	pe := &publisher.Error{Platform: platform, Code: e.Code, Message: e.Message, Kind: publisher.KindValidation}
	if e.LogID != "" {
		pe.With("log_id", e.LogID)
	}
	switch {
	case retryableCodes[e.Code]:
		pe.Kind = publisher.KindTransient
		pe.Retryable = true
	case configurationCodes[e.Code]:
		pe.Kind = publisher.KindConfiguration
	}
	return pe
}
