package x

import (
	"encoding/json"
	"strconv"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

// v1.1 style {"errors":[{"code":88,"message":"..."}]} and v2 problem documents.
type errorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

var (
	retryableCodes = map[int]bool{88: true, 130: true, 131: true, 185: true}
	authCodes      = map[int]bool{32: true, 89: true, 99: true, 135: true, 215: true, 326: true}
)

// codeInvalidMedia flags media ids the tweet endpoint refused; a fresh upload may succeed.
const codeInvalidMedia = 324

func classify(platform models.Platform, status int, body []byte) *publisher.Error {
	pe := publisher.ClassifyHTTP(platform, status, body)
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return pe
	}
	if len(e.Errors) > 0 {
		first := e.Errors[0]
		pe.Code = strconv.Itoa(first.Code)
		pe.Message = first.Message
		switch {
		case retryableCodes[first.Code]:
			pe.Kind = publisher.KindTransient
			pe.Retryable = true
		case authCodes[first.Code]:
			pe.Kind = publisher.KindConfiguration
			pe.Retryable = false
		}
		return pe
	}
	if e.Title != "" || e.Detail != "" {
		pe.Type = e.Type
		pe.Message = e.Title
		if e.Detail != "" {
			pe.Message = e.Title + ": " + e.Detail
		}
	}
	return pe
}
