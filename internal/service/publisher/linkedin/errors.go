package linkedin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

type apiError struct {
	Message          string `json:"message"`
	ServiceErrorCode int    `json:"serviceErrorCode"`
	Code             string `json:"code"`
	Status           int    `json:"status"`
}

const serviceCodeInvalidToken = 65600

// typeDuplicate marks a 409: LinkedIn already holds an identical share.
const typeDuplicate = "DUPLICATE_POST"

func classify(platform models.Platform, status int, body []byte) *publisher.Error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || (e.Message == "" && e.Code == "") {
		return publisher.ClassifyHTTP(platform, status, body)
	}
	pe := publisher.ClassifyHTTP(platform, status, nil)
	pe.Message = e.Message
	pe.Type = e.Code
	if e.ServiceErrorCode != 0 {
		pe.Code = strconv.Itoa(e.ServiceErrorCode)
	}
	switch {
	case e.ServiceErrorCode == serviceCodeInvalidToken || e.Code == "ACCESS_DENIED" || e.Code == "REVOKED_ACCESS_TOKEN":
		pe.Kind = publisher.KindConfiguration
		pe.Retryable = false
	case status == http.StatusConflict:
		pe.Kind = publisher.KindValidation
		pe.Type = typeDuplicate
		pe.Retryable = false
	}
	return pe
}
