package api

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/adindex/adindex/internal/apierr"
	"github.com/adindex/adindex/internal/store"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validator10() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// parseAdQueryID parses the ad_query_id query argument, which must
// parse as an integer.
func parseAdQueryID(raw string) (int64, error) {
	if raw == "" {
		return 0, apierr.DataArgument("ad_query_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.DataArgument("ad_query_id must be an integer")
	}
	return id, nil
}

// parseFilters decodes the filters query argument, which must be a JSON
// array of strings.
func parseFilters(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var filters []string
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, apierr.DataArgument("filters must be a JSON array of strings")
	}
	return filters, nil
}

// parseSubscribed decodes the subscribed query argument, which must
// decode to a JSON boolean.
func parseSubscribed(raw string) (bool, error) {
	var subscribed bool
	if err := json.Unmarshal([]byte(raw), &subscribed); err != nil {
		return false, apierr.DataArgument("subscribed must be a JSON boolean")
	}
	return subscribed, nil
}

// pushSubRequest is the JSON shape a push_sub argument must decode to
// when it is not the literal "null".
type pushSubRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		Auth   string `json:"auth" validate:"required"`
		P256dh string `json:"p256dh" validate:"required"`
	} `json:"keys" validate:"required"`
}

// parsePushSub decodes the push_sub argument: the JSON literal "null"
// normalizes to a nil result (meaning
// "clear the subscription"); an empty string is not a valid request and
// is rejected rather than silently treated as "no change"; anything else
// must decode to an object with a string endpoint and keys.auth/p256dh.
func parsePushSub(raw string) (*store.PushSubscription, error) {
	if raw == "" {
		return nil, apierr.DataArgument("push_sub is required")
	}
	if raw == "null" {
		return nil, nil
	}

	var req pushSubRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, apierr.DataArgument("push_sub must be JSON null or a subscription object")
	}
	if err := validator10().Struct(&req); err != nil {
		return nil, apierr.DataArgument("push_sub is missing required fields")
	}

	sub := &store.PushSubscription{Endpoint: req.Endpoint}
	sub.Keys.Auth = req.Keys.Auth
	sub.Keys.P256dh = req.Keys.P256dh
	return sub, nil
}
