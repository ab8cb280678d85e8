package llmgateway

import "errors"

var errNoJSONObject = errors.New("llmgateway: no JSON object found in response")
