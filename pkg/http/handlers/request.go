package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func errMissing(field string) error {
	return fmt.Errorf("%s is required", field)
}

func errInvalid(field, value string) error {
	return fmt.Errorf("invalid %s: %s", field, value)
}

func errExclusive(a, b string) error {
	return fmt.Errorf("%s and %s are mutually exclusive", a, b)
}
