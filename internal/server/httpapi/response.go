package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/gophgate/internal/common"
)

const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err. Internal errors are logged; outside production
// their text is added as details.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)

	if apiErr.Status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		if !s.config.IsProduction() && errors.Is(err, common.ErrorInternal) {
			c := *apiErr
			c.Details = err.Error()
			apiErr = &c
		}
	}

	writeJSON(w, apiErr.Status, apiErr)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into v and validates it. A body that fails
// validation yields a *common.ValidationError carrying message.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v any, message string) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &common.ValidationError{Field: typeErr.Field, Message: message}
		}
		return errBadBody
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &common.ValidationError{Field: verrs[0].Field(), Message: message}
		}
		return &common.ValidationError{Message: message}
	}
	return nil
}
