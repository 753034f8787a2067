// internal/httpx/httpx.go
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/logging"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorBody is the error half of every failed response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a domain error kind onto an HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// WriteError renders err. Domain errors keep their code; anything else is
// logged and reported as INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := domain.AsError(err); ok {
		WriteJSON(w, StatusFor(de.Kind), errorEnvelope{Error: ErrorBody{
			Code:    string(de.Code),
			Message: de.Message,
			Details: de.Details,
		}})
		return
	}
	logging.FromContext(r.Context()).Error("request failed", "error", err, "path", r.URL.Path)
	WriteJSON(w, http.StatusInternalServerError, errorEnvelope{Error: ErrorBody{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	}})
}

// WriteUnauthorized asks the client for Basic credentials.
func WriteUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="libranexus"`)
	WriteJSON(w, http.StatusUnauthorized, errorEnvelope{Error: ErrorBody{Code: "UNAUTHORIZED", Message: msg}})
}

// Decode reads a JSON body into dst and validates its struct tags.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	return Validate(dst)
}

// Validate checks struct tags and reports failures as a VALIDATION_ERROR with
// one detail per field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.Validation(err.Error())
	}
	de := domain.Validation("request validation failed")
	for _, fe := range fieldErrs {
		de.With(jsonName(fe), fe.Tag())
	}
	return de
}

func jsonName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.Namespace()
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// URLParamUUID parses a chi path parameter as a UUID.
func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Validation(fmt.Sprintf("invalid %s %q", key, raw)).With(key, "uuid")
	}
	return id, nil
}

// Principal is the authenticated caller.
type Principal struct {
	ID   uuid.UUID
	Role domain.Role
}

// IsLibrarian reports whether the caller may run librarian operations.
func (p Principal) IsLibrarian() bool {
	return p.Role == domain.RoleLibrarian
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireLibrarian rejects callers without the librarian role.
func RequireLibrarian(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			WriteUnauthorized(w, "authentication required")
			return
		}
		if !p.IsLibrarian() {
			WriteError(w, r, domain.Forbidden("librarian role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Caller returns the authenticated caller or writes a 401 and reports false.
func Caller(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "authentication required")
	}
	return p, ok
}
