package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/apperr"
	"github.com/tungvs/charity-delivery/internal/auth"
)

// callerMiddleware turns the gateway identity headers into an auth.Caller.
// Requests without a valid identity never reach a handler.
func (s *Server) callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-Id"))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "missing or invalid X-User-Id header")
			return
		}
		role := auth.Role(r.Header.Get("X-User-Role"))
		if !role.Valid() {
			respondError(w, http.StatusUnauthorized, "missing or invalid X-User-Role header")
			return
		}
		caller := auth.Caller{UserID: userID, Role: role}
		if raw := r.Header.Get("X-Branch-Id"); raw != "" {
			branchID, err := uuid.Parse(raw)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid X-Branch-Id header")
				return
			}
			caller.BranchID = &branchID
		}

		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrw := newResponseWriterWrapper(w)
		next.ServeHTTP(wrw, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrw.GetStatusCode()),
			zap.Duration("took", time.Since(start)))
	})
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged
// and reported as 500 without leaking internals.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, apperr.ErrAlreadyAccepted):
		respondError(w, http.StatusConflict, "route already accepted")
	case errors.Is(err, apperr.ErrRoutingUnavailable):
		respondError(w, http.StatusServiceUnavailable, "routing service unavailable")
	case apperr.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case apperr.IsInvalidTransition(err):
		respondError(w, http.StatusConflict, err.Error())
	case apperr.IsInsufficientStock(err):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("unhandled error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func callerOrAbort(w http.ResponseWriter, r *http.Request) (auth.Caller, bool) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "no caller identity")
	}
	return caller, ok
}
