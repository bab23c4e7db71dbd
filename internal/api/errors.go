package api

import (
	"errors"
	"net/http"

	"printwatch/internal/auth"
	"printwatch/internal/jobs"
	"printwatch/internal/printers"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, jobs.ErrPrinterNotFound),
		errors.Is(err, printers.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidProgress),
		errors.Is(err, jobs.ErrInvalidJob),
		errors.Is(err, printers.ErrInvalidPrinter),
		errors.Is(err, auth.ErrUserExists):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobClosed):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
