package retry

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// MarkTransient wraps err so DefaultClassifier treats it as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &models.TransientProvisioningError{Err: err}
}

// DefaultClassifier treats marked errors, timeouts, network errors and
// throttling or not-yet-visible responses from Azure as transient.
func DefaultClassifier(err error) Class {
	if err == nil {
		return Transient
	}
	var marked *models.TransientProvisioningError
	if errors.As(err, &marked) {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Fatal
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusNotFound,
		code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return Transient
	}
	return Fatal
}
