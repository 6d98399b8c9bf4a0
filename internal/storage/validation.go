package storage

import (
	"context"

	"github.com/ledgerhound/ledgerhound/internal/common"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return common.Validationf("context must not be nil")
	}
	return nil
}

func validateString(value, name string) error {
	if value == "" {
		return common.Validationf("%s must not be empty", name)
	}
	return nil
}
