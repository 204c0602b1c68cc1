package apiv1

import (
	"context"

	"sales-crm-docgen/internal/infra/logging"
)

type ownerKey struct{}

// WithOwner records the authenticated caller. The id is also attached to
// request logs.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	ctx = context.WithValue(ctx, ownerKey{}, ownerID)
	return logging.WithOwnerID(ctx, ownerID)
}

// OwnerFrom returns the authenticated caller, or "" outside an authenticated route.
func OwnerFrom(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}
