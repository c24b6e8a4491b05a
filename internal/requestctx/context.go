// Package requestctx carries request-scoped values set by the HTTP middleware:
// the authenticated tenant and the caller-visible request id.
package requestctx

import "context"

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	requestIDKey contextKey = "request_id"
)

// SetTenantID stores tenant_id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID returns the tenant_id from context, or "" if not set.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// SetRequestID stores the request id in the context.
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id from context, or "" if not set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Actor names the caller for audit fields such as created_by. It falls back
// to "system" outside an authenticated request (CLI, jobs).
func Actor(ctx context.Context) string {
	if t := TenantID(ctx); t != "" {
		return t
	}
	return "system"
}
