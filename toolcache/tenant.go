package toolcache

import "context"

type tenantKey struct{}

// WithTenant returns a context carrying the tenant ID of the caller.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFrom returns the tenant ID carried by ctx, or "" (the cache's
// default tenant) when none was set.
func TenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}
