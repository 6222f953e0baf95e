package logging

import "context"

type fieldsKey struct{}

// WithFields returns a context whose log lines carry the given key-value
// pairs in addition to any already attached.
func WithFields(ctx context.Context, args ...any) context.Context {
	prev := FieldsFrom(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFrom returns the key-value pairs attached with WithFields.
func FieldsFrom(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).([]any)
	return f
}
