package budget

import "context"

type ctxKey struct{}

// WithContext attaches b to ctx so that retry sessions started further down
// the call chain share the work item's budget.
func WithContext(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the budget attached to ctx, or nil (unlimited).
func FromContext(ctx context.Context) *Budget {
	b, _ := ctx.Value(ctxKey{}).(*Budget)
	return b
}
