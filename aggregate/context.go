package aggregate

import "context"

type ctxKey int

const (
	metaKey ctxKey = iota
	causationKey
	correlationKey
)

// CtxWithMeta returns a context carrying metadata that Store.Save attaches
// to every saved event
func CtxWithMeta(ctx context.Context, meta map[string]string) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

// CtxWithCausationID returns a context carrying the causation event id
func CtxWithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CtxWithCorrelationID returns a context carrying the correlation event id
func CtxWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func metadataFrom(ctx context.Context) Metadata {
	meta, _ := ctx.Value(metaKey).(map[string]string)
	causation, _ := ctx.Value(causationKey).(string)
	correlation, _ := ctx.Value(correlationKey).(string)

	return Metadata{
		Meta:               meta,
		CausationEventID:   causation,
		CorrelationEventID: correlation,
	}
}
